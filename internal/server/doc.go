// Package server implements the MCP (Model Context Protocol) server for the photo editor.
//
// This package provides a JSON-RPC 2.0 server that drives a single edit
// session over the MCP protocol. A client selects a photo, enters one editing
// stage at a time, previews and applies it, and exports the result.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Image:
//   - image_select: Make a photo the current image
//   - image_info: Dimensions and optionally an encoded copy
//   - image_sample_colors: Read pixel colors
//   - image_export: Save to the photo library and/or share inline
//
// Session:
//   - edit_begin: Enter filters, geometry, drawing or text
//   - edit_cancel: Leave the active stage without changes
//   - edit_status: Current stage and pending composite
//
// Stages:
//   - filter_set, filter_preview, filter_apply
//   - geometry_gesture, geometry_gesture_end, geometry_reset, geometry_apply
//   - draw_pen, draw_stroke, draw_clear, draw_apply
//   - text_move, text_style, text_apply
//
// Accounts:
//   - auth_sign_up, auth_sign_in, auth_sign_in_token, auth_sign_out
//   - auth_verify_email, auth_resend_verification
//   - auth_reset_password, auth_confirm_reset, auth_status
//
// Only one stage is active at a time. Calling a stage tool outside its stage
// fails with a tool execution error. Drawing and text composites run in the
// background; a composite that finishes after its stage was left is dropped.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(cfg, server.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
