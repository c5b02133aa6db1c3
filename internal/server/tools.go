package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var encodeProperties = map[string]interface{}{
	"format": map[string]interface{}{
		"type":        "string",
		"enum":        []string{"png", "jpeg"},
		"description": "Output format. Default png",
	},
	"max_side": map[string]interface{}{
		"type":        "integer",
		"description": "Downsize so neither side exceeds this many pixels. Defaults to the configured preview size; 0 returns native size",
	},
	"quality": map[string]interface{}{
		"type":        "integer",
		"description": "JPEG quality 1-100. Default 90",
	},
}

var applyProperties = map[string]interface{}{
	"wait": map[string]interface{}{
		"type":        "boolean",
		"description": "Block until the composite is committed. Default true; poll edit_status otherwise",
		"default":     true,
	},
	"timeout_ms": map[string]interface{}{
		"type":        "integer",
		"description": "Longest wait in milliseconds before reporting the composite as pending. Default 30000",
	},
}

func withProperties(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Image
		{
			Name:        "image_select",
			Description: "Pick the photo to edit, from a file or inline base64 data. EXIF orientation is applied. Only allowed while no stage is active.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a PNG, JPEG, GIF, BMP or TIFF file",
				},
				"image_base64": map[string]interface{}{
					"type":        "string",
					"description": "Base64 image data or a data URL, instead of path",
				},
			}),
		},
		{
			Name:        "image_info",
			Description: "Describe the current image and session, optionally returning the image itself as base64.",
			InputSchema: objectSchema(withProperties(encodeProperties, map[string]interface{}{
				"include_image": map[string]interface{}{
					"type":        "boolean",
					"description": "Return the current image encoded as base64",
				},
			})),
		},
		{
			Name:        "image_sample_colors",
			Description: "Sample pixel colors of the current image and/or extract its dominant colors. Use it to check what an edit produced.",
			InputSchema: objectSchema(map[string]interface{}{
				"points": map[string]interface{}{
					"type":        "array",
					"description": "Pixel coordinates in image space to sample",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"x":     map[string]interface{}{"type": "integer"},
							"y":     map[string]interface{}{"type": "integer"},
							"label": map[string]interface{}{"type": "string"},
						},
						"required": []string{"x", "y"},
					},
				},
				"dominant": map[string]interface{}{
					"type":        "integer",
					"description": "Number of dominant colors to return",
				},
			}),
		},
		{
			Name:        "image_export",
			Description: "Export the current image to the photo library and/or as a share payload.",
			InputSchema: objectSchema(withProperties(encodeProperties, map[string]interface{}{
				"destinations": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string", "enum": []string{"library", "share"}},
					"description": "Where to export. Default [\"library\"]",
				},
			})),
		},

		// Session
		{
			Name:        "edit_begin",
			Description: "Begin an editing stage over the current image. Only one stage can be active; edits are not applied until the stage's apply tool is called.",
			InputSchema: objectSchema(map[string]interface{}{
				"stage": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"filter", "geometry", "drawing", "text"},
					"description": "Stage to begin",
				},
			}, "stage"),
		},
		{
			Name:        "edit_cancel",
			Description: "Cancel the active stage. The current image is kept unchanged and any running composite is discarded.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "edit_status",
			Description: "Report the session mode, current image, active stage state and the last drawing/text composite.",
			InputSchema: objectSchema(map[string]interface{}{
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "Wait for a running composite to finish first",
				},
				"timeout_ms": map[string]interface{}{
					"type":        "integer",
					"description": "Longest wait in milliseconds. Default 30000",
				},
			}),
		},

		// Filter stage
		{
			Name:        "filter_set",
			Description: "Select the filter and/or its intensity. Intensity is clamped to [0,1] and only accepted by Sepia, Blur, Vignette and Pixelate.",
			InputSchema: objectSchema(map[string]interface{}{
				"filter": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"Sepia", "Noir", "Mono", "Chrome", "Blur", "Invert", "Vignette", "Pixelate"},
					"description": "Filter kind (case-insensitive)",
				},
				"intensity": map[string]interface{}{
					"type":        "number",
					"description": "Filter intensity in [0,1]",
				},
			}),
		},
		{
			Name:        "filter_preview",
			Description: "Render the selected filter over the stage's source image and return it as base64. The current image is not changed.",
			InputSchema: objectSchema(encodeProperties),
		},
		{
			Name:        "filter_apply",
			Description: "Commit the filtered image and end the filter stage.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},

		// Geometry stage
		{
			Name:        "geometry_gesture",
			Description: "Update the live rotate and/or pinch gesture. Values are deltas relative to the committed transform.",
			InputSchema: objectSchema(map[string]interface{}{
				"rotation": map[string]interface{}{
					"type":        "number",
					"description": "Live rotation in degrees, clockwise",
				},
				"scale": map[string]interface{}{
					"type":        "number",
					"description": "Live scale factor, > 0",
				},
			}),
		},
		{
			Name:        "geometry_gesture_end",
			Description: "End the rotate and/or pinch gesture, folding the live values into the committed transform.",
			InputSchema: objectSchema(map[string]interface{}{
				"gesture": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"rotation", "scale", "both"},
					"description": "Gesture to end. Default both",
				},
			}),
		},
		{
			Name:        "geometry_reset",
			Description: "Reset the committed transform to no rotation and scale 1.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "geometry_apply",
			Description: "Rasterize the committed transform into a new image (canvas = source size times scale) and end the geometry stage.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},

		// Drawing stage
		{
			Name:        "draw_pen",
			Description: "Set the pen used by subsequent strokes.",
			InputSchema: objectSchema(map[string]interface{}{
				"width": map[string]interface{}{
					"type":        "number",
					"description": "Stroke width in viewport pixels",
				},
				"color": map[string]interface{}{
					"type":        "string",
					"description": "Color name (black, red, green, blue, yellow, white) or hex (#rrggbb)",
				},
			}),
		},
		{
			Name:        "draw_stroke",
			Description: "Add one free-hand stroke. Points are in viewport coordinates; the parts outside the displayed image are ignored.",
			InputSchema: objectSchema(map[string]interface{}{
				"points": map[string]interface{}{
					"type":        "array",
					"description": "Stroke path in viewport pixels",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"x": map[string]interface{}{"type": "number"},
							"y": map[string]interface{}{"type": "number"},
						},
						"required": []string{"x", "y"},
					},
				},
			}, "points"),
		},
		{
			Name:        "draw_clear",
			Description: "Remove all strokes drawn in this stage.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "draw_apply",
			Description: "Composite the strokes into the image at native resolution and end the drawing stage.",
			InputSchema: objectSchema(applyProperties),
		},

		// Text stage
		{
			Name:        "text_move",
			Description: "Move the text box center. The box is kept inside the displayed image.",
			InputSchema: objectSchema(map[string]interface{}{
				"x": map[string]interface{}{
					"type":        "number",
					"description": "Center X in viewport pixels",
				},
				"y": map[string]interface{}{
					"type":        "number",
					"description": "Center Y in viewport pixels",
				},
			}, "x", "y"),
		},
		{
			Name:        "text_style",
			Description: "Change the overlay text, font, size or color.",
			InputSchema: objectSchema(map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Overlay text; may contain newlines",
				},
				"font": map[string]interface{}{
					"type":        "string",
					"description": "Font family, e.g. Go Bold, Helvetica, Courier",
				},
				"size": map[string]interface{}{
					"type":        "number",
					"description": "Font size in viewport pixels, clamped to [20,100]",
				},
				"color": map[string]interface{}{
					"type":        "string",
					"description": "Color name or hex (#rrggbb)",
				},
			}),
		},
		{
			Name:        "text_apply",
			Description: "Render the text into the image and end the text stage. Images larger than the configured resolution are downscaled first.",
			InputSchema: objectSchema(applyProperties),
		},

		// Accounts
		{
			Name:        "auth_sign_up",
			Description: "Create an email/password account. A verification code is sent; the session opens after auth_verify_email.",
			InputSchema: objectSchema(map[string]interface{}{
				"email":            map[string]interface{}{"type": "string"},
				"password":         map[string]interface{}{"type": "string"},
				"confirm_password": map[string]interface{}{"type": "string"},
			}, "email", "password", "confirm_password"),
		},
		{
			Name:        "auth_sign_in",
			Description: "Sign in with email and password.",
			InputSchema: objectSchema(map[string]interface{}{
				"email":    map[string]interface{}{"type": "string"},
				"password": map[string]interface{}{"type": "string"},
			}, "email", "password"),
		},
		{
			Name:        "auth_sign_in_token",
			Description: "Sign in with an identity-provider token.",
			InputSchema: objectSchema(map[string]interface{}{
				"token": map[string]interface{}{"type": "string"},
			}, "token"),
		},
		{
			Name:        "auth_sign_out",
			Description: "Sign out. Any active stage is cancelled.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "auth_verify_email",
			Description: "Verify an email address with the code that was sent to it, then sign in.",
			InputSchema: objectSchema(map[string]interface{}{
				"email": map[string]interface{}{"type": "string"},
				"code":  map[string]interface{}{"type": "string"},
			}, "email", "code"),
		},
		{
			Name:        "auth_resend_verification",
			Description: "Send a new verification code to the current user.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "auth_reset_password",
			Description: "Send a password reset code.",
			InputSchema: objectSchema(map[string]interface{}{
				"email": map[string]interface{}{"type": "string"},
			}, "email"),
		},
		{
			Name:        "auth_confirm_reset",
			Description: "Set a new password with a reset code.",
			InputSchema: objectSchema(map[string]interface{}{
				"email":            map[string]interface{}{"type": "string"},
				"code":             map[string]interface{}{"type": "string"},
				"password":         map[string]interface{}{"type": "string"},
				"confirm_password": map[string]interface{}{"type": "string"},
			}, "email", "code", "password", "confirm_password"),
		},
		{
			Name:        "auth_status",
			Description: "Report the signed-in user and pending verification or reset state.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
