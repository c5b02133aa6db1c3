package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/ironsheep/photo-edit-mcp/internal/auth"
	"github.com/ironsheep/photo-edit-mcp/internal/config"
	"github.com/ironsheep/photo-edit-mcp/internal/edit"
	"github.com/ironsheep/photo-edit-mcp/internal/export"
	"github.com/ironsheep/photo-edit-mcp/internal/imaging"
)

// Version is reported in the initialize handshake.
var Version = "0.1.0"

// Server handles MCP protocol communication
type Server struct {
	cache    *imaging.ImageCache
	session  *edit.Session
	accounts *auth.Manager

	// Guarded by mu; replaced on config reload.
	mu             sync.Mutex
	library        *export.PhotoLibrary
	previewMaxSide int

	// Last background composite started by draw_apply or text_apply.
	task *edit.Task
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPNotification represents an outgoing notification (no ID)
type MCPNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Options carry the collaborators that are not part of the configuration.
type Options struct {
	// Logger receives edit session and account lifecycle logging. Nil
	// discards it.
	Logger *log.Logger
	// Mailer delivers verification and reset codes. Nil writes them to the
	// standard logger.
	Mailer auth.Mailer
}

// New creates a new MCP server instance from a validated configuration.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	fonts, err := cfg.Fonts()
	if err != nil {
		return nil, err
	}

	authOpts := cfg.AuthOptions()
	authOpts.Logger = opts.Logger
	authOpts.Mailer = opts.Mailer
	if authOpts.Mailer == nil {
		authOpts.Mailer = auth.LogMailer{Logger: log.Default()}
	}
	accounts := auth.NewManager(authOpts)

	sessionOpts := []edit.Option{
		edit.WithSettings(cfg.Settings()),
		edit.WithFonts(fonts),
	}
	if opts.Logger != nil {
		sessionOpts = append(sessionOpts, edit.WithLogger(opts.Logger))
	}
	if cfg.Auth.RequireSignIn {
		sessionOpts = append(sessionOpts, edit.WithGate(accounts))
	}

	s := &Server{
		cache:    imaging.NewImageCache(),
		session:  edit.NewSession(sessionOpts...),
		accounts: accounts,
	}
	s.applyLibrary(cfg)
	return s, nil
}

// Reload applies a reloaded configuration. Stage defaults take effect at
// the next edit_begin; fonts and auth settings need a restart.
func (s *Server) Reload(cfg *config.Config) {
	s.session.SetSettings(cfg.Settings())
	s.applyLibrary(cfg)
	log.Printf("Configuration reloaded")
}

func (s *Server) applyLibrary(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.library = &export.PhotoLibrary{
		Dir:     cfg.Library.Dir,
		Format:  cfg.Library.Format,
		Quality: cfg.Library.Quality,
	}
	s.previewMaxSide = cfg.Editor.PreviewMaxSide
}

// Run starts the MCP server, reading from stdin and writing to stdout
func (s *Server) Run() error {
	return s.Serve(os.Stdin, os.Stdout)
}

// Serve processes newline-delimited JSON-RPC requests from r until EOF,
// writing responses to w.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Inline images make requests large
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 64*1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			log.Printf("Failed to parse request: %v", err)
			continue
		}

		resp := s.handleRequest(&req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				log.Printf("Failed to encode response: %v", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "photo-edit-mcp",
				"version": Version,
			},
		},
	}
}
