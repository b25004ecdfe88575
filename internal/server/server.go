package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ironsheep/panorama-tools-mcp/internal/imaging"
	"github.com/ironsheep/panorama-tools-mcp/internal/stitch"
	"github.com/ironsheep/panorama-tools-mcp/internal/visualize"
)

// ServerName is reported in the initialize handshake.
const ServerName = "panorama-tools-mcp"

// maxRequestBytes bounds a single JSON-RPC line.
const maxRequestBytes = 16 * 1024 * 1024

// Server handles MCP protocol communication
type Server struct {
	cache     *imaging.ImageCache
	logger    *slog.Logger
	version   string
	stitchCfg stitch.Config
	visCfg    visualize.Config
	topK      int
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

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger for protocol and tool events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithStitchConfig sets the defaults for panorama_stitch. Per-call
// arguments override them.
func WithStitchConfig(cfg stitch.Config) Option {
	return func(s *Server) {
		s.stitchCfg = cfg
	}
}

// WithVisualizeConfig sets the defaults for panorama_visualize and
// panorama_features.
func WithVisualizeConfig(cfg visualize.Config, topK int) Option {
	return func(s *Server) {
		s.visCfg = cfg
		s.topK = topK
	}
}

// New creates a new MCP server instance
func New(opts ...Option) *Server {
	s := &Server{
		cache:     imaging.NewImageCache(),
		logger:    slog.Default(),
		version:   "0.1.0",
		stitchCfg: stitch.DefaultConfig(),
		visCfg:    visualize.DefaultConfig(),
		topK:      visualize.DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the MCP server, reading from stdin and writing to stdout
func (s *Server) Run() error {
	return s.Serve(context.Background(), os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC request per line from r and writes responses to
// w until r is exhausted or ctx is cancelled. Requests are handled in
// order; a long stitch blocks the requests behind it.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxRequestBytes)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("failed to parse request", "error", err)
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.logger.Error("failed to encode response", "method", req.Method, "error", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
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
				"name":    ServerName,
				"version": s.version,
			},
		},
	}
}
