package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/dshills/devctx/internal/config"
	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/engine"
)

const (
	// ServerName is the MCP server name
	ServerName = "devctx"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	engine   *engine.Engine
	embedder embedder.Embedder
	cfg      config.Specification
}

// NewServer creates a new MCP server instance. The embedder is shared by
// builds and queries so its cache serves both.
func NewServer(eng *engine.Engine, emb embedder.Embedder, cfg config.Specification) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:      mcpServer,
		engine:   eng,
		embedder: emb,
		cfg:      cfg,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol over in and out until ctx is cancelled or
// the input closes
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	log.Info().Str("server", ServerName).Str("version", ServerVersion).Msg("MCP server ready, listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexWorkspaceTool(), s.handleIndexWorkspace)
	s.mcp.AddTool(retrieveContextTool(), s.handleRetrieveContext)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
}
