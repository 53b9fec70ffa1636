package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes dead-code analysis over the Model Context Protocol.
type Server struct {
	server *mcp.Server
}

// NewServer builds an MCP server with the analysis tools and workflow
// prompts registered. An empty version reports as "dev".
func NewServer(version string) *Server {
	if version == "" {
		version = "dev"
	}
	impl := &mcp.Implementation{Name: "vestige", Version: version}

	s := &Server{server: mcp.NewServer(impl, nil)}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Run serves MCP requests over stdio until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{Name: "analyze_deadcode", Description: describeDeadcode()}, handleAnalyzeDeadcode)
	mcp.AddTool(s.server, &mcp.Tool{Name: "explain_symbol", Description: describeExplainSymbol()}, handleExplainSymbol)
	mcp.AddTool(s.server, &mcp.Tool{Name: "graph_stats", Description: describeGraphStats()}, handleGraphStats)
}
