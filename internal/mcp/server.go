// ABOUTME: MCP server implementation for feedradar
// ABOUTME: Provides tools, resources, and prompts for AI agents to read and triage feeds

package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/harper/feedradar/internal/library"
)

// Server wraps the MCP server with the feed library it exposes.
type Server struct {
	mcpServer *server.MCPServer
	lib       *library.Library
}

// NewServer creates a new MCP server instance.
func NewServer(lib *library.Library, version string) *Server {
	s := &Server{lib: lib}

	s.mcpServer = server.NewMCPServer(
		"feedradar",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
