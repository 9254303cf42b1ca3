// ABOUTME: MCP server command for feedradar CLI
// ABOUTME: Starts stdio-based MCP server for AI agent integration

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agents",
	Long: `Start the Model Context Protocol (MCP) server on stdio.

This allows AI agents like Claude to list and fetch feeds, read items,
mark them read or starred, and manage subscriptions through structured
tools.

The server communicates via JSON-RPC on stdin/stdout; logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := mcp.NewServer(lib, Version)
		if err := server.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
