// ABOUTME: MCP prompt definitions and handlers
// ABOUTME: Workflow templates that walk an agent through triaging unread items

package mcp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/feedradar/internal/models"
)

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(
		mcp.Prompt{
			Name:        "catch-up",
			Description: "Triage the unread backlog: skim, star what matters, mark the rest read",
			Arguments: []mcp.PromptArgument{
				{
					Name:        "days",
					Description: "How many days back to triage (default: 7)",
					Required:    false,
				},
			},
		},
		s.handleCatchUp,
	)
}

func (s *Server) handleCatchUp(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	days := 7
	if d, ok := req.Params.Arguments["days"]; ok && d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("days must be a positive integer, got %q", d)
		}
		days = n
	}

	unread, err := s.lib.Count(ctx, models.Unread())
	if err != nil {
		return nil, fmt.Errorf("failed to count unread items: %w", err)
	}

	text := fmt.Sprintf(`# Catch Up on Unread Items

There are %[1]d unread items. Work through the last %[2]d days.

## Step 1: Assess
Read %[3]s for the per-feed unread breakdown. Note which feeds are high volume.

## Step 2: Refresh
Call fetch_feeds so the backlog is current. Read and starred flags are kept.

## Step 3: Skim
Call list_items with unread=true and since=%[4]dh.
Scan titles. For anything worth keeping call set_starred. For anything worth reading now call get_item, with extract=true when the item only links to the article.

## Step 4: Clear
Call mark_all_read with before=%[4]dh for the old tail, or with feed=<url> for noisy feeds.

## Step 5: Report
Summarize what was starred and why, and suggest feeds to remove_feed if they produced nothing useful.
`, unread, days, uriStats, days*24)

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Catch-up workflow for %d days of unread items", days),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: text,
				},
			},
		},
	}, nil
}
