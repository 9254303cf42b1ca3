// ABOUTME: MCP tool definitions and handlers for feed and item operations
// ABOUTME: Lets agents manage subscriptions, fetch feeds, and read, star and triage items

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/feedradar/internal/content"
	"github.com/harper/feedradar/internal/library"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/storage"
	"github.com/harper/feedradar/internal/timeutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// summaryLength bounds the plain-text preview in item listings.
	summaryLength = 200
)

// Type definitions for input/output structures

type FeedOutput struct {
	URL    string  `json:"url"`
	Title  *string `json:"title,omitempty"`
	Icon   *string `json:"icon,omitempty"`
	Unread int     `json:"unread"`
}

type ListFeedsOutput struct {
	Feeds []FeedOutput `json:"feeds"`
	Count int          `json:"count"`
}

type FeedURLInput struct {
	URL string `json:"url"`
}

type RemoveFeedOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

type FetchFeedsInput struct {
	URLs []string `json:"urls,omitempty"`
}

type FetchFeedsOutput struct {
	Feeds   int      `json:"feeds"`
	Updated int      `json:"updated"`
	Changed int      `json:"changed"`
	Writes  int      `json:"writes"`
	Failed  []string `json:"failed,omitempty"`
}

type ListItemsInput struct {
	Feed    *string `json:"feed,omitempty"`
	Unread  *bool   `json:"unread,omitempty"`
	Starred *bool   `json:"starred,omitempty"`
	Since   *string `json:"since,omitempty"`
	Limit   *int    `json:"limit,omitempty"`
	Offset  *int    `json:"offset,omitempty"`
}

type ItemOutput struct {
	ID        string     `json:"id"`
	Feed      string     `json:"feed"`
	Title     string     `json:"title"`
	URL       *string    `json:"url,omitempty"`
	Author    *string    `json:"author,omitempty"`
	Time      *time.Time `json:"time,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	IsRead    bool       `json:"is_read"`
	IsStarred bool       `json:"is_starred"`
}

type ListItemsOutput struct {
	Items []ItemOutput `json:"items"`
	Count int          `json:"count"`
	Total int          `json:"total"`
}

type GetItemInput struct {
	ID      string `json:"id"`
	Extract bool   `json:"extract,omitempty"`
}

type AttachmentOutput struct {
	URL   string  `json:"url"`
	MIME  *string `json:"mime,omitempty"`
	Title *string `json:"title,omitempty"`
	Kind  string  `json:"kind"`
}

type GetItemOutput struct {
	ItemOutput
	Content     *string            `json:"content,omitempty"`
	Extracted   *string            `json:"extracted,omitempty"`
	Attachments []AttachmentOutput `json:"attachments,omitempty"`
}

type SetFlagInput struct {
	ID    string `json:"id"`
	Value *bool  `json:"value,omitempty"`
}

type MarkAllReadInput struct {
	Feed   *string `json:"feed,omitempty"`
	Before *string `json:"before,omitempty"`
}

type MarkAllReadOutput struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// Tool registration

func (s *Server) registerTools() {
	s.registerListFeedsTool()
	s.registerAddFeedTool()
	s.registerRemoveFeedTool()
	s.registerFetchFeedsTool()
	s.registerListItemsTool()
	s.registerGetItemTool()
	s.registerSetReadTool()
	s.registerSetStarredTool()
	s.registerMarkAllReadTool()
}

func (s *Server) registerListFeedsTool() {
	tool := mcp.Tool{
		Name:        "list_feeds",
		Description: "List every subscribed RSS, Atom or JSON feed with its title and unread count. Use this before other operations to learn feed URLs.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
	s.mcpServer.AddTool(tool, s.handleListFeeds)
}

func (s *Server) registerAddFeedTool() {
	tool := mcp.Tool{
		Name:        "add_feed",
		Description: "Subscribe to a feed and fetch it immediately. The title and icon come from the feed document. Subscriptions are pushed to other devices when sync is enabled.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The feed URL (RSS, Atom or JSON Feed). Example: 'https://example.com/feed.xml'",
				},
			},
			Required: []string{"url"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleAddFeed)
}

func (s *Server) registerRemoveFeedTool() {
	tool := mcp.Tool{
		Name:        "remove_feed",
		Description: "Unsubscribe from a feed. Its items, attachments, cached icon and preferences are deleted. This action cannot be undone.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The feed URL to remove. Must match exactly.",
				},
			},
			Required: []string{"url"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleRemoveFeed)
}

func (s *Server) registerFetchFeedsTool() {
	tool := mcp.Tool{
		Name:        "fetch_feeds",
		Description: "Download feeds and merge new or changed items. Uses ETag and Last-Modified so unchanged feeds cost one request and no writes. Read and starred flags are never overwritten.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"urls": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional feed URLs to fetch. If omitted, every feed is fetched.",
				},
			},
		},
	}
	s.mcpServer.AddTool(tool, s.handleFetchFeeds)
}

func (s *Server) registerListItemsTool() {
	tool := mcp.Tool{
		Name:        "list_items",
		Description: "List items newest first. Filter by feed, unread, starred, or a lower time bound. Returns ids for get_item, set_read and set_starred.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"feed": map[string]interface{}{
					"type":        "string",
					"description": "Only items of this feed URL.",
				},
				"unread": map[string]interface{}{
					"type":        "boolean",
					"description": "true for unread items only, false for read items only.",
				},
				"starred": map[string]interface{}{
					"type":        "boolean",
					"description": "true for starred items only, false for unstarred items only.",
				},
				"since": map[string]interface{}{
					"type":        "string",
					"description": "Only items published at or after: today, yesterday, week, month, a duration like 48h, or YYYY-MM-DD.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum items to return (default %d, max %d).", defaultListLimit, maxListLimit),
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Items to skip, for paging.",
				},
			},
		},
	}
	s.mcpServer.AddTool(tool, s.handleListItems)
}

func (s *Server) registerGetItemTool() {
	tool := mcp.Tool{
		Name:        "get_item",
		Description: "Get one item with its content and attachments. Set extract=true to download the linked article in reader mode; the result is cached.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "The item id from list_items.",
				},
				"extract": map[string]interface{}{
					"type":        "boolean",
					"description": "Also return the reader-mode text of the linked article.",
				},
			},
			Required: []string{"id"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleGetItem)
}

func (s *Server) registerSetReadTool() {
	s.mcpServer.AddTool(flagTool("set_read", "Mark an item read (value=true, the default) or unread (value=false)."), s.handleSetRead)
}

func (s *Server) registerSetStarredTool() {
	s.mcpServer.AddTool(flagTool("set_starred", "Star an item (value=true, the default) or unstar it (value=false)."), s.handleSetStarred)
}

func flagTool(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "The item id from list_items.",
				},
				"value": map[string]interface{}{
					"type":        "boolean",
					"description": "The new flag value. Defaults to true.",
				},
			},
			Required: []string{"id"},
		},
	}
}

func (s *Server) registerMarkAllReadTool() {
	tool := mcp.Tool{
		Name:        "mark_all_read",
		Description: "Mark every unread item as read, optionally only for one feed or only items published before a bound.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"feed": map[string]interface{}{
					"type":        "string",
					"description": "Only items of this feed URL.",
				},
				"before": map[string]interface{}{
					"type":        "string",
					"description": "Only items published before: today, yesterday, week, month, a duration like 48h, or YYYY-MM-DD.",
				},
			},
		},
	}
	s.mcpServer.AddTool(tool, s.handleMarkAllRead)
}

// Handlers

func (s *Server) handleListFeeds(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feeds, err := s.feedOutputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	return jsonResult(ListFeedsOutput{Feeds: feeds, Count: len(feeds)})
}

func (s *Server) handleAddFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input FeedURLInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := library.ValidateSource(input.URL); err != nil {
		return nil, err
	}
	if _, err := s.lib.Feed(ctx, input.URL); err == nil {
		return nil, fmt.Errorf("feed already exists: %s", input.URL)
	}

	if err := s.lib.AddFeed(ctx, input.URL, true); err != nil {
		return nil, fmt.Errorf("failed to add feed: %w", err)
	}
	feed, err := s.lib.Feed(ctx, input.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}
	unread, err := s.lib.Count(ctx, models.Filter{Feed: &input.URL}.OnlyUnread())
	if err != nil {
		return nil, fmt.Errorf("failed to count unread items: %w", err)
	}
	return jsonResult(FeedOutput{URL: feed.Source, Title: feed.Title, Icon: feed.Icon, Unread: unread})
}

func (s *Server) handleRemoveFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input FeedURLInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if err := s.lib.DeleteFeed(ctx, input.URL, true); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("feed not found: %s", input.URL)
		}
		return nil, fmt.Errorf("failed to remove feed: %w", err)
	}
	return jsonResult(RemoveFeedOutput{
		Success: true,
		Message: fmt.Sprintf("Removed feed %s", input.URL),
		URL:     input.URL,
	})
}

func (s *Server) handleFetchFeeds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input FetchFeedsInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	sources := input.URLs
	if len(sources) == 0 {
		feeds, err := s.lib.Feeds(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list feeds: %w", err)
		}
		for _, f := range feeds {
			sources = append(sources, f.Source)
		}
	}
	if len(sources) == 0 {
		return jsonResult(FetchFeedsOutput{})
	}

	report, err := s.lib.Fetch(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feeds: %w", err)
	}
	return jsonResult(FetchFeedsOutput{
		Feeds:   len(sources),
		Updated: report.Updated,
		Changed: report.Changed,
		Writes:  report.Writes,
		Failed:  report.Failed,
	})
}

func (s *Server) handleListItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ListItemsInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	limit := defaultListLimit
	if input.Limit != nil {
		if *input.Limit <= 0 {
			return nil, fmt.Errorf("limit must be positive, got %d", *input.Limit)
		}
		limit = min(*input.Limit, maxListLimit)
	}
	offset := 0
	if input.Offset != nil {
		if *input.Offset < 0 {
			return nil, fmt.Errorf("offset must be non-negative, got %d", *input.Offset)
		}
		offset = *input.Offset
	}

	filter := models.Filter{Feed: input.Feed, IsStarred: input.Starred}
	if input.Unread != nil {
		read := !*input.Unread
		filter.IsRead = &read
	}
	if input.Since != nil {
		since, err := timeutil.ParseBound(*input.Since, time.Now())
		if err != nil {
			return nil, err
		}
		filter.Since = &since
	}

	items, err := s.lib.Items(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	total, err := s.lib.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	outputs := make([]ItemOutput, 0, len(items))
	for _, item := range items {
		outputs = append(outputs, itemOutput(item))
	}
	return jsonResult(ListItemsOutput{Items: outputs, Count: len(outputs), Total: total})
}

func (s *Server) handleGetItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input GetItemInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	id, err := models.ParseRecordName(input.ID)
	if err != nil {
		return nil, err
	}

	item, err := s.lib.Item(ctx, id)
	if err != nil {
		return nil, itemError(input.ID, err)
	}
	if input.Extract {
		text, err := s.lib.Extract(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to extract article: %w", err)
		}
		item.Extracted = &text
	}
	attachments, err := s.lib.Attachments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	out := GetItemOutput{
		ItemOutput: itemOutput(item),
		Content:    item.Content,
		Extracted:  item.Extracted,
	}
	for _, a := range attachments {
		out.Attachments = append(out.Attachments, AttachmentOutput{
			URL:   a.URL,
			MIME:  a.MIME,
			Title: a.Title,
			Kind:  string(a.Kind()),
		})
	}
	return jsonResult(out)
}

func (s *Server) handleSetRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.setFlag(ctx, req, s.lib.SetRead)
}

func (s *Server) handleSetStarred(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.setFlag(ctx, req, s.lib.SetStarred)
}

func (s *Server) setFlag(ctx context.Context, req mcp.CallToolRequest, set func(context.Context, int64, bool) (*models.Item, error)) (*mcp.CallToolResult, error) {
	var input SetFlagInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	id, err := models.ParseRecordName(input.ID)
	if err != nil {
		return nil, err
	}
	value := true
	if input.Value != nil {
		value = *input.Value
	}

	item, err := set(ctx, id, value)
	if err != nil {
		return nil, itemError(input.ID, err)
	}
	return jsonResult(itemOutput(item))
}

func (s *Server) handleMarkAllRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input MarkAllReadInput
	if err := req.BindArguments(&input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	filter := models.Filter{Feed: input.Feed}
	if input.Before != nil {
		before, err := timeutil.ParseBound(*input.Before, time.Now())
		if err != nil {
			return nil, err
		}
		filter.Before = &before
	}

	n, err := s.lib.MarkAllAsRead(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to mark items read: %w", err)
	}
	return jsonResult(MarkAllReadOutput{
		Count:   n,
		Message: fmt.Sprintf("Marked %d items as read", n),
	})
}

// Helpers

func itemOutput(item *models.Item) ItemOutput {
	var summary string
	if item.Content != nil {
		summary = content.Snippet(*item.Content, summaryLength)
	}
	return ItemOutput{
		ID:        item.RecordName(),
		Feed:      item.Source,
		Title:     item.Title,
		URL:       item.URL,
		Author:    item.Author,
		Time:      item.Time,
		Summary:   summary,
		IsRead:    item.IsRead,
		IsStarred: item.IsStarred,
	}
}

func itemError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("item not found: %s", id)
	}
	return err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
