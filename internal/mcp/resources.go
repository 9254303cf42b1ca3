// ABOUTME: MCP resource providers for feedradar
// ABOUTME: Exposes read-only views of feeds, unread and starred items, and statistics

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/feedradar/internal/models"
)

const (
	uriFeeds   = "feedradar://feeds"
	uriUnread  = "feedradar://items/unread"
	uriStarred = "feedradar://items/starred"
	uriStats   = "feedradar://stats"
)

// ResourceData is the standard response format for all resources.
type ResourceData struct {
	Metadata ResourceMetadata  `json:"metadata"`
	Data     interface{}       `json:"data"`
	Links    map[string]string `json:"links"`
}

// ResourceMetadata contains metadata about the resource response.
type ResourceMetadata struct {
	Timestamp   time.Time `json:"timestamp"`
	Count       int       `json:"count"`
	ResourceURI string    `json:"resource_uri"`
}

// StatsData represents the statistics summary.
type StatsData struct {
	Feeds   int         `json:"feeds"`
	Items   int         `json:"items"`
	Unread  int         `json:"unread"`
	Starred int         `json:"starred"`
	ByFeed  []FeedStats `json:"by_feed"`
}

// FeedStats contains per-feed statistics.
type FeedStats struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Items  int    `json:"items"`
	Unread int    `json:"unread"`
}

func (s *Server) registerResources() {
	s.addResource(uriFeeds, "All Feeds",
		"Every subscribed feed with title, icon URL and unread count",
		func(ctx context.Context) (any, int, error) {
			feeds, err := s.feedOutputs(ctx)
			return feeds, len(feeds), err
		})

	s.addResource(uriUnread, "Unread Items",
		"The newest unread items across all feeds",
		func(ctx context.Context) (any, int, error) {
			return s.itemOutputs(ctx, models.Unread())
		})

	starred := true
	s.addResource(uriStarred, "Starred Items",
		"Every starred item, newest first",
		func(ctx context.Context) (any, int, error) {
			return s.itemOutputs(ctx, models.Filter{IsStarred: &starred})
		})

	s.addResource(uriStats, "Statistics",
		"Feed, item, unread and starred counts with a per-feed breakdown",
		func(ctx context.Context) (any, int, error) {
			stats, err := s.calculateStats(ctx)
			return stats, 0, err
		})
}

func (s *Server) addResource(uri, name, description string, load func(ctx context.Context) (any, int, error)) {
	s.mcpServer.AddResource(
		mcp.Resource{
			URI:         uri,
			Name:        name,
			Description: description,
			MIMEType:    "application/json",
		},
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			data, count, err := load(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", uri, err)
			}

			resourceData := ResourceData{
				Metadata: ResourceMetadata{
					Timestamp:   time.Now(),
					Count:       count,
					ResourceURI: uri,
				},
				Data:  data,
				Links: resourceLinks(uri),
			}
			jsonBytes, err := json.MarshalIndent(resourceData, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal resource data: %w", err)
			}

			return []mcp.ResourceContents{
				&mcp.TextResourceContents{
					URI:      request.Params.URI,
					MIMEType: "application/json",
					Text:     string(jsonBytes),
				},
			}, nil
		},
	)
}

func resourceLinks(self string) map[string]string {
	links := map[string]string{
		"feeds":   uriFeeds,
		"unread":  uriUnread,
		"starred": uriStarred,
		"stats":   uriStats,
	}
	for name, uri := range links {
		if uri == self {
			delete(links, name)
		}
	}
	return links
}

func (s *Server) feedOutputs(ctx context.Context) ([]FeedOutput, error) {
	feeds, err := s.lib.Feeds(ctx)
	if err != nil {
		return nil, err
	}
	outputs := make([]FeedOutput, 0, len(feeds))
	for _, f := range feeds {
		source := f.Source
		unread, err := s.lib.Count(ctx, models.Filter{Feed: &source}.OnlyUnread())
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, FeedOutput{URL: f.Source, Title: f.Title, Icon: f.Icon, Unread: unread})
	}
	return outputs, nil
}

func (s *Server) itemOutputs(ctx context.Context, filter models.Filter) (any, int, error) {
	items, err := s.lib.Items(ctx, filter, defaultListLimit, 0)
	if err != nil {
		return nil, 0, err
	}
	outputs := make([]ItemOutput, 0, len(items))
	for _, item := range items {
		outputs = append(outputs, itemOutput(item))
	}
	return outputs, len(outputs), nil
}

func (s *Server) calculateStats(ctx context.Context) (*StatsData, error) {
	feeds, err := s.lib.Feeds(ctx)
	if err != nil {
		return nil, err
	}

	starred := true
	stats := &StatsData{Feeds: len(feeds), ByFeed: make([]FeedStats, 0, len(feeds))}
	if stats.Items, err = s.lib.Count(ctx, models.Filter{}); err != nil {
		return nil, err
	}
	if stats.Unread, err = s.lib.Count(ctx, models.Unread()); err != nil {
		return nil, err
	}
	if stats.Starred, err = s.lib.Count(ctx, models.Filter{IsStarred: &starred}); err != nil {
		return nil, err
	}

	for _, f := range feeds {
		source := f.Source
		fs := FeedStats{URL: f.Source, Title: f.DisplayTitle()}
		if fs.Items, err = s.lib.Count(ctx, models.Filter{Feed: &source}); err != nil {
			return nil, err
		}
		if fs.Unread, err = s.lib.Count(ctx, models.Filter{Feed: &source}.OnlyUnread()); err != nil {
			return nil, err
		}
		stats.ByFeed = append(stats.ByFeed, fs)
	}
	return stats, nil
}
