// ABOUTME: Shared CLI helpers for item ids, feed names and terminal rendering
// ABOUTME: Colored item lines and glamour-rendered markdown content

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/harper/feedradar/internal/config"
	"github.com/harper/feedradar/internal/content"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/storage"
)

// parseItemID accepts the hex record name printed by list.
func parseItemID(ref string) (int64, error) {
	id, err := models.ParseRecordName(strings.TrimSpace(ref))
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q", ref)
	}
	return id, nil
}

// loadItem resolves an item reference to a stored item.
func loadItem(ctx context.Context, ref string) (*models.Item, error) {
	id, err := parseItemID(ref)
	if err != nil {
		return nil, err
	}
	item, err := lib.Item(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("item not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func feedDisplayName(feed *models.Feed) string {
	if feed == nil {
		return ""
	}
	return feed.DisplayTitle()
}

// feedTitles maps each source to its display name.
func feedTitles(ctx context.Context) (map[string]string, error) {
	feeds, err := lib.Feeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	titles := make(map[string]string, len(feeds))
	for _, f := range feeds {
		titles[f.Source] = feedDisplayName(f)
	}
	return titles, nil
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return "undated"
	}
	return t.Local().Format(layout)
}

// statusMark is ● for unread and ○ for read, with a star when starred.
func statusMark(item *models.Item) string {
	mark := color.CyanString("●")
	if item.IsRead {
		mark = color.New(color.Faint).Sprint("○")
	}
	if item.IsStarred {
		mark += color.YellowString("★")
	} else {
		mark += " "
	}
	return mark
}

func printItemLine(w io.Writer, item *models.Item, feedTitle string) {
	faint := color.New(color.Faint).SprintFunc()
	title := item.Title
	if title == "" {
		title = "Untitled"
	}
	if !item.IsRead {
		title = color.New(color.Bold).Sprint(title)
	}
	fmt.Fprintf(w, "%s %s  %s\n", statusMark(item), faint(item.RecordName()), title)
	fmt.Fprintf(w, "     %s  %s\n", faint(formatTime(item.Time, config.DateFormatShort)), faint(feedTitle))
}

func separator() string {
	return strings.Repeat("─", config.SeparatorWidth)
}

// renderContent converts HTML to markdown and renders it for the terminal,
// falling back to plain markdown when rendering fails. Relative links
// resolve against base.
func renderContent(html, base string) string {
	markdown := content.ToMarkdown(html, base)
	rendered, err := glamour.Render(markdown, "dark")
	if err != nil {
		return markdown + "\n"
	}
	return rendered
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
