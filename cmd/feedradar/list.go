// ABOUTME: List command for viewing feed items with filtering options
// ABOUTME: Filters by feed, read/starred state, time bounds, or full-text search

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/config"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/timeutil"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List feed items",
	Long: `List feed items, newest first.

Time bounds accept today, yesterday, week, month, a duration such as 48h,
a date (2006-01-02) or an RFC3339 timestamp.

--save stores the feed, unread and starred flags as the default used when
list is run without filter flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		feed, _ := cmd.Flags().GetString("feed")
		unread, _ := cmd.Flags().GetBool("unread")
		starred, _ := cmd.Flags().GetBool("starred")
		since, _ := cmd.Flags().GetString("since")
		before, _ := cmd.Flags().GetString("before")
		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		if limit <= 0 {
			return fmt.Errorf("limit must be positive, got %d", limit)
		}
		if offset < 0 {
			return fmt.Errorf("offset must be non-negative, got %d", offset)
		}

		titles, err := feedTitles(ctx)
		if err != nil {
			return err
		}

		var items []*models.Item
		if search != "" {
			items, err = lib.Search(ctx, search, limit)
			if err != nil {
				return fmt.Errorf("failed to search items: %w", err)
			}
		} else {
			filter, err := buildFilter(feed, unread, starred, since, before, time.Now())
			if err != nil {
				return err
			}
			save, _ := cmd.Flags().GetBool("save")
			switch {
			case save:
				if err := lib.SaveFilter(filter); err != nil {
					return fmt.Errorf("failed to save filter: %w", err)
				}
			case !filterFlagsSet(cmd):
				if filter, err = lib.SavedFilter(); err != nil {
					return err
				}
			}
			if filter.Feed != nil {
				if _, ok := titles[*filter.Feed]; !ok {
					return fmt.Errorf("feed not found: %s", *filter.Feed)
				}
			}
			items, err = lib.Items(ctx, filter, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list items: %w", err)
			}
		}

		if len(items) == 0 {
			fmt.Println("No items found.")
			return nil
		}
		for _, item := range items {
			printItemLine(cmd.OutOrStdout(), item, titles[item.Source])
		}
		fmt.Printf("\n%s\n", color.New(color.Faint).Sprintf("%d item(s)", len(items)))
		return nil
	},
}

// filterFlagsSet reports whether any filtering flag was given.
func filterFlagsSet(cmd *cobra.Command) bool {
	for _, name := range []string{"feed", "unread", "starred", "since", "before"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// buildFilter turns list flags into an item filter.
func buildFilter(feed string, unread, starred bool, since, before string, now time.Time) (models.Filter, error) {
	var filter models.Filter
	if feed != "" {
		filter.Feed = &feed
	}
	if unread {
		filter = filter.OnlyUnread()
	}
	if starred {
		s := true
		filter.IsStarred = &s
	}
	if since != "" {
		t, err := timeutil.ParseBound(since, now)
		if err != nil {
			return filter, fmt.Errorf("invalid --since: %w", err)
		}
		filter.Since = &t
	}
	if before != "" {
		t, err := timeutil.ParseBound(before, now)
		if err != nil {
			return filter, fmt.Errorf("invalid --before: %w", err)
		}
		filter.Before = &t
	}
	return filter, nil
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("feed", "", "only items of this feed URL")
	listCmd.Flags().BoolP("unread", "u", false, "only unread items")
	listCmd.Flags().BoolP("starred", "s", false, "only starred items")
	listCmd.Flags().String("since", "", "only items at or after this time")
	listCmd.Flags().String("before", "", "only items before this time")
	listCmd.Flags().StringP("search", "q", "", "full-text search instead of filtering")
	listCmd.Flags().IntP("limit", "n", config.DefaultListLimit, "maximum number of items")
	listCmd.Flags().Int("offset", 0, "number of items to skip")
	listCmd.Flags().Bool("save", false, "save the filter flags as the default")
}
