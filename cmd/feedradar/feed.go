// ABOUTME: Feed management commands for adding, listing, and removing feeds
// ABOUTME: Also imports and exports subscriptions as OPML

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/library"
	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/opml"
	"github.com/harper/feedradar/internal/storage"
)

var feedCmd = &cobra.Command{
	Use:     "feed",
	Aliases: []string{"f"},
	Short:   "Manage RSS/Atom/JSON feeds",
	Long:    "Add, list, remove, import and export feed subscriptions",
}

var feedAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a new feed",
	Long:  "Subscribe to a feed and fetch it immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source := args[0]

		if err := library.ValidateSource(source); err != nil {
			return err
		}
		if _, err := lib.Feed(ctx, source); err == nil {
			return fmt.Errorf("feed already exists: %s", source)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to check for existing feed: %w", err)
		}

		if err := lib.AddFeed(ctx, source, true); err != nil {
			return fmt.Errorf("failed to add feed: %w", err)
		}

		feed, err := lib.Feed(ctx, source)
		if err != nil {
			return fmt.Errorf("failed to get feed: %w", err)
		}
		count, err := lib.Count(ctx, models.Filter{Feed: &source})
		if err != nil {
			return fmt.Errorf("failed to count items: %w", err)
		}

		color.Green("Added feed: %s", feedDisplayName(feed))
		fmt.Printf("  URL:   %s\n", source)
		fmt.Printf("  Items: %d\n", count)
		return nil
	},
}

var feedListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all feeds",
	Long:    "List all subscribed feeds with their unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		feeds, err := lib.Feeds(ctx)
		if err != nil {
			return fmt.Errorf("failed to list feeds: %w", err)
		}
		if len(feeds) == 0 {
			fmt.Println("No feeds found. Add a feed with 'feedradar feed add <url>'")
			return nil
		}

		faint := color.New(color.Faint).SprintFunc()
		fmt.Printf("Found %d feed(s):\n\n", len(feeds))
		for _, feed := range feeds {
			unread, err := lib.Count(ctx, models.Filter{Feed: &feed.Source}.OnlyUnread())
			if err != nil {
				return fmt.Errorf("failed to count unread items: %w", err)
			}
			fmt.Printf("%s %s\n", feedDisplayName(feed), color.CyanString("(%d unread)", unread))
			fmt.Printf("  %s\n\n", faint(feed.Source))
		}
		return nil
	},
}

var feedRemoveCmd = &cobra.Command{
	Use:     "remove <url>",
	Aliases: []string{"rm"},
	Short:   "Remove a feed",
	Long:    "Unsubscribe from a feed, deleting its items and attachments",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]
		if err := lib.DeleteFeed(cmd.Context(), source, true); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("feed not found: %s", source)
			}
			return fmt.Errorf("failed to remove feed: %w", err)
		}
		color.Green("Removed feed: %s", source)
		return nil
	},
}

var feedImportCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Import feeds from OPML",
	Long:  "Subscribe to every feed listed in an OPML file, skipping existing ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		doc, err := opml.ParseFile(args[0])
		if err != nil {
			return err
		}

		var added, skipped, failed int
		for _, sub := range doc.Subscriptions() {
			if err := library.ValidateSource(sub.URL); err != nil {
				color.Red("  ✗ %s: %v", sub.URL, err)
				failed++
				continue
			}
			if _, err := lib.Feed(ctx, sub.URL); err == nil {
				skipped++
				continue
			}
			if err := lib.AddFeed(ctx, sub.URL, true); err != nil {
				color.Red("  ✗ %s: %v", sub.URL, err)
				failed++
				continue
			}
			color.Green("  ✓ %s", sub.URL)
			added++
		}

		fmt.Printf("\nImported %d feed(s), %d already subscribed, %d failed\n", added, skipped, failed)
		return nil
	},
}

var feedExportCmd = &cobra.Command{
	Use:   "export [file.opml]",
	Short: "Export feeds as OPML",
	Long:  "Write subscriptions as OPML to a file, or to standard output",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feeds, err := lib.Feeds(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list feeds: %w", err)
		}
		doc := opml.FromFeeds("feedradar feeds", feeds)
		if len(args) == 1 {
			if err := doc.WriteFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %d feed(s) to %s\n", len(feeds), args[0])
			return nil
		}
		return doc.Write(os.Stdout)
	},
}

var feedDisplayCmd = &cobra.Command{
	Use:   "display <url> [content|extracted|web]",
	Short: "Show or set how a feed's items are displayed",
	Long: `Show or set how show renders a feed's items.

content shows the feed's own content, extracted fetches the linked page in
reader mode, and web prints only the link.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source := args[0]

		if len(args) == 1 {
			if _, err := lib.Feed(ctx, source); errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("feed not found: %s", source)
			} else if err != nil {
				return fmt.Errorf("failed to get feed: %w", err)
			}
			fmt.Println(lib.Display(ctx, source))
			return nil
		}

		display, err := library.ParseDisplay(args[1])
		if err != nil {
			return err
		}
		if err := lib.SetDisplay(ctx, source, display); errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("feed not found: %s", source)
		} else if err != nil {
			return fmt.Errorf("failed to set display: %w", err)
		}
		color.Green("Display for %s set to %s", source, display)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedAddCmd)
	feedCmd.AddCommand(feedListCmd)
	feedCmd.AddCommand(feedRemoveCmd)
	feedCmd.AddCommand(feedImportCmd)
	feedCmd.AddCommand(feedExportCmd)
	feedCmd.AddCommand(feedDisplayCmd)
}
