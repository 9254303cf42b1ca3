// ABOUTME: Show command for reading an item
// ABOUTME: Renders content per the feed's display setting and marks it read

package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/config"
	"github.com/harper/feedradar/internal/library"
	"github.com/harper/feedradar/internal/storage"
)

var showCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Show an item",
	Long:  "Display the full content of an item and mark it as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		extract, _ := cmd.Flags().GetBool("extract")
		noMark, _ := cmd.Flags().GetBool("no-mark")

		item, err := loadItem(ctx, args[0])
		if err != nil {
			return err
		}
		feed, err := lib.Feed(ctx, item.Source)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to get feed: %w", err)
		}

		bold := color.New(color.Bold).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Println(separator())
		title := item.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Printf("%s\n\n", bold(title))
		fmt.Printf("%s %s\n", faint("Feed:"), feedDisplayName(feed))
		if item.Author != nil && *item.Author != "" {
			fmt.Printf("%s %s\n", faint("Author:"), *item.Author)
		}
		if item.Time != nil {
			fmt.Printf("%s %s\n", faint("Published:"), formatTime(item.Time, config.DateFormatLong))
		}
		if item.URL != nil {
			fmt.Printf("%s %s\n", faint("Link:"), cyan(*item.URL))
		}

		attachments, err := lib.Attachments(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("failed to list attachments: %w", err)
		}
		for _, a := range attachments {
			fmt.Printf("%s %s %s\n", faint("Attachment:"), a.URL, faint("("+string(a.Kind())+")"))
		}
		fmt.Println(separator())

		display := lib.Display(ctx, item.Source)
		if cmd.Flags().Changed("extract") {
			display = library.DisplayContent
			if extract {
				display = library.DisplayExtracted
			}
		}
		if display == library.DisplayWeb && item.URL != nil {
			fmt.Printf("Open in browser: %s\n", cyan(*item.URL))
			return markShown(cmd, item.ID, item.IsRead, noMark)
		}

		body := ""
		if item.Content != nil {
			body = *item.Content
		}
		if display == library.DisplayExtracted {
			text, err := lib.Extract(ctx, item.ID)
			switch {
			case errors.Is(err, library.ErrNoURL):
				fmt.Printf("%s\n", faint("(no link to extract, showing feed content)"))
			case err != nil:
				fmt.Printf("%s\n", faint(fmt.Sprintf("(extraction failed: %v)", err)))
			default:
				body = text
			}
		}

		base := ""
		if item.URL != nil {
			base = *item.URL
		}
		if body != "" {
			fmt.Print(renderContent(body, base))
		} else {
			fmt.Println("\n(No content available)")
		}
		fmt.Println()

		return markShown(cmd, item.ID, item.IsRead, noMark)
	},
}

// markShown marks a shown item read unless it already is or --no-mark is set.
func markShown(cmd *cobra.Command, id int64, isRead, noMark bool) error {
	if noMark || isRead {
		return nil
	}
	if _, err := lib.SetRead(cmd.Context(), id, true); err != nil {
		return fmt.Errorf("failed to mark item as read: %w", err)
	}
	fmt.Printf("%s\n", color.New(color.Faint).Sprint("Marked as read"))
	return nil
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().Bool("extract", false, "show the reader-mode text of the linked page, overriding the feed display setting")
	showCmd.Flags().Bool("no-mark", false, "don't mark the item as read")
}
