// ABOUTME: markread command for bulk marking items as read
// ABOUTME: Scopes by feed and an optional --before time bound

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/models"
	"github.com/harper/feedradar/internal/timeutil"
)

var markReadCmd = &cobra.Command{
	Use:     "markread",
	Aliases: []string{"mark-read"},
	Short:   "Mark all matching items as read",
	Long: `Mark every unread item as read, optionally limited to one feed
and to items older than --before (yesterday, week, month, 48h, YYYY-MM-DD).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		feed, _ := cmd.Flags().GetString("feed")
		before, _ := cmd.Flags().GetString("before")

		var filter models.Filter
		if feed != "" {
			filter.Feed = &feed
		}
		if before != "" {
			cutoff, err := timeutil.ParseBound(before, time.Now())
			if err != nil {
				return fmt.Errorf("invalid --before: %w", err)
			}
			filter.Before = &cutoff
		}

		count, err := lib.MarkAllAsRead(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to mark items as read: %w", err)
		}
		if count == 0 {
			fmt.Println("No unread items matched")
			return nil
		}
		fmt.Printf("Marked %d item(s) as read\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(markReadCmd)

	markReadCmd.Flags().String("feed", "", "only items of this feed URL")
	markReadCmd.Flags().String("before", "", "only items older than this time")
}
