// ABOUTME: read, unread, star and unstar commands for single items
// ABOUTME: Each toggles one user-owned flag and queues it for sync

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/models"
)

// flagCommand builds a command that applies set to one item.
func flagCommand(use, short, done string, set func(ctx context.Context, id int64) (*models.Item, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			item, err := loadItem(ctx, args[0])
			if err != nil {
				return err
			}
			item, err = set(ctx, item.ID)
			if err != nil {
				return fmt.Errorf("failed to update item: %w", err)
			}
			title := item.Title
			if title == "" {
				title = "Untitled"
			}
			fmt.Printf("%s: %s\n", done, title)
			return nil
		},
	}
}

var (
	readCmd = flagCommand("read", "Mark an item as read", "Marked as read",
		func(ctx context.Context, id int64) (*models.Item, error) { return lib.SetRead(ctx, id, true) })
	unreadCmd = flagCommand("unread", "Mark an item as unread", "Marked as unread",
		func(ctx context.Context, id int64) (*models.Item, error) { return lib.SetRead(ctx, id, false) })
	starCmd = flagCommand("star", "Star an item", "Starred",
		func(ctx context.Context, id int64) (*models.Item, error) { return lib.SetStarred(ctx, id, true) })
	unstarCmd = flagCommand("unstar", "Remove the star from an item", "Unstarred",
		func(ctx context.Context, id int64) (*models.Item, error) { return lib.SetStarred(ctx, id, false) })
)

func init() {
	rootCmd.AddCommand(readCmd, unreadCmd, starCmd, unstarCmd)
}
