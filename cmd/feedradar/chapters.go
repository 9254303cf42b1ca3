// ABOUTME: chapters command listing podcast chapters of an item
// ABOUTME: Reads ID3 chapter frames from the audio attachment or parses show notes

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var chaptersCmd = &cobra.Command{
	Use:   "chapters <item-id>",
	Short: "List the chapters of an episode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		item, err := loadItem(ctx, args[0])
		if err != nil {
			return err
		}
		chapters, err := lib.Chapters(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("failed to load chapters: %w", err)
		}
		if len(chapters) == 0 {
			fmt.Println("No chapters found.")
			return nil
		}

		faint := color.New(color.Faint).SprintFunc()
		for _, c := range chapters {
			line := fmt.Sprintf("%s  %s", color.CyanString(formatDuration(c.Start)), c.Title)
			if d := c.Duration(); d > 0 {
				line += "  " + faint(formatDuration(d))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chaptersCmd)
}
