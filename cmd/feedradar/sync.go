// ABOUTME: Sync command for Charm cloud integration
// ABOUTME: Runs the sync engine once or on a loop, shows status and repairs local stores

package main

import (
	"fmt"
	"time"

	charmkv "github.com/charmbracelet/charm/kv"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/charm"
	"github.com/harper/feedradar/internal/config"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync feeds and read state with Charm",
	Long: `Sync your subscriptions and read/starred state across devices using Charm.

Charm uses your SSH keys for authentication - no passwords needed!
All data is encrypted end-to-end before being stored.

Without a subcommand, pulls remote changes and pushes local ones. Use
--loop to keep syncing on an interval until interrupted.

Commands:
  status  - Show sync status and account info
  repair  - Fix a corrupted local database`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		loop, _ := cmd.Flags().GetDuration("loop")

		if err := startEngine(); err != nil {
			return err
		}
		if err := syncOnce(cmd); err != nil {
			return err
		}
		if loop <= 0 {
			return nil
		}

		ticker := time.NewTicker(loop)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := syncOnce(cmd); err != nil {
					color.Yellow("Sync failed: %v", err)
				}
			}
		}
	},
}

func syncOnce(cmd *cobra.Command) error {
	if err := engine.Sync(cmd.Context()); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	status, err := engine.Status(cmd.Context())
	if err != nil {
		return err
	}
	color.Green("✓ Synced")
	if pending := status.ZoneSaves + status.ZoneDeletes + status.RecordSaves; pending > 0 {
		fmt.Printf("  %d change(s) still pending\n", pending)
	}
	return nil
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long:  `Display the Charm account and the changes waiting to be pushed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := charm.NewClient(cfg.GetCharmHost())
		if err != nil {
			return fmt.Errorf("failed to create charm client: %w", err)
		}

		id, err := client.ID()
		if err != nil {
			color.Yellow("Not linked to Charm")
			fmt.Printf("\nVisit https://%s to link your account.\n", cfg.GetCharmHost())
			return nil
		}
		color.Green("Linked to Charm")
		fmt.Printf("  Account ID: %s\n", id)
		fmt.Printf("  Server:     %s\n", cfg.GetCharmHost())
		if !cfg.SyncEnabled {
			fmt.Printf("  Automatic sync is off; set sync_enabled in %s\n", config.GetConfigPath())
		}

		if err := startEngine(); err != nil {
			return err
		}
		status, err := engine.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("\n  Pending feeds:   %d added, %d removed\n", status.ZoneSaves, status.ZoneDeletes)
		fmt.Printf("  Pending items:   %d\n", status.RecordSaves)
		fmt.Printf("  Waiting records: %d\n", status.Orphans)
		if !status.HasToken {
			fmt.Println("  Never synced")
		}
		return nil
	},
}

var syncRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair a corrupted local database",
	Long: `Attempt to repair the local Charm store and compact the feed database.

Steps performed:
  1. Checkpoint WAL (write-ahead log) into main database
  2. Remove stale SHM (shared memory) files
  3. Run integrity check
  4. Vacuum both databases to reclaim space

Use --force to attempt REINDEX recovery if corruption is detected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		fmt.Println("Repairing database...")
		result, err := charmkv.Repair(charm.DBName, force)

		if result.WalCheckpointed {
			color.Green("  ✓ WAL checkpointed")
		}
		if result.ShmRemoved {
			color.Green("  ✓ SHM file removed")
		}
		if result.IntegrityOK {
			color.Green("  ✓ Integrity check passed")
		} else {
			color.Red("  ✗ Integrity check failed")
		}
		if result.Vacuumed {
			color.Green("  ✓ Charm store vacuumed")
		}

		if err != nil {
			if !force {
				fmt.Println("\nRun with --force to attempt REINDEX recovery.")
			}
			return err
		}

		if err := store.Compact(cmd.Context()); err != nil {
			return fmt.Errorf("failed to compact feed database: %w", err)
		}
		color.Green("  ✓ Feed database vacuumed")

		color.Green("\nRepair complete.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncRepairCmd)

	syncCmd.Flags().Duration("loop", 0, fmt.Sprintf("keep syncing on this interval (e.g. %s) until interrupted", config.DefaultSyncInterval))
	syncRepairCmd.Flags().Bool("force", false, "attempt REINDEX recovery if corruption is detected")
}
