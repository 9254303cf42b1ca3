// ABOUTME: Fetch command to download feeds with conditional GET and merge new items
// ABOUTME: Optionally repeats on an interval and serves Prometheus metrics meanwhile

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/library"
	"github.com/harper/feedradar/internal/metrics"
	"github.com/harper/feedradar/internal/storage"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Fetch new items from feeds",
	Long: `Fetch new items from all subscribed feeds or the given feed URLs.

Uses HTTP caching headers (ETag, Last-Modified) so unchanged feeds are
neither downloaded nor parsed. Read and starred flags are never touched
by a fetch.

Use --every to keep fetching on an interval, and --metrics-addr to serve
Prometheus metrics while doing so.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		every, _ := cmd.Flags().GetDuration("every")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		for _, source := range args {
			if _, err := lib.Feed(ctx, source); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("feed not found: %s", source)
				}
				return fmt.Errorf("failed to get feed: %w", err)
			}
		}

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error(ctx, "metrics server", "error", err)
				}
			}()
			defer srv.Shutdown(context.Background())
			logger.Info(ctx, "serving metrics", "addr", metricsAddr)
		}

		if err := fetchOnce(ctx, args); err != nil {
			return err
		}
		if every <= 0 {
			return nil
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := fetchOnce(ctx, args); err != nil {
					return err
				}
			}
		}
	},
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func fetchOnce(ctx context.Context, sources []string) error {
	started := time.Now()
	report, err := lib.Fetch(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to fetch feeds: %w", err)
	}
	printReport(report, time.Since(started))
	return nil
}

func printReport(report *library.Report, elapsed time.Duration) {
	if report.Updated == 0 {
		fmt.Println("All feeds up to date")
		return
	}
	fmt.Printf("%s %d feed(s) updated, %d item(s) changed (%s)\n",
		color.GreenString("✓"), report.Updated-len(report.Failed), report.Changed, elapsed.Round(time.Millisecond))
	for _, source := range report.Failed {
		color.Red("  ✗ %s: could not be parsed", source)
	}
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().Duration("every", 0, "keep fetching on this interval until interrupted")
	fetchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}
