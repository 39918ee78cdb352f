package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mcpharvest/internal/batch"
	"github.com/mcpharvest/pkg/models"
)

// ExtractCommand returns the extract command
func ExtractCommand() *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Run one extraction pass over servers without a config",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Process at most `N` servers (overrides test mode)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging for this command",
			},
		},
		Action: runExtract,
	}
}

func runExtract(c *cli.Context) error {
	cfg, closer, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := withSignals(c.Context)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := newRunner(ctx, cfg, st)
	if err != nil {
		return err
	}

	limit := cfg.EffectiveLimit(c.Int("limit"))
	if cfg.Extraction.TestMode && c.Int("limit") == 0 {
		fmt.Printf("Test mode: processing at most %d servers\n", limit)
	}

	summary, err := runner.Run(ctx, limit)
	if summary != nil {
		printSummary(os.Stdout, summary)
		if summary.Statistics != nil {
			printStatistics(os.Stdout, summary.Statistics)
		}
	}
	if err != nil {
		return fmt.Errorf("extraction pass failed: %w", err)
	}
	return nil
}

// StatsCommand returns the stats command
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print database statistics",
		Action: func(c *cli.Context) error {
			cfg, closer, err := loadConfig(c, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			st, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Statistics(c.Context)
			if err != nil {
				return err
			}
			printStatistics(os.Stdout, stats)
			return nil
		},
	}
}

func printSummary(w io.Writer, s *batch.PassSummary) {
	fmt.Fprintf(w, "\n=== Pass %s ===\n", s.PassID)
	fmt.Fprintf(w, "Selected:     %d\n", s.Selected)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "Skipped:      %d (config appeared meanwhile)\n", s.Skipped)
	}
	fmt.Fprintf(w, "Processed:    %d\n", s.Processed)
	fmt.Fprintf(w, "Approved:     %d\n", s.Approved)
	fmt.Fprintf(w, "Needs review: %d\n", s.NeedsReview)
	fmt.Fprintf(w, "Rejected:     %d\n", s.Rejected)
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Duration:     %s\n", s.FinishedAt.Sub(s.StartedAt).Round(1e6))
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Stopped:      %s\n", s.Error)
	}
}

func printStatistics(w io.Writer, stats *models.Statistics) {
	fmt.Fprintln(w, "\n=== Database ===")
	fmt.Fprintf(w, "Total servers:   %d\n", stats.Total)
	fmt.Fprintf(w, "With config:     %d\n", stats.WithConfig)
	fmt.Fprintf(w, "Without config:  %d\n", stats.WithoutConfig)
	if stats.WithConfig > 0 {
		fmt.Fprintf(w, "Avg stars (cfg): %.1f\n", stats.AvgStarsWithConfig)
	}

	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "  %-14s %d\n", status+":", stats.ByStatus[status])
	}
}

// withSignals cancels ctx on SIGINT or SIGTERM.
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
