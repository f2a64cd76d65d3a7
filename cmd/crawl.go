package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one genre crawl to
// a terminal state and prints its summary.
func newCrawlCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a genre into the output file",
		Long: `Runs the pipeline for the configured genre until the listing is exhausted,
a limit is reached, the run is interrupted (SIGINT/SIGTERM) or a fatal error
occurs. An interrupted run saves its cursor; rerun with --resume to continue.
The command exits non-zero only when the run fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, *cfgFile)
		},
	}
}

func runCrawl(cmd *cobra.Command, cfgFile string) error {
	cfg, logger, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	sum, runErr := a.Run(ctx)
	if err := printSummary(cmd, sum); err != nil {
		logger.Warn("failed to print summary", zap.Error(err))
	}
	if sum.State == crawler.StateFailed {
		return fmt.Errorf("crawl failed (%s): %w", sum.Reason, runErr)
	}
	if sum.State == crawler.StateStopped {
		logger.Info("crawl stopped; rerun with --resume to continue",
			zap.Int("page", sum.Cursor.PageIndex),
			zap.Int("offset", sum.Cursor.LastArtistOffset))
	}
	return nil
}

func printSummary(cmd *cobra.Command, sum crawler.RunSummary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
