// Package cmd defines and implements the CLI commands for the discocrawl executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/app"
	"github.com/JakeFAU/discogs-crawler/internal/config"
	"github.com/JakeFAU/discogs-crawler/internal/logging"
)

// newApp is the application factory. It's a variable so tests can inject
// fakes through app options.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "discocrawl",
		Short: "Crawls a Discogs genre into a JSON Lines dataset.",
		Long: `discocrawl walks the most-collected artists of one Discogs genre, then
each artist's discography, and appends every new artist and album to a JSON
Lines file. Runs are resumable: records already in the output are never
written twice, and a saved cursor lets a stopped crawl pick up where it left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newCrawlCmd(&cfgFile))
	cmd.AddCommand(newCheckpointCmd(&cfgFile))
	return cmd
}

// loadConfig reads configuration and builds the process logger.
func loadConfig(cmd *cobra.Command, cfgFile string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute runs the CLI and exits non-zero when a command fails.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "discocrawl:", err)
		os.Exit(1)
	}
}
