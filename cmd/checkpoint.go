package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/app"
	"github.com/JakeFAU/discogs-crawler/internal/checkpoint"
	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// newCheckpointCmd creates the 'checkpoint' subcommand, which reports what a
// resumed crawl would skip without fetching anything.
func newCheckpointCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Show persisted ids and the saved cursor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store := checkpoint.New(logger)
			if _, err := store.LoadFile(cfg.Output.Path); err != nil {
				return err
			}
			cursors, err := app.OpenCursorStore(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := cursors.Close(); cerr != nil {
					logger.Warn("failed to close cursor store", zap.Error(cerr))
				}
			}()
			cur, ok, err := cursors.LoadCursor(cmd.Context(), cfg.Genre.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "output:  %s\n", cfg.Output.Path)
			fmt.Fprintf(out, "artists: %d\n", store.Len(crawler.RecordArtist))
			fmt.Fprintf(out, "albums:  %d\n", store.Len(crawler.RecordAlbum))
			if !ok {
				fmt.Fprintf(out, "cursor:  none for genre %q\n", cfg.Genre.ID)
				return nil
			}
			fmt.Fprintf(out, "cursor:  genre=%s page=%d offset=%d updated=%s\n",
				cur.GenreID, cur.PageIndex, cur.LastArtistOffset, cur.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}
