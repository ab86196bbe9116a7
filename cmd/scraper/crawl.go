package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mangacatalog/internal/control"
	"mangacatalog/internal/pipeline"
	"mangacatalog/internal/runlock"
)

type crawlFlags struct {
	start          int
	end            int
	pageSize       int
	workers        int
	refreshSeries  bool
	refreshVolumes bool
	queryISBNDB    bool
	noDetailPage   bool
	alternateShop  bool
	quiet          bool
}

func newCrawlCommand(ctx *commandContext) *cobra.Command {
	var flags crawlFlags

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl over the storefront listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := pipeline.OptionsFromConfig(cfg)
			flags.apply(cmd, &opts)

			lock, err := runlock.Acquire(cfg.LockPath)
			if err != nil {
				if errors.Is(err, runlock.ErrLocked) {
					return fmt.Errorf("another crawl holds %s", cfg.LockPath)
				}
				return err
			}
			defer lock.Release()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := ctx.openServices(runCtx)
			if err != nil {
				return err
			}
			defer svc.Close()

			var printer *control.Printer
			if !flags.quiet {
				printer = control.NewPrinter(os.Stderr)
			}

			sum, err := runCrawl(runCtx, svc, opts, printer)
			if sum != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderSummary(sum))
			}
			return err
		},
	}

	cmd.Flags().IntVar(&flags.start, "start", 0, "Listing offset to begin at")
	cmd.Flags().IntVar(&flags.end, "end", 0, "Listing offset to stop before (0 runs to the storefront total)")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "Items per listing page")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Concurrent items per page after the first")
	cmd.Flags().BoolVar(&flags.refreshSeries, "refresh-series", false, "Re-fetch metadata for series already stored")
	cmd.Flags().BoolVar(&flags.refreshVolumes, "refresh-volumes", false, "Overwrite stored volume details with fresh values")
	cmd.Flags().BoolVar(&flags.queryISBNDB, "query-isbndb", false, "Look up publication details for existing volumes too")
	cmd.Flags().BoolVar(&flags.noDetailPage, "no-detail-page", false, "Skip product detail pages on refresh")
	cmd.Flags().BoolVar(&flags.alternateShop, "alternate-shop", false, "Record marketplace offers from the bibliographic site")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Hide the progress bar")

	return cmd
}

// apply overrides opts with the flags the user actually set.
func (f crawlFlags) apply(cmd *cobra.Command, opts *pipeline.Options) {
	changed := cmd.Flags().Changed
	if changed("start") {
		opts.Start = f.start
	}
	if changed("end") {
		opts.End = f.end
	}
	if changed("page-size") && f.pageSize > 0 {
		opts.PageSize = f.pageSize
	}
	if changed("workers") && f.workers > 0 {
		opts.Workers = f.workers
	}
	if changed("refresh-series") {
		opts.Policy.RefreshSeriesData = f.refreshSeries
	}
	if changed("refresh-volumes") {
		opts.Policy.RefreshVolumeDetails = f.refreshVolumes
	}
	if changed("query-isbndb") {
		opts.Policy.QueryISBNDB = f.queryISBNDB
	}
	if changed("no-detail-page") {
		opts.Policy.QueryDetailPage = !f.noDetailPage
	}
	if changed("alternate-shop") {
		opts.Policy.QueryAlternateShop = f.alternateShop
	}
}

func runCrawl(ctx context.Context, svc *services, opts pipeline.Options, printer *control.Printer) (*pipeline.Summary, error) {
	sum, err := svc.orchestrator(opts, printer).RunWithID(ctx, uuid.NewString())
	if err != nil && errors.Is(err, context.Canceled) {
		svc.logger.Warn("crawl interrupted", zap.Error(err))
	}
	return sum, err
}
