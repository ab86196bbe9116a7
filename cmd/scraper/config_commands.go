package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mangacatalog/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(targetPath)
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				path = defaultPath
			}

			expanded, err := config.ExpandPath(path)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}

			if !overwrite {
				if _, err := os.Stat(expanded); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite)", expanded)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("check config file: %w", err)
				}
			}

			if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(expanded); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", expanded)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite the file if it already exists")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective crawl settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rows := []kv{
				{"storefront.base_url", cfg.Storefront.BaseURL},
				{"storefront.categories", strings.Join(cfg.Storefront.Categories, ", ")},
				{"storefront.page_size", fmt.Sprint(cfg.Storefront.PageSize)},
				{"storefront.start", fmt.Sprint(cfg.Storefront.Start)},
				{"storefront.end", fmt.Sprint(cfg.Storefront.End)},
				{"pipeline.workers", fmt.Sprint(cfg.Pipeline.Workers)},
				{"policy.refresh_series_data", fmt.Sprint(cfg.Policy.RefreshSeriesData)},
				{"policy.refresh_volume_details", fmt.Sprint(cfg.Policy.RefreshVolumeDetails)},
				{"policy.query_isbndb", fmt.Sprint(cfg.Policy.QueryISBNDB)},
				{"policy.query_detail_page", fmt.Sprint(cfg.Policy.QueryDetailPage)},
				{"policy.query_alternate_shop", fmt.Sprint(cfg.Policy.QueryAlternateShop)},
				{"storage.driver", cfg.Storage.Driver},
				{"storage.path", cfg.Storage.Path},
				{"control.backend", cfg.Control.Backend},
				{"schedule.cron", cfg.Schedule.Cron},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(kv{"Key", "Value"}, text.AlignLeft, rows))
			return nil
		},
	}
}
