package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mangacatalog/internal/store"
	"mangacatalog/pkg/models"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored volumes, series and shop listings as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()

			lister, ok := st.(store.Lister)
			if !ok {
				return fmt.Errorf("storage driver %q cannot list records", cfg.Storage.Driver)
			}
			paths, err := exportAll(cmd.Context(), lister, outDir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "data", "Output directory")
	return cmd
}

func exportAll(ctx context.Context, lister store.Lister, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	volumes, err := lister.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	seriesList, err := lister.ListSeries(ctx)
	if err != nil {
		return nil, err
	}
	shops, err := lister.ListShops(ctx)
	if err != nil {
		return nil, err
	}

	files := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"volumes.csv", volumeHeader, volumeRows(volumes)},
		{"series.csv", seriesHeader, seriesRows(seriesList)},
		{"shops.csv", shopHeader, shopRows(shops)},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(outDir, f.name)
		if err := writeCSV(path, f.header, f.rows); err != nil {
			return nil, fmt.Errorf("export %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

var volumeHeader = []string{
	"isbn", "series_id", "series", "name", "volume", "category", "publisher",
	"release_date", "pages", "url", "record_added_date", "record_updated_date",
}

func volumeRows(vols []models.Volume) [][]string {
	rows := make([][]string, 0, len(vols))
	for _, v := range vols {
		pages := ""
		if v.Pages > 0 {
			pages = strconv.Itoa(v.Pages)
		}
		rows = append(rows, []string{
			v.ISBN,
			v.SeriesID,
			v.SeriesTitle,
			v.Name,
			v.Volume,
			v.Category,
			v.Publisher,
			v.ReleaseDate,
			pages,
			v.URL,
			formatStamp(v.RecordAdded),
			formatStamp(v.RecordUpdated),
		})
	}
	return rows
}

var seriesHeader = []string{"series_id", "title", "category", "status", "genres", "volume_count", "volumes"}

func seriesRows(list []models.Series) [][]string {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		isbns := make([]string, 0, len(s.Volumes))
		for _, m := range s.Volumes {
			isbns = append(isbns, m.ISBN)
		}
		rows = append(rows, []string{
			s.ID,
			s.Title,
			s.Category,
			s.Status,
			strings.Join(s.Genres, "|"),
			strconv.Itoa(len(s.Volumes)),
			strings.Join(isbns, "|"),
		})
	}
	return rows
}

var shopHeader = []string{"isbn", "store", "condition", "price", "stock_status", "last_stock_update", "is_on_sale", "is_bundle", "url"}

func shopRows(list []models.ShopListing) [][]string {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.ISBN,
			s.Store,
			s.Condition,
			strconv.FormatFloat(s.Price, 'f', 2, 64),
			s.StockStatus,
			formatStamp(s.LastStockUpdate),
			strconv.FormatBool(s.IsOnSale),
			strconv.FormatBool(s.IsBundle),
			s.URL,
		})
	}
	return rows
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
