package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mangacatalog/internal/config"
	"mangacatalog/internal/control"
	"mangacatalog/internal/pipeline"
	"mangacatalog/internal/store"
	"mangacatalog/pkg/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportAllWritesCSVs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	added := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateVolume(ctx, &models.Volume{
		ISBN: "ABC123", SeriesID: "100", SeriesTitle: "Demo Title", Name: "Demo Title",
		Volume: "3", Category: "manga", Pages: 192, RecordAdded: added, RecordUpdated: added,
	}))
	require.NoError(t, st.CreateSeries(ctx, &models.Series{
		ID: "100", Title: "Demo Title", Category: "manga", Genres: []string{"Action", "Drama"},
		Volumes: []models.SeriesVolume{{ISBN: "ABC123", Volume: "3", Category: "manga"}},
	}))
	require.NoError(t, st.CreateShop(ctx, &models.ShopListing{
		ShopKey:         models.ShopKey{ISBN: "ABC123", Store: "Crunchyroll", Condition: "New"},
		Price:           12.99,
		StockStatus:     models.StockInStock,
		LastStockUpdate: added,
	}))

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := exportAll(ctx, st, dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	vols := readCSV(t, filepath.Join(dir, "volumes.csv"))
	require.Len(t, vols, 2)
	assert.Equal(t, volumeHeader, vols[0])
	assert.Equal(t, []string{
		"ABC123", "100", "Demo Title", "Demo Title", "3", "manga", "", "", "192", "",
		"2024-05-01T12:00:00Z", "2024-05-01T12:00:00Z",
	}, vols[1])

	series := readCSV(t, filepath.Join(dir, "series.csv"))
	require.Len(t, series, 2)
	assert.Equal(t, []string{"100", "Demo Title", "manga", "", "Action|Drama", "1", "ABC123"}, series[1])

	shops := readCSV(t, filepath.Join(dir, "shops.csv"))
	require.Len(t, shops, 2)
	assert.Equal(t, "12.99", shops[1][3])
	assert.Equal(t, "false", shops[1][7])
}

func TestRenderSummary(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := renderSummary(&pipeline.Summary{
		RunID:      "run-1",
		Pages:      2,
		Processed:  7,
		Failed:     1,
		Failures:   map[pipeline.FailureKind]int64{pipeline.Extraction: 1},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	})

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "Items processed")
	assert.Contains(t, out, "Failures: "+string(pipeline.Extraction))
	assert.Contains(t, out, "1.5s")
}

func TestRenderKeyValuesSkipsEmptyGroups(t *testing.T) {
	out := renderKeyValues(kv{"Key", "Value"}, text.AlignLeft, []kv{{"a", "1"}}, nil)
	assert.Contains(t, out, "a")
	assert.Equal(t, 1, strings.Count(out, "├"), "only the header rule")

	out = renderKeyValues(kv{"Key", "Value"}, text.AlignLeft, []kv{{"a", "1"}}, []kv{{"b", "2"}})
	assert.Equal(t, 2, strings.Count(out, "├"), "groups are separated")
}

func TestFailureRowsSorted(t *testing.T) {
	rows := failureRows(map[pipeline.FailureKind]int64{
		pipeline.Persistence: 1,
		pipeline.Enrichment:  4,
	})
	assert.Equal(t, []kv{
		{"Failures: enrichment", "4"},
		{"Failures: persistence", "1"},
	}, rows)
}

func TestCrawlFlagsOverrideOnlyWhenSet(t *testing.T) {
	var flags crawlFlags
	cmd := &cobra.Command{Use: "crawl"}
	cmd.Flags().IntVar(&flags.end, "end", 0, "")
	cmd.Flags().IntVar(&flags.start, "start", 0, "")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "")
	cmd.Flags().BoolVar(&flags.refreshSeries, "refresh-series", false, "")
	cmd.Flags().BoolVar(&flags.refreshVolumes, "refresh-volumes", false, "")
	cmd.Flags().BoolVar(&flags.queryISBNDB, "query-isbndb", false, "")
	cmd.Flags().BoolVar(&flags.noDetailPage, "no-detail-page", false, "")
	cmd.Flags().BoolVar(&flags.alternateShop, "alternate-shop", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--end", "500", "--no-detail-page"}))

	opts := pipeline.OptionsFromConfig(configWithDefaults())
	opts.Start = 100
	flags.apply(cmd, &opts)

	assert.Equal(t, 100, opts.Start)
	assert.Equal(t, 500, opts.End)
	assert.False(t, opts.Policy.QueryDetailPage)
	assert.False(t, opts.Policy.RefreshSeriesData)
}

func configWithDefaults() *config.Config {
	cfg := config.Default()
	return &cfg
}

func TestCrawlRunnerRejectsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)
	lockPath := filepath.Join(t.TempDir(), "crawl.lock")

	runner := newCrawlRunner(context.Background(), lockPath, zap.NewNop(), func(ctx context.Context, id string) error {
		started <- id
		<-release
		return nil
	})

	id, err := runner.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, <-started)
	assert.True(t, runner.Running())

	_, err = runner.Start(context.Background())
	assert.ErrorIs(t, err, control.ErrBusy)

	close(release)
	runner.Wait()
	assert.False(t, runner.Running())

	_, err = runner.Start(context.Background())
	require.NoError(t, err)
	runner.Wait()
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	run := func(args ...string) (string, error) {
		cmd := newRootCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run("config", "init", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run("config", "init", "--path", path, "--overwrite")
	assert.NoError(t, err)

	cfg, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, config.Default().Storefront.BaseURL, cfg.Storefront.BaseURL)
}
