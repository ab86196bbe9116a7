package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mangacatalog/internal/config"
	"mangacatalog/internal/isbn"
	"mangacatalog/internal/scraper"
	"mangacatalog/internal/series"
	"mangacatalog/internal/store"
	"mangacatalog/pkg/models"
)

var (
	t1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = t1.Add(24 * time.Hour)
)

func demoAttrs() *scraper.ItemAttributes {
	return &scraper.ItemAttributes{
		ISBN:        "ABC123",
		Name:        "Demo Title Volume 3",
		Brand:       "Demo Title",
		Category:    "manga",
		URL:         "https://store.example/p/ABC123",
		Price:       10.99,
		StockStatus: models.StockInStock,
		CoverImage:  "https://img.example/abc123.jpg",
		RetailPrice: 11.99,
	}
}

func demoMatch() series.Match {
	return series.Match{
		Series: models.Series{
			ID:       "100",
			Title:    "Demo Title",
			Category: "manga",
			Genres:   []string{"Action"},
		},
		Confidence: 1,
		Origin:     series.OriginExact,
	}
}

func demoInput(now time.Time) Input {
	return Input{
		Attrs: demoAttrs(),
		Match: demoMatch(),
		Biblio: &isbn.Result{Details: isbn.Details{
			ReleaseDate: "2023-05-02",
			Publisher:   "Demo Press",
			Pages:       192,
			ISBN10:      "1234567890",
		}},
		Detail: &scraper.Detail{
			Description: "A demo.",
			Images:      []models.CoverImage{{Name: "thumbnail", URL: "https://img.example/abc123-2.jpg"}},
		},
		Now: now,
	}
}

func TestBuildVolumeNew(t *testing.T) {
	v := BuildVolume(demoInput(t1), config.Policy{})

	assert.Equal(t, "ABC123", v.ISBN)
	assert.Equal(t, "3", v.Volume)
	assert.Equal(t, "100", v.SeriesID)
	assert.Equal(t, "Demo Title", v.Name)
	assert.Equal(t, "demo title", v.NormalizedName)
	assert.Equal(t, "Demo Title Volume 3", v.DisplayName)
	assert.Equal(t, "A demo.", v.Description)
	assert.Equal(t, 192, v.Pages)
	require.Len(t, v.CoverImages, 2)
	assert.Equal(t, "primary", v.CoverImages[0].Name)
	assert.Equal(t, t1, v.RecordAdded)
	assert.Equal(t, v.RecordAdded, v.RecordUpdated)
}

func TestBuildVolumeDetailDateWins(t *testing.T) {
	in := demoInput(t1)
	in.Detail.ReleaseDate = "2023-06-01"
	assert.Equal(t, "2023-06-01", BuildVolume(in, config.Policy{}).ReleaseDate)
}

func TestBuildVolumeExistingKeepsFields(t *testing.T) {
	current := BuildVolume(demoInput(t1), config.Policy{})

	in := demoInput(t2)
	in.Current = current
	in.Attrs.Brand = "Renamed"
	in.Biblio.Details.Publisher = "Other Press"
	in.Detail = nil

	got := BuildVolume(in, config.Policy{})
	assert.Equal(t, "Demo Title", got.Brand)
	assert.Equal(t, "Demo Press", got.Publisher)
	assert.Equal(t, t1, got.RecordAdded)
	assert.Equal(t, t2, got.RecordUpdated)
}

func TestBuildVolumeRefresh(t *testing.T) {
	current := BuildVolume(demoInput(t1), config.Policy{})

	in := demoInput(t2)
	in.Current = current
	in.Biblio.Details.Publisher = "Other Press"
	in.Biblio.Details.Pages = 0
	in.Detail = &scraper.Detail{}

	got := BuildVolume(in, config.Policy{RefreshVolumeDetails: true})
	assert.Equal(t, "Other Press", got.Publisher)
	assert.Equal(t, 192, got.Pages, "empty fresh value keeps the stored one")
	assert.Equal(t, "A demo.", got.Description)
	assert.Equal(t, t1, got.RecordAdded)
}

func TestBuildVolumeSeriesRules(t *testing.T) {
	tests := []struct {
		name       string
		stored     string
		storedConf float64
		match      series.Match
		want       string
	}{
		{"unresolved never clears", "100", 1, series.Unresolved(), "100"},
		{"fills missing", "", 0, demoMatch(), "100"},
		{"lower confidence refused", "200", 0.9, series.Match{Series: models.Series{ID: "100"}, Confidence: 0.5, Origin: series.OriginPartial}, "200"},
		{"higher confidence replaces", "200", 0.4, series.Match{Series: models.Series{ID: "100"}, Confidence: 0.8, Origin: series.OriginPartial}, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := demoInput(t2)
			in.Current = &models.Volume{ISBN: "ABC123", SeriesID: tt.stored, SeriesConfidence: tt.storedConf, RecordAdded: t1}
			in.Match = tt.match
			assert.Equal(t, tt.want, BuildVolume(in, config.Policy{}).SeriesID)
		})
	}
}

func TestCarryStock(t *testing.T) {
	key := models.ShopKey{ISBN: "ABC123", Store: StoreName, Condition: ConditionNew}
	stored := &models.ShopListing{ShopKey: key, StockStatus: models.StockInStock, LastStockUpdate: t1}

	same := CarryStock(models.ShopListing{ShopKey: key, StockStatus: models.StockInStock}, stored, t2)
	assert.Equal(t, t1, same.LastStockUpdate)

	changed := CarryStock(models.ShopListing{ShopKey: key, StockStatus: models.StockPreOrder}, stored, t2)
	assert.Equal(t, t2, changed.LastStockUpdate)

	created := CarryStock(models.ShopListing{ShopKey: key, StockStatus: models.StockInStock}, nil, t2)
	assert.Equal(t, t2, created.LastStockUpdate)
}

func TestBuildShopsAlternateShopPolicy(t *testing.T) {
	in := demoInput(t1)
	in.Biblio.Shops = []models.ShopListing{{ShopKey: models.ShopKey{ISBN: "ABC123", Store: "Amazon", Condition: "Used"}}}

	assert.Len(t, BuildShops(in, config.Policy{}), 1)
	shops := BuildShops(in, config.Policy{QueryAlternateShop: true})
	require.Len(t, shops, 2)
	assert.Equal(t, "ABC123CrunchyrollNew", shops[0].ItemID())
	assert.Equal(t, "Amazon", shops[1].Store)
}

func TestMergeSeries(t *testing.T) {
	meta := demoMatch().Series
	v3 := models.SeriesVolume{ISBN: "ABC123", Volume: "3", Category: "manga"}
	v1 := models.SeriesVolume{ISBN: "ABC121", Volume: "1", Category: "manga"}
	n2 := models.SeriesVolume{ISBN: "NOV2", Volume: "2", Category: "light novel"}

	s := MergeSeries(nil, &meta, v3, false)
	require.Equal(t, []models.SeriesVolume{v3}, s.Volumes)

	s = MergeSeries(s, &meta, v3, false)
	assert.Len(t, s.Volumes, 1, "double append keeps one member")

	s = MergeSeries(s, &meta, v1, false)
	s = MergeSeries(s, &meta, n2, false)
	assert.Equal(t, []string{"NOV2", "ABC121", "ABC123"}, isbns(s.Volumes))

	renamed := meta
	renamed.Title = "Renamed"
	kept := MergeSeries(s, &renamed, v1, false)
	assert.Equal(t, "Demo Title", kept.Title)
	refreshed := MergeSeries(s, &renamed, v1, true)
	assert.Equal(t, "Renamed", refreshed.Title)
	assert.Len(t, refreshed.Volumes, 3)

	assert.Nil(t, MergeSeries(nil, nil, v1, false))
}

func isbns(vs []models.SeriesVolume) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ISBN
	}
	return out
}

func TestBundleDetection(t *testing.T) {
	tests := []struct {
		id, name string
		bundle   bool
		kind     models.BundleType
	}{
		{"ABC123", "Demo Title Volume 3", false, models.BundleTypeBundle},
		{"ABC-BUNDLE", "Demo Title Starter Pack", true, models.BundleTypeBundle},
		{"XYZ", "Demo Title Box Set 1-3", true, models.BundleTypeBoxSet},
		{"XYZ", "Demo Title Manga Bundle", true, models.BundleTypeBundle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.bundle, IsBundle(tt.id, tt.name))
			assert.Equal(t, tt.kind, BundleTypeOf(tt.name))
		})
	}
}

func TestBundleRange(t *testing.T) {
	tests := []struct {
		text, name         string
		wantStart, wantEnd string
	}{
		{"This box set contains volumes 7-9 of the series.", "Demo Box Set", "7", "9"},
		{"Collects Volumes 4 through 6.", "Demo Box Set", "4", "6"},
		{"", "Demo Title Box Set 1-3", "1", "3"},
		{"", "Demo Title Box Set", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text+tt.name, func(t *testing.T) {
			start, end := BundleRange(tt.text, tt.name, "manga")
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestEngineIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := NewEngine(st, config.Policy{}, zaptest.NewLogger(t))

	run := func(now time.Time) {
		in := demoInput(now)
		cur, err := st.GetVolume(ctx, "ABC123")
		require.NoError(t, err)
		in.Current = cur
		if cur != nil {
			in.Detail = nil
		}
		vol, err := e.WriteVolume(ctx, in)
		require.NoError(t, err)
		_, err = e.WriteShops(ctx, in)
		require.NoError(t, err)
		_, err = e.WriteSeries(ctx, vol, in.Match)
		require.NoError(t, err)
		_, err = e.WriteMarket(ctx, "ABC123", in.Attrs.RetailPrice, now)
		require.NoError(t, err)
	}

	run(t1)
	firstVol, _ := st.GetVolume(ctx, "ABC123")
	firstSeries, _ := st.GetSeries(ctx, "100")
	firstShops, _ := st.ListShops(ctx)

	run(t2)
	secondVol, _ := st.GetVolume(ctx, "ABC123")
	secondSeries, _ := st.GetSeries(ctx, "100")
	secondShops, _ := st.ListShops(ctx)

	assert.Equal(t, t2, secondVol.RecordUpdated)
	secondVol.RecordUpdated = firstVol.RecordUpdated
	assert.Equal(t, firstVol, secondVol)
	assert.Equal(t, firstSeries, secondSeries)
	assert.Equal(t, firstShops, secondShops)

	price, _ := st.GetMarket(ctx, "ABC123")
	assert.Equal(t, t1, price.UpdatedAt)
}

func TestEngineConcurrentMembership(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := NewEngine(st, config.Policy{}, nil)
	match := demoMatch()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			vol := &models.Volume{ISBN: fmt.Sprintf("V%02d", n), Volume: fmt.Sprint(n), Category: "manga", SeriesID: "100"}
			_, err := e.WriteSeries(ctx, vol, match)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s, err := st.GetSeries(ctx, "100")
	require.NoError(t, err)
	require.Len(t, s.Volumes, 20)
	assert.Equal(t, "V01", s.Volumes[0].ISBN)
	assert.Equal(t, "V20", s.Volumes[19].ISBN)
}

type failingStore struct {
	*store.Memory
}

func (failingStore) CreateVolume(context.Context, *models.Volume) error {
	return fmt.Errorf("%w: disk full", store.ErrPersistence)
}

func (failingStore) GetShop(context.Context, models.ShopKey) (*models.ShopListing, error) {
	panic("boom")
}

func TestEngineErrors(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(failingStore{store.NewMemory()}, config.Policy{}, nil)

	_, err := e.WriteVolume(ctx, demoInput(t1))
	require.ErrorIs(t, err, store.ErrPersistence)

	_, err = e.WriteShops(ctx, demoInput(t1))
	require.ErrorIs(t, err, ErrReconciliation)
	assert.False(t, errors.Is(err, store.ErrPersistence))

	_, err = e.WriteVolume(ctx, Input{Now: t1})
	require.ErrorIs(t, err, ErrReconciliation)
}

func TestResolveBundle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	b := NewBundleResolver(st, config.Policy{}, nil)

	in := demoInput(t1)
	in.Attrs.ISBN = "DEMO-BUNDLE"
	in.Attrs.Name = "Demo Title Manga Bundle"
	in.Detail = &scraper.Detail{BundleLinks: []scraper.BundleLink{
		{ISBN: "ABC121", Name: "Demo Title Volume 1", CoverImage: "https://img/1.jpg"},
		{ISBN: "ABC122", Name: "Demo Title Volume 2", CoverImage: "https://img/2.jpg"},
	}}

	got, err := b.Resolve(ctx, in)
	require.NoError(t, err)
	require.Len(t, got.Contained, 2)
	assert.Equal(t, "https://img/2.jpg", got.Contained[1].CoverImage)
	assert.Equal(t, "100", got.SeriesID)

	in.CurrentBundle = got
	in.Detail = nil
	in.Now = t2
	again, err := b.Resolve(ctx, in)
	require.NoError(t, err)
	assert.Same(t, got, again)

	plain, err := b.Resolve(ctx, demoInput(t1))
	require.NoError(t, err)
	assert.Nil(t, plain)
}
