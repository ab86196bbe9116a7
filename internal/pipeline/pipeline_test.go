package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mangacatalog/internal/config"
	"mangacatalog/internal/control"
	"mangacatalog/internal/fetch"
	"mangacatalog/internal/isbn"
	"mangacatalog/internal/scraper"
	"mangacatalog/internal/series"
	"mangacatalog/internal/store"
	"mangacatalog/pkg/models"
)

const listingTemplate = `<html><body>
<div class="pagination-text" data-totalcount="1"></div>
<div class="product" data-gtmdata='{"id":"ABC123","name":"Demo Title Volume 3","brand":"Demo Title","category":"manga","url":"/demo-title-volume-3-ABC123.html","price":"10.99","coupon":""}'>
  <div class="product-tile" data-segmentdata='{"Inventory_Status":"%s"}'>
    <img class="tile-image" src="/img/ABC123.jpg">
    <div class="price"><span class="value" content="10.99">$10.99</span></div>
  </div>
</div>
</body></html>`

const detailTemplate = `<html><body>
<div class="product-description"><div class="short-description"><p>%s</p></div></div>
<div class="slick-paging-image-container"><img class="img-fluid" src="/img/ABC123-back.jpg"></div>
</body></html>`

const lookupTemplate = `<html><body><div class="book-info"><dl>
<dt>Released: Mar 4th, 2025</dt>
<dt>Publisher: %s</dt>
<dt>Format: Paperback  (192 pages)</dt>
<dt>Authors: Jane Author</dt>
<dt>ISBN 10: 1975300001</dt>
</dl></div>
<div class="standard-offers"><table><tr>
<td class="logo"><span title="Amazon Mkt Used"></span></td>
<td class="condition" data-condition="Used"></td>
<td class="total">$7.45</td>
</tr></table></div></body></html>`

const seriesPage = `{"series_id": 100, "title": "Demo Title", "type": "Manga",
  "genres": [{"genre": "Action"}], "status": "3 Volumes (Ongoing)"}`

// catalogSite serves the storefront, the bibliographic site and the series
// API from one httptest server.
type catalogSite struct {
	mu          sync.Mutex
	stock       string
	description string
	publisher   string
	searches    atomic.Int32
	details  atomic.Int32
	lookups  atomic.Int32
	srv      *httptest.Server
}

func newCatalogSite(t *testing.T) *catalogSite {
	site := &catalogSite{
		stock:       models.StockInStock,
		description: "The third volume.",
		publisher:   "Demo Press",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/manga-books/", func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		stock := site.stock
		site.mu.Unlock()
		fmt.Fprintf(w, listingTemplate, stock)
	})
	mux.HandleFunc("/demo-title-volume-3-ABC123.html", func(w http.ResponseWriter, r *http.Request) {
		site.details.Add(1)
		site.mu.Lock()
		desc := site.description
		site.mu.Unlock()
		fmt.Fprintf(w, detailTemplate, desc)
	})
	mux.HandleFunc("/search/ABC123", func(w http.ResponseWriter, r *http.Request) {
		site.lookups.Add(1)
		site.mu.Lock()
		publisher := site.publisher
		site.mu.Unlock()
		fmt.Fprintf(w, lookupTemplate, publisher)
	})
	mux.HandleFunc("/v1/series/search", func(w http.ResponseWriter, r *http.Request) {
		site.searches.Add(1)
		fmt.Fprint(w, `{"results": [{"record": {"series_id": 100, "title": "Demo Title"}}]}`)
	})
	mux.HandleFunc("/v1/series/100", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, seriesPage)
	})
	site.srv = httptest.NewServer(mux)
	t.Cleanup(site.srv.Close)
	return site
}

func (s *catalogSite) setStock(v string) {
	s.mu.Lock()
	s.stock = v
	s.mu.Unlock()
}

func (s *catalogSite) revise(description, publisher string) {
	s.mu.Lock()
	s.description, s.publisher = description, publisher
	s.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newOrchestrator(t *testing.T, site *catalogSite, st store.Store, ctl control.Control, clk *clock, policy config.Policy) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	client := fetch.New(fetch.Options{Timeout: 2 * time.Second}, logger)
	base := site.srv.URL

	deps := Deps{
		Pages:    scraper.NewFetcher(client, base, 0),
		Resolver: series.NewResolver(series.NewClient(client, base), series.NewMapCache(), st, policy, logger),
		Biblio:   isbn.NewEnricher(client, base, logger, isbn.WithClock(clk.Now)),
		Details:  scraper.NewDetailFetcher(client, base),
		Store:    st,
		Control:  ctl,
	}
	opts := Options{Categories: []string{"Manga"}, PageSize: 100, Policy: policy}
	return New(deps, opts, logger, WithClock(clk.Now))
}

func TestRunNewVolume(t *testing.T) {
	site := newCatalogSite(t)
	st := store.NewMemory()
	t1 := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	clk := &clock{now: t1}
	o := newOrchestrator(t, site, st, nil, clk, config.Policy{QueryDetailPage: true})

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, int64(1), sum.Processed)
	assert.Equal(t, int64(1), sum.Created)
	assert.Zero(t, sum.Failed)
	assert.NotEmpty(t, sum.RunID)

	ctx := context.Background()
	vol, err := st.GetVolume(ctx, "ABC123")
	require.NoError(t, err)
	require.NotNil(t, vol)
	assert.Equal(t, "3", vol.Volume)
	assert.Equal(t, "100", vol.SeriesID)
	assert.Equal(t, 1.0, vol.SeriesConfidence)
	assert.Equal(t, "Demo Title", vol.Name)
	assert.Equal(t, "manga", vol.Category)
	assert.Equal(t, "The third volume.", vol.Description)
	assert.Equal(t, "2025-03-04", vol.ReleaseDate)
	assert.Equal(t, 192, vol.Pages)
	assert.Equal(t, t1, vol.RecordAdded)
	assert.Equal(t, vol.RecordAdded, vol.RecordUpdated)
	require.Len(t, vol.CoverImages, 2)

	s, err := st.GetSeries(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, []models.SeriesVolume{{ISBN: "ABC123", Volume: "3", Category: "manga"}}, s.Volumes)

	shop, err := st.GetShop(ctx, models.ShopKey{ISBN: "ABC123", Store: "Crunchyroll", Condition: "New"})
	require.NoError(t, err)
	require.NotNil(t, shop)
	assert.Equal(t, models.StockInStock, shop.StockStatus)
	assert.Equal(t, t1, shop.LastStockUpdate)

	price, err := st.GetMarket(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, 10.99, price.RetailPrice)
}

func TestRunStockChange(t *testing.T) {
	site := newCatalogSite(t)
	st := store.NewMemory()
	t1 := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	t3 := t2.Add(24 * time.Hour)
	clk := &clock{now: t1}
	o := newOrchestrator(t, site, st, nil, clk, config.Policy{QueryDetailPage: true})
	ctx := context.Background()
	key := models.ShopKey{ISBN: "ABC123", Store: "Crunchyroll", Condition: "New"}

	_, err := o.Run(ctx)
	require.NoError(t, err)
	before, _ := st.GetVolume(ctx, "ABC123")

	clk.Set(t2)
	sum, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Updated)
	shop, _ := st.GetShop(ctx, key)
	assert.Equal(t, t1, shop.LastStockUpdate, "unchanged label keeps its timestamp")

	site.setStock(models.StockOutOfStock)
	clk.Set(t3)
	_, err = o.Run(ctx)
	require.NoError(t, err)

	shop, _ = st.GetShop(ctx, key)
	assert.Equal(t, models.StockOutOfStock, shop.StockStatus)
	assert.Equal(t, t3, shop.LastStockUpdate)

	after, _ := st.GetVolume(ctx, "ABC123")
	assert.Equal(t, t3, after.RecordUpdated)
	after.RecordUpdated = before.RecordUpdated
	assert.Equal(t, before, after)

	s, _ := st.GetSeries(ctx, "100")
	assert.Len(t, s.Volumes, 1)
	assert.Equal(t, int32(1), site.details.Load(), "detail page read once for a described volume")
	assert.Equal(t, int32(1), site.lookups.Load(), "isbn lookup skipped for stored volumes")
	assert.Equal(t, int32(1), site.searches.Load(), "persisted series is reused")
}

func TestRunHonorsCancel(t *testing.T) {
	site := newCatalogSite(t)
	ctl := control.NewMemory()
	o := newOrchestrator(t, site, store.NewMemory(), ctl, &clock{now: time.Now()}, config.Policy{})

	// Run clears stale requests, so cancel from inside the first page fetch.
	o.deps.Pages = cancelingPages{inner: o.deps.Pages, ctl: ctl}
	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Canceled)
	assert.Zero(t, sum.Processed)

	p, _ := ctl.Progress(context.Background())
	assert.Equal(t, control.StateCanceled, p.State)
}

type cancelingPages struct {
	inner PageSource
	ctl   control.Control
}

func (c cancelingPages) FetchPage(ctx context.Context, q scraper.ListingQuery) (*scraper.Page, error) {
	if err := c.ctl.RequestCancel(ctx); err != nil {
		return nil, err
	}
	return c.inner.FetchPage(ctx, q)
}

type failingPages struct{}

func (failingPages) FetchPage(_ context.Context, q scraper.ListingQuery) (*scraper.Page, error) {
	return nil, fmt.Errorf("%w: offset %d: boom", scraper.ErrPageFetch, q.Offset)
}

func TestRunPageFetchFailureSkipsPage(t *testing.T) {
	o := New(Deps{Pages: failingPages{}, Store: store.NewMemory()}, Options{PageSize: 10, End: 30}, nil)
	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.PagesFailed)
	assert.Equal(t, int64(3), sum.Failures[PageFetch])
}

type brokenStore struct {
	*store.Memory
}

func (brokenStore) GetVolume(context.Context, string) (*models.Volume, error) {
	return nil, fmt.Errorf("%w: database is locked", store.ErrPersistence)
}

func TestRunPersistenceFailureIsReturned(t *testing.T) {
	site := newCatalogSite(t)
	o := newOrchestrator(t, site, brokenStore{store.NewMemory()}, nil, &clock{now: time.Now()}, config.Policy{})

	sum, err := o.Run(context.Background())
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Persistence, se.Kind)
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.Equal(t, int64(1), sum.Failed)
}

func rawItem(t *testing.T, html string) scraper.RawItem {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return scraper.RawItem{Selection: doc.Find("div.product").First(), BaseURL: "https://store.example"}
}

func TestProcessItemExtractionFailure(t *testing.T) {
	o := New(Deps{Store: store.NewMemory()}, Options{}, nil)
	_, err := o.ProcessItem(context.Background(), rawItem(t, `<div class="product" data-gtmdata='{"id":"X1"'></div>`))

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Extraction, se.Kind)
	assert.Empty(t, se.ISBN, "unreadable blob yields no id")
	assert.ErrorIs(t, err, scraper.ErrMalformedItem)
}

type failingBiblio struct{}

func (failingBiblio) Lookup(context.Context, string) (isbn.Result, error) {
	return isbn.Result{}, errors.New("timeout")
}

func TestProcessItemEnrichmentDegrades(t *testing.T) {
	st := store.NewMemory()
	o := New(Deps{Store: st, Biblio: failingBiblio{}}, Options{}, nil)

	res, err := o.ProcessItem(context.Background(), rawItem(t, fmt.Sprintf(listingTemplate, models.StockPreOrder)))
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, Enrichment, res.Warnings[0].Kind)
	assert.True(t, res.Created)
	assert.False(t, res.Match.Resolved())

	vol, err := st.GetVolume(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Empty(t, vol.Publisher)
	assert.Empty(t, vol.SeriesID)
}

func TestRunRefreshPolicies(t *testing.T) {
	amazonUsed := models.ShopKey{ISBN: "ABC123", Store: "Amazon", Condition: "Used"}

	tests := []struct {
		name            string
		policy          config.Policy
		wantLookups     int32
		wantDetails     int32
		wantDescription string
		wantPublisher   string
		wantMarketplace bool
	}{
		{
			name:            "defaults keep stored details",
			policy:          config.Policy{QueryDetailPage: true},
			wantLookups:     1,
			wantDetails:     1,
			wantDescription: "The third volume.",
			wantPublisher:   "Demo Press",
		},
		{
			name:            "isbn lookup without refresh leaves volume alone",
			policy:          config.Policy{QueryISBNDB: true},
			wantLookups:     2,
			wantDetails:     1,
			wantDescription: "The third volume.",
			wantPublisher:   "Demo Press",
		},
		{
			name:            "refresh rereads described volume",
			policy:          config.Policy{RefreshVolumeDetails: true, QueryDetailPage: true},
			wantLookups:     1,
			wantDetails:     2,
			wantDescription: "Revised blurb.",
			wantPublisher:   "Demo Press",
		},
		{
			name:            "refresh overwrites bibliographic fields",
			policy:          config.Policy{RefreshVolumeDetails: true, QueryISBNDB: true},
			wantLookups:     2,
			wantDetails:     1,
			wantDescription: "The third volume.",
			wantPublisher:   "New Press",
		},
		{
			name:            "alternate shop needs a lookup",
			policy:          config.Policy{QueryAlternateShop: true},
			wantLookups:     1,
			wantDetails:     1,
			wantDescription: "The third volume.",
			wantPublisher:   "Demo Press",
		},
		{
			name:            "alternate shop stores marketplace offers",
			policy:          config.Policy{QueryAlternateShop: true, QueryISBNDB: true},
			wantLookups:     2,
			wantDetails:     1,
			wantDescription: "The third volume.",
			wantPublisher:   "Demo Press",
			wantMarketplace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			site := newCatalogSite(t)
			st := store.NewMemory()
			clk := &clock{now: time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)}

			_, err := newOrchestrator(t, site, st, nil, clk, config.Policy{QueryDetailPage: true}).Run(ctx)
			require.NoError(t, err)

			site.revise("Revised blurb.", "New Press")
			clk.Set(clk.Now().Add(time.Hour))
			sum, err := newOrchestrator(t, site, st, nil, clk, tt.policy).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), sum.Updated)

			assert.Equal(t, tt.wantLookups, site.lookups.Load(), "lookups")
			assert.Equal(t, tt.wantDetails, site.details.Load(), "detail pages")

			vol, err := st.GetVolume(ctx, "ABC123")
			require.NoError(t, err)
			assert.Equal(t, tt.wantDescription, vol.Description)
			assert.Equal(t, tt.wantPublisher, vol.Publisher)
			assert.Equal(t, "100", vol.SeriesID)

			shop, err := st.GetShop(ctx, amazonUsed)
			require.NoError(t, err)
			if !tt.wantMarketplace {
				assert.Nil(t, shop)
				return
			}
			require.NotNil(t, shop)
			assert.Equal(t, 7.45, shop.Price)
			assert.Equal(t, "https://www.amazon.com/dp/1975300001", shop.URL)
			assert.Equal(t, clk.Now(), shop.LastStockUpdate)
		})
	}
}

// listingPage builds a parsed listing page holding n distinct products.
func listingPage(t *testing.T, offset, total, n int) *scraper.Page {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><div class="pagination-text" data-totalcount="%d"></div>`, total)
	for i := range n {
		id := fmt.Sprintf("ITEM%d-%d", offset, i)
		fmt.Fprintf(&b, `<div class="product" data-gtmdata='{"id":"%s","name":"Demo Title Volume %d","brand":"Demo Title","category":"manga","url":"/%s.html","price":"9.99"}'>
<div class="product-tile" data-segmentdata='{"Inventory_Status":"In Stock"}'></div></div>`, id, i+1, id)
	}
	b.WriteString(`</body></html>`)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(b.String()))
	require.NoError(t, err)
	return scraper.ParsePage(doc, offset, "https://store.example")
}

// flakyPages fails the first fetch and then serves a storefront of total
// items.
type flakyPages struct {
	t       *testing.T
	total   int
	fetches atomic.Int32
}

func (f *flakyPages) FetchPage(_ context.Context, q scraper.ListingQuery) (*scraper.Page, error) {
	if f.fetches.Add(1) == 1 {
		return nil, fmt.Errorf("%w: offset %d: connection reset", scraper.ErrPageFetch, q.Offset)
	}
	n := max(min(q.Size, f.total-q.Offset), 0)
	return listingPage(f.t, q.Offset, f.total, n), nil
}

// inflightBiblio records the most lookups in flight at once.
type inflightBiblio struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (b *inflightBiblio) Lookup(context.Context, string) (isbn.Result, error) {
	b.mu.Lock()
	b.current++
	b.peak = max(b.peak, b.current)
	b.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	b.mu.Lock()
	b.current--
	b.mu.Unlock()
	return isbn.Result{}, nil
}

func (b *inflightBiblio) Peak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

func TestRunFailedFirstPageStillCapsEnd(t *testing.T) {
	pages := &flakyPages{t: t, total: 150}
	biblio := &inflightBiblio{}
	o := New(Deps{Pages: pages, Biblio: biblio, Store: store.NewMemory()}, Options{
		PageSize:         100,
		End:              100000,
		FirstPageWorkers: 1,
		Workers:          8,
	}, nil)

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), pages.fetches.Load(), "end capped by the first page that arrived")
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 1, sum.PagesFailed)
	assert.Equal(t, int64(50), sum.Processed)
	assert.Equal(t, 1, biblio.Peak(), "first fetched page runs on the small pool")
}

// recordingControl keeps every published processed count.
type recordingControl struct {
	*control.Memory
	mu        sync.Mutex
	processed []int64
}

func (c *recordingControl) PublishProgress(ctx context.Context, p control.Progress) error {
	c.mu.Lock()
	c.processed = append(c.processed, p.Processed)
	c.mu.Unlock()
	return c.Memory.PublishProgress(ctx, p)
}

type staticPages struct {
	t     *testing.T
	total int
}

func (s staticPages) FetchPage(_ context.Context, q scraper.ListingQuery) (*scraper.Page, error) {
	n := max(min(q.Size, s.total-q.Offset), 0)
	return listingPage(s.t, q.Offset, s.total, n), nil
}

func TestRunProgressNeverStepsBack(t *testing.T) {
	ctl := &recordingControl{Memory: control.NewMemory()}
	o := New(Deps{Pages: staticPages{t: t, total: 60}, Store: store.NewMemory(), Control: ctl}, Options{
		PageSize:         30,
		FirstPageWorkers: 8,
		Workers:          8,
	}, nil)

	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(60), sum.Processed)

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	require.NotEmpty(t, ctl.processed)
	for i := 1; i < len(ctl.processed); i++ {
		require.GreaterOrEqual(t, ctl.processed[i], ctl.processed[i-1], "snapshot %d", i)
	}
	assert.Equal(t, int64(60), ctl.processed[len(ctl.processed)-1])
}
