// Package scraper reads the storefront: paginated listing pages, the product
// tiles inside them, and individual product detail pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrPageFetch marks a listing page that could not be retrieved or read.
var ErrPageFetch = errors.New("page fetch failed")

const listingPath = "/collections/manga-books/"

// DocumentGetter retrieves and parses an HTML document.
type DocumentGetter interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
}

// ListingQuery selects one listing page.
type ListingQuery struct {
	Offset     int
	Size       int
	Categories []string
}

// RawItem is one product block of a listing page.
type RawItem struct {
	Selection *goquery.Selection
	BaseURL   string
}

// Page is a parsed listing page.
type Page struct {
	Offset     int
	TotalCount int
	Items      []RawItem
}

// Fetcher retrieves listing pages, keeping at least PageDelay between two
// consecutive fetches.
type Fetcher struct {
	client    DocumentGetter
	baseURL   string
	pageDelay time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewFetcher creates a Fetcher for the storefront at baseURL.
func NewFetcher(client DocumentGetter, baseURL string, pageDelay time.Duration) *Fetcher {
	return &Fetcher{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageDelay: pageDelay,
		now:       time.Now,
	}
}

// ListingURL renders the storefront listing URL for q.
func (f *Fetcher) ListingURL(q ListingQuery) string {
	cats := make([]string, 0, len(q.Categories))
	for _, c := range q.Categories {
		cats = append(cats, url.PathEscape(c))
	}
	return fmt.Sprintf("%s%s?cgid=manga-books&srule=New-to-Old&prefn1=subcategory&prefv1=%s&start=%d&sz=%d",
		f.baseURL, listingPath, strings.Join(cats, "|"), q.Offset, q.Size)
}

// FetchPage retrieves and parses one listing page. Errors wrap ErrPageFetch.
func (f *Fetcher) FetchPage(ctx context.Context, q ListingQuery) (*Page, error) {
	if err := f.wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: offset %d: %w", ErrPageFetch, q.Offset, err)
	}

	doc, err := f.client.Document(ctx, f.ListingURL(q))
	if err != nil {
		return nil, fmt.Errorf("%w: offset %d: %w", ErrPageFetch, q.Offset, err)
	}
	return ParsePage(doc, q.Offset, f.baseURL), nil
}

// ParsePage extracts the total count and product blocks from a listing
// document. A missing total falls back to the items seen so far.
func ParsePage(doc *goquery.Document, offset int, baseURL string) *Page {
	page := &Page{Offset: offset}
	doc.Find("div.product").Each(func(_ int, s *goquery.Selection) {
		page.Items = append(page.Items, RawItem{Selection: s, BaseURL: baseURL})
	})

	page.TotalCount = offset + len(page.Items)
	if raw, ok := doc.Find("div.pagination-text").First().Attr("data-totalcount"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			page.TotalCount = n
		}
	}
	return page
}

func (f *Fetcher) wait(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.last.IsZero() && f.pageDelay > 0 {
		if remaining := f.pageDelay - f.now().Sub(f.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	f.last = f.now()
	return nil
}
