// Package isbn looks up publication details and secondary marketplace
// offers for a catalog identifier on the bibliographic search site.
package isbn

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"mangacatalog/internal/logging"
	"mangacatalog/pkg/models"
)

const (
	marketplaceStore = "Amazon"
	marketplaceLabel = "Amazon Mkt Used"
	marketplaceURL   = "https://www.amazon.com/dp/"
)

var (
	ordinalSuffix = regexp.MustCompile(`(\d)(st|nd|rd|th)`)
	releaseLayout = []string{"Jan 2, 2006", "January 2, 2006", time.DateOnly}
)

// DocumentGetter retrieves and parses an HTML document.
type DocumentGetter interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
}

// Details are the publication fields found for an identifier. Empty means
// not found.
type Details struct {
	ReleaseDate string
	Publisher   string
	Format      string
	Pages       int
	Authors     string
	ISBN10      string
}

// Complete reports whether every field was located.
func (d Details) Complete() bool {
	return d.ReleaseDate != "" && d.Publisher != "" && d.Format != "" &&
		d.Pages != 0 && d.Authors != "" && d.ISBN10 != ""
}

// Result is one lookup.
type Result struct {
	Details Details
	Shops   []models.ShopListing
}

// Enricher queries the bibliographic site.
type Enricher struct {
	client  DocumentGetter
	baseURL string
	now     func() time.Time
	logger  *zap.Logger
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithClock replaces time.Now, used to detect placeholder release dates.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// NewEnricher creates an Enricher for the site at baseURL.
func NewEnricher(client DocumentGetter, baseURL string, logger *zap.Logger, opts ...Option) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enricher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
		logger:  logger.Named("isbn"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SearchURL renders the lookup URL for id.
func (e *Enricher) SearchURL(id string) string {
	return e.baseURL + "/search/" + url.PathEscape(id) + "?buysellrent=buy"
}

// Lookup fetches and parses the lookup page for id. Only network errors are
// returned; missing fields are left empty.
func (e *Enricher) Lookup(ctx context.Context, id string) (Result, error) {
	doc, err := e.client.Document(ctx, e.SearchURL(id))
	if err != nil {
		return Result{}, fmt.Errorf("isbn lookup %s: %w", id, err)
	}
	return e.Parse(doc, id), nil
}

// Parse extracts details and marketplace offers from a lookup page.
func (e *Enricher) Parse(doc *goquery.Document, id string) Result {
	log := e.logger.With(zap.String(logging.FieldISBN, id))

	details := e.parseDetails(doc, log)
	if !details.Complete() {
		log.Warn("incomplete bibliographic details", zap.Any("details", details))
	}
	return Result{
		Details: details,
		Shops:   parseOffers(doc, id, details.ISBN10),
	}
}

func (e *Enricher) parseDetails(doc *goquery.Document, log *zap.Logger) Details {
	var d Details
	info := doc.Find("div.book-info").First()
	if info.Length() == 0 {
		log.Warn("book info block not found")
		return d
	}

	info.Find("dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		label, value, ok := strings.Cut(dt.Text(), ": ")
		if !ok {
			return true
		}
		label = strings.TrimSpace(label)
		switch {
		case strings.HasSuffix(label, "Released") && d.ReleaseDate == "":
			d.ReleaseDate = e.parseRelease(value, log)
		case strings.HasSuffix(label, "Publisher") && d.Publisher == "":
			d.Publisher = strings.TrimSpace(value)
		case strings.HasSuffix(label, "Format") && d.Format == "":
			d.Format, d.Pages = splitFormat(value)
		case strings.HasSuffix(label, "Authors") && d.Authors == "":
			d.Authors = strings.TrimSpace(value)
		case strings.HasSuffix(label, "ISBN 10") && d.ISBN10 == "":
			d.ISBN10 = strings.TrimSpace(value)
		}
		return !d.Complete()
	})
	return d
}

// parseRelease returns an ISO date, or "" when unreadable or equal to today
// (the site renders unknown dates as the current day).
func (e *Enricher) parseRelease(raw string, log *zap.Logger) string {
	cleaned := ordinalSuffix.ReplaceAllString(strings.TrimSpace(raw), "$1")
	for _, layout := range releaseLayout {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		date := t.Format(time.DateOnly)
		if date == e.now().Format(time.DateOnly) {
			log.Warn("discarding release date equal to today", zap.String("release_date", date))
			return ""
		}
		return date
	}
	log.Warn("release date not in a known format", zap.String("raw", raw))
	return ""
}

// splitFormat reads "Paperback  (192 pages)".
func splitFormat(raw string) (string, int) {
	format, rest, ok := strings.Cut(raw, "  (")
	if !ok {
		return strings.TrimSpace(raw), 0
	}
	pagesText, _, _ := strings.Cut(rest, " pages")
	pages, err := strconv.Atoi(strings.TrimSpace(pagesText))
	if err != nil {
		pages = 0
	}
	return strings.TrimSpace(format), pages
}

func parseOffers(doc *goquery.Document, id, isbn10 string) []models.ShopListing {
	if isbn10 == "" {
		return nil
	}
	var shops []models.ShopListing
	doc.Find("div.standard-offers tr").Each(func(_ int, row *goquery.Selection) {
		title, _ := row.Find("td.logo span").First().Attr("title")
		if strings.TrimSpace(title) != marketplaceLabel {
			return
		}
		condition, ok := row.Find("td.condition").First().Attr("data-condition")
		if !ok || strings.TrimSpace(condition) == "" {
			return
		}
		priceText := strings.TrimSpace(row.Find("td.total").First().Text())
		price, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimPrefix(priceText, "$"), ",", ""), 64)
		if err != nil {
			return
		}
		shops = append(shops, models.ShopListing{
			ShopKey: models.ShopKey{
				ISBN:      id,
				Store:     marketplaceStore,
				Condition: strings.TrimSpace(condition),
			},
			URL:   marketplaceURL + isbn10,
			Price: price,
		})
	})
	return shops
}
