package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mangacatalog/pkg/models"
)

// Boilerplate around the estimated ship date.
var shipDateNoise = []string{
	"ESTIMATED TO SHIP",
	"Ship date is an estimate and not guaranteed",
	"Pre-order FAQ",
}

// Detail is what a product page adds to the listing tile.
type Detail struct {
	Description string
	// FullText is the whole description block, used for bundle ranges.
	FullText    string
	Images      []models.CoverImage
	ReleaseDate string
	BundleLinks []BundleLink
}

// BundleLink is one volume listed in a bundle's contents.
type BundleLink struct {
	ISBN       string
	Name       string
	URL        string
	CoverImage string
}

// DetailFetcher reads product pages.
type DetailFetcher struct {
	client  DocumentGetter
	baseURL string
}

// NewDetailFetcher creates a DetailFetcher; baseURL resolves relative links.
func NewDetailFetcher(client DocumentGetter, baseURL string) *DetailFetcher {
	return &DetailFetcher{client: client, baseURL: baseURL}
}

// Fetch retrieves the product page at pageURL.
func (d *DetailFetcher) Fetch(ctx context.Context, pageURL, primaryCover string) (*Detail, error) {
	doc, err := d.client.Document(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("detail page %s: %w", pageURL, err)
	}
	base := d.baseURL
	if base == "" {
		base = pageURL
	}
	return ParseDetail(doc, base, primaryCover), nil
}

// ParseDetail extracts description, carousel images, release date and
// bundle contents. An unreadable release date is left empty.
func ParseDetail(doc *goquery.Document, baseURL, primaryCover string) *Detail {
	d := &Detail{}

	block := doc.Find("div.product-description").First()
	var paras []string
	block.Find("div.short-description p").Each(func(_ int, p *goquery.Selection) {
		paras = append(paras, strings.TrimSpace(p.Text()))
	})
	d.Description = strings.Join(paras, "\n")
	d.FullText = strings.TrimSpace(block.Text())

	seen := map[string]struct{}{}
	if primaryCover != "" {
		seen[imageKey(primaryCover)] = struct{}{}
	}
	doc.Find("div.slick-paging-image-container img.img-fluid").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		src = resolveURL(baseURL, src)
		key := imageKey(src)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		d.Images = append(d.Images, models.CoverImage{Name: "thumbnail", URL: src})
	})

	if street := doc.Find("div.pre-order-street-date").First(); street.Length() > 0 {
		d.ReleaseDate = parseStreetDate(street.Text())
	}

	doc.Find("div.bundle-contents a").Each(func(_ int, a *goquery.Selection) {
		link := BundleLink{
			Name: strings.TrimSpace(a.Text()),
		}
		if title, ok := a.Attr("title"); ok && link.Name == "" {
			link.Name = strings.TrimSpace(title)
		}
		if href, ok := a.Attr("href"); ok {
			link.URL = resolveURL(baseURL, href)
		}
		if pid, ok := a.Attr("data-pid"); ok {
			link.ISBN = strings.TrimSpace(pid)
		}
		if src, ok := a.Find("img").First().Attr("src"); ok {
			link.CoverImage = resolveURL(baseURL, src)
		}
		if link.Name == "" && link.ISBN == "" {
			return
		}
		d.BundleLinks = append(d.BundleLinks, link)
	})

	return d
}

// parseStreetDate handles "Release date: 1/2/2006" (zero padding optional) and
// "ESTIMATED TO SHIP January 2, 2006 ..." forms.
func parseStreetDate(text string) string {
	text = strings.TrimSpace(text)
	if _, after, ok := strings.Cut(text, "Release date:"); ok {
		if t, err := time.Parse("1/2/2006", strings.TrimSpace(after)); err == nil {
			return t.Format(time.DateOnly)
		}
		return ""
	}
	for _, noise := range shipDateNoise {
		text = strings.ReplaceAll(text, noise, "")
	}
	text = strings.Join(strings.Fields(text), " ")
	if t, err := time.Parse("January 2, 2006", text); err == nil {
		return t.Format(time.DateOnly)
	}
	return ""
}

// imageKey compares image URLs without their sizing query.
func imageKey(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
