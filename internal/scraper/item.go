package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrMalformedItem marks a product block whose embedded metadata is missing
// or unreadable.
var ErrMalformedItem = errors.New("malformed item")

// ItemAttributes is the normalized view of one product tile.
type ItemAttributes struct {
	ISBN                string
	Name                string
	Brand               string
	Category            string
	URL                 string
	Price               float64
	StockStatus         string
	Coupon              string
	CoverImage          string
	PromotionText       string
	Promotion           string
	PromotionPercentage float64
	IsOnSale            bool
	Exclusive           bool
	BackorderDetails    string
	RetailPrice         float64

	// Attributes holds every merged tracking/tile value as text.
	Attributes map[string]string
}

// ExtractItem merges the tracking blob (data-gtmdata) with the tile blob
// (div.product-tile[data-segmentdata]) and maps the result field by field.
// Tile values win on conflicting keys.
func ExtractItem(item RawItem) (*ItemAttributes, error) {
	s := item.Selection
	if s == nil {
		return nil, fmt.Errorf("%w: empty block", ErrMalformedItem)
	}

	gtm, ok := s.Attr("data-gtmdata")
	if !ok {
		return nil, fmt.Errorf("%w: missing data-gtmdata", ErrMalformedItem)
	}
	merged, err := decodeBlob(gtm)
	if err != nil {
		return nil, fmt.Errorf("%w: data-gtmdata: %w", ErrMalformedItem, err)
	}

	tile := s.Find("div.product-tile").First()
	segment, ok := tile.Attr("data-segmentdata")
	if !ok {
		return nil, fmt.Errorf("%w: missing data-segmentdata", ErrMalformedItem)
	}
	tileAttrs, err := decodeBlob(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: data-segmentdata: %w", ErrMalformedItem, err)
	}
	for k, v := range tileAttrs {
		merged[k] = v
	}

	attrs := &ItemAttributes{
		ISBN:        merged["id"],
		Name:        merged["name"],
		Brand:       merged["brand"],
		Category:    merged["category"],
		URL:         resolveURL(item.BaseURL, merged["url"]),
		Price:       parseFloat(merged["price"]),
		StockStatus: merged["Inventory_Status"],
		Coupon:      merged["coupon"],
		Attributes:  merged,
	}
	if attrs.ISBN == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedItem)
	}

	if src, ok := s.Find("img.tile-image").First().Attr("src"); ok {
		attrs.CoverImage = resolveURL(item.BaseURL, src)
	}

	promo := s.Find("div.plp-promotion").First()
	if promo.Length() > 0 {
		attrs.PromotionText = strings.TrimSpace(promo.Text())
		attrs.Promotion, attrs.PromotionPercentage = parsePromotion(attrs.PromotionText)
	}
	attrs.IsOnSale = s.Find("div.sale").Length() > 0
	attrs.Exclusive = s.Find("div.exclusive").Length() > 0
	attrs.BackorderDetails = strings.TrimSpace(s.Find("div.back-order-instock-date").First().Text())
	attrs.RetailPrice = retailPrice(s, attrs.Price)

	return attrs, nil
}

// PeekID returns the item id from the tracking blob without full extraction.
func PeekID(item RawItem) string {
	if item.Selection == nil {
		return ""
	}
	raw, ok := item.Selection.Attr("data-gtmdata")
	if !ok {
		return ""
	}
	m, err := decodeBlob(raw)
	if err != nil {
		return ""
	}
	return m["id"]
}

// decodeBlob flattens a JSON object into strings; numbers keep their
// literal form.
func decodeBlob(raw string) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("not an object")
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = strings.TrimSpace(val)
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out, nil
}

// parsePromotion reads badges such as "20% Off | Holiday Sale".
func parsePromotion(text string) (string, float64) {
	if text == "" {
		return "", 0
	}
	name := ""
	if _, after, found := strings.Cut(text, "| "); found {
		name = strings.TrimSpace(after)
	}
	pct := 0.0
	if before, _, found := strings.Cut(text, "%"); found {
		pct = parseFloat(before)
	}
	return name, pct
}

func retailPrice(s *goquery.Selection, fallback float64) float64 {
	best := 0.0
	found := false
	s.Find("div.price span.value").Each(func(_ int, v *goquery.Selection) {
		content, ok := v.Attr("content")
		if !ok {
			return
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
		if err != nil {
			return
		}
		if !found || p > best {
			best, found = p, true
		}
	})
	if !found {
		return fallback
	}
	return best
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
