package models

import "time"

// Volume is one sellable book tracked by its catalog identifier.
//
// Empty strings and zero values stand for fields the sources did not provide.
// RecordAdded is set once on creation; RecordUpdated moves on every pass.
type Volume struct {
	ISBN             string       `json:"isbn"`
	Brand            string       `json:"brand"`
	SeriesID         string       `json:"series_id,omitempty"`
	SeriesTitle      string       `json:"series,omitempty"`
	SeriesConfidence float64      `json:"series_match_confidence,omitempty"`
	DisplayName      string       `json:"display_name"`
	Name             string       `json:"name"`
	NormalizedName   string       `json:"normalized_name"`
	Category         string       `json:"category"`
	Volume           string       `json:"volume,omitempty"` // "7", "7.5", "7-8"
	URL              string       `json:"url"`
	CoverImages      []CoverImage `json:"cover_images"`
	Description      string       `json:"description,omitempty"`
	ReleaseDate      string       `json:"release_date,omitempty"` // 2006-01-02
	Publisher        string       `json:"publisher,omitempty"`
	Format           string       `json:"format,omitempty"`
	Pages            int          `json:"pages,omitempty"`
	Authors          string       `json:"authors,omitempty"`
	ISBN10           string       `json:"isbn_10,omitempty"`
	RecordAdded      time.Time    `json:"record_added_date"`
	RecordUpdated    time.Time    `json:"record_updated_date"`
}

// CoverImage is a labelled image URL ("primary", "thumbnail").
type CoverImage struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Member returns the series membership entry for the volume.
func (v Volume) Member() SeriesVolume {
	return SeriesVolume{ISBN: v.ISBN, Volume: v.Volume, Category: v.Category}
}

// MarketPrice tracks the storefront retail price for a catalog identifier.
type MarketPrice struct {
	ISBN        string    `json:"isbn"`
	RetailPrice float64   `json:"retail_price"`
	UpdatedAt   time.Time `json:"updated_at"`
}
