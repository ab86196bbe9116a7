package models

import "time"

// BundleType distinguishes box sets from multi-volume bundles.
type BundleType string

const (
	BundleTypeBoxSet BundleType = "box-set"
	BundleTypeBundle BundleType = "bundle"
)

// Bundle is a sellable unit that contains several volumes.
//
// Box sets carry a numeric StartVolume/EndVolume range; bundles carry the
// explicit Contained list scraped from their product page.
type Bundle struct {
	ISBN          string         `json:"isbn"`
	SeriesID      string         `json:"series_id,omitempty"`
	Shop          ShopKey        `json:"shop"`
	CoverImage    string         `json:"cover_image,omitempty"`
	Type          BundleType     `json:"type"`
	StartVolume   string         `json:"start_volume,omitempty"`
	EndVolume     string         `json:"end_volume,omitempty"`
	Contained     []BundleVolume `json:"contained,omitempty"`
	RecordAdded   time.Time      `json:"record_added_date"`
	RecordUpdated time.Time      `json:"record_updated_date"`
}

// BundleVolume is a stub for one volume listed inside a bundle.
type BundleVolume struct {
	ISBN       string `json:"isbn,omitempty"`
	Name       string `json:"name"`
	URL        string `json:"url,omitempty"`
	CoverImage string `json:"cover_image,omitempty"`
}
