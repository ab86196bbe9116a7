package models

// Series is the normalized form of a series record resolved against the
// external metadata provider. Member volumes are kept in Volumes, ordered by
// category then volume number.
type Series struct {
	ID               string         `json:"series_id"`                   // external metadata id
	Title            string         `json:"title"`                       // closest matching title
	AssociatedTitles []string       `json:"associated_titles,omitempty"` // alternate titles from the provider
	URL              string         `json:"url,omitempty"`
	Category         string         `json:"category"` // "manga", "novel", "manhwa", ...
	Description      string         `json:"description,omitempty"`
	CoverImage       string         `json:"cover_image,omitempty"`
	Genres           []string       `json:"genres"`
	Themes           []Theme        `json:"themes"`
	LatestChapter    int            `json:"latest_chapter,omitempty"`
	ReleaseStatus    string         `json:"release_status,omitempty"` // raw provider status text
	Status           string         `json:"status,omitempty"`         // Ongoing, Completed, Hiatus, Cancelled, Unknown
	Authors          []Credit       `json:"authors"`
	Publishers       []Credit       `json:"publishers"`
	BayesianRating   float64        `json:"bayesian_rating,omitempty"`
	Rank             int            `json:"rank,omitempty"`
	Recommendations  []string       `json:"recommendations"`
	Volumes          []SeriesVolume `json:"volumes"`
}

// Resolved reports whether the series carries an external id.
func (s Series) Resolved() bool {
	return s.ID != ""
}

// SeriesVolume references a member volume of a series.
type SeriesVolume struct {
	ISBN     string `json:"isbn"`
	Volume   string `json:"volume,omitempty"`
	Category string `json:"category"`
}

// Theme is a provider category weighted by net votes.
type Theme struct {
	Theme string `json:"theme"`
	Votes int    `json:"votes"`
}

// Credit is a named contributor (author, artist, publisher) with its role.
type Credit struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
