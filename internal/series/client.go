package series

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"mangacatalog/pkg/models"
)

const maxThemes = 15

// SearchHit is one ranked result of a title search.
type SearchHit struct {
	ID    string
	Title string
}

// Source is the external series metadata service.
type Source interface {
	Search(ctx context.Context, name string) ([]SearchHit, error)
	Series(ctx context.Context, id string) (*models.Series, error)
}

// JSONDoer performs JSON requests.
type JSONDoer interface {
	GetJSON(ctx context.Context, url string, out any) error
	PostJSON(ctx context.Context, url string, payload, out any) error
}

// Client speaks the MangaUpdates v1 API.
type Client struct {
	http    JSONDoer
	baseURL string
}

// NewClient creates a Client for the API at baseURL.
func NewClient(http JSONDoer, baseURL string) *Client {
	return &Client{http: http, baseURL: strings.TrimRight(baseURL, "/")}
}

type searchRequest struct {
	Search string `json:"search"`
	SType  string `json:"stype"`
}

type searchResponse struct {
	TotalHits int `json:"total_hits"`
	Results   []struct {
		Record struct {
			SeriesID json.Number `json:"series_id"`
			Title    string      `json:"title"`
		} `json:"record"`
		HitTitle string `json:"hit_title"`
	} `json:"results"`
}

// Search runs a title search and returns hits in service order.
func (c *Client) Search(ctx context.Context, name string) ([]SearchHit, error) {
	var resp searchResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/v1/series/search", searchRequest{Search: name, SType: "title"}, &resp); err != nil {
		return nil, fmt.Errorf("series search %q: %w", name, err)
	}
	hits := make([]SearchHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		id := r.Record.SeriesID.String()
		if id == "" {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Title: r.Record.Title})
	}
	return hits, nil
}

type seriesResponse struct {
	SeriesID   json.Number `json:"series_id"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Associated []struct {
		Title string `json:"title"`
	} `json:"associated"`
	Description string `json:"description"`
	Image       struct {
		URL struct {
			Original string `json:"original"`
		} `json:"url"`
	} `json:"image"`
	Type   string `json:"type"`
	Genres []struct {
		Genre string `json:"genre"`
	} `json:"genres"`
	Categories []struct {
		Category   string `json:"category"`
		VotesPlus  int    `json:"votes_plus"`
		VotesMinus int    `json:"votes_minus"`
	} `json:"categories"`
	LatestChapter int     `json:"latest_chapter"`
	Status        *string `json:"status"`
	Authors       []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"authors"`
	Publishers []struct {
		PublisherName string `json:"publisher_name"`
		Type          string `json:"type"`
	} `json:"publishers"`
	BayesianRating float64 `json:"bayesian_rating"`
	Rank           struct {
		Position struct {
			Year int `json:"year"`
		} `json:"position"`
	} `json:"rank"`
	Recommendations []struct {
		SeriesID json.Number `json:"series_id"`
	} `json:"recommendations"`
}

// Series fetches full metadata for id.
func (c *Client) Series(ctx context.Context, id string) (*models.Series, error) {
	var resp seriesResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"/v1/series/"+id, &resp); err != nil {
		return nil, fmt.Errorf("series %s: %w", id, err)
	}
	return resp.toModel(), nil
}

func (r seriesResponse) toModel() *models.Series {
	s := &models.Series{
		ID:             r.SeriesID.String(),
		Title:          r.Title,
		URL:            r.URL,
		Category:       r.Type,
		Description:    r.Description,
		CoverImage:     r.Image.URL.Original,
		LatestChapter:  r.LatestChapter,
		Status:         normalizeStatus(r.Status),
		BayesianRating: r.BayesianRating,
		Rank:           r.Rank.Position.Year,
	}
	if r.Status != nil {
		s.ReleaseStatus = *r.Status
	}
	for _, a := range r.Associated {
		if a.Title != "" {
			s.AssociatedTitles = append(s.AssociatedTitles, a.Title)
		}
	}
	for _, g := range r.Genres {
		s.Genres = append(s.Genres, g.Genre)
	}
	for _, c := range r.Categories {
		if votes := c.VotesPlus - c.VotesMinus; votes > 0 {
			s.Themes = append(s.Themes, models.Theme{Theme: c.Category, Votes: votes})
		}
	}
	sort.SliceStable(s.Themes, func(i, j int) bool { return s.Themes[i].Votes > s.Themes[j].Votes })
	if len(s.Themes) > maxThemes {
		s.Themes = s.Themes[:maxThemes]
	}
	for _, a := range r.Authors {
		s.Authors = append(s.Authors, models.Credit{Name: a.Name, Type: a.Type})
	}
	for _, p := range r.Publishers {
		s.Publishers = append(s.Publishers, models.Credit{Name: p.PublisherName, Type: p.Type})
	}
	for _, rec := range r.Recommendations {
		if id := rec.SeriesID.String(); id != "" {
			s.Recommendations = append(s.Recommendations, id)
		}
	}
	return s
}

// normalizeStatus maps the provider's free-text status ("12 Volumes
// (Ongoing)") onto a fixed vocabulary.
func normalizeStatus(raw *string) string {
	if raw == nil {
		return "Unknown"
	}
	s := *raw
	switch {
	case strings.Contains(s, "Ongoing"):
		return "Ongoing"
	case strings.Contains(s, "Complete"):
		return "Completed"
	case strings.Contains(s, "Hiatus"):
		return "Hiatus"
	case strings.Contains(s, "Cancelled"), strings.Contains(s, "Discontinued"):
		return "Cancelled"
	default:
		return "Unknown"
	}
}
