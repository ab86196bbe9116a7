// Package series resolves a storefront brand name to a series record of the
// external metadata provider, scoring candidates by title similarity.
//
// Only the top search hit is examined. When it fails the category check the
// request is unresolved even if a later hit would have matched; this mirrors
// the provider's own ranking and keeps one search plus one detail call per
// unseen series.
package series

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mangacatalog/internal/config"
	"mangacatalog/internal/logging"
	"mangacatalog/internal/textutil"
	"mangacatalog/pkg/models"
)

// floorConfidence is granted to a category-matching candidate with no
// textual similarity.
const floorConfidence = 0.1

// Origin records how a match was produced.
type Origin string

const (
	OriginPersisted  Origin = "persisted"
	OriginExact      Origin = "exact"
	OriginPartial    Origin = "partial"
	OriginUnresolved Origin = "unresolved"
)

// Match is the resolver's answer for one request.
type Match struct {
	Series     models.Series
	Confidence float64
	Origin     Origin
}

// Resolved reports whether the match carries a series id.
func (m Match) Resolved() bool {
	return m.Series.ID != ""
}

// Unresolved is the empty match.
func Unresolved() Match {
	return Match{Origin: OriginUnresolved}
}

// Request describes the item being resolved.
type Request struct {
	Name       string // brand / series name
	Category   string // storefront category
	VolumeName string // full display name
	Current    *models.Volume
}

// SeriesGetter reads persisted series.
type SeriesGetter interface {
	GetSeries(ctx context.Context, id string) (*models.Series, error)
}

// Resolver matches brand names to provider series.
type Resolver struct {
	source Source
	cache  Cache
	store  SeriesGetter
	policy config.Policy
	logger *zap.Logger
}

// NewResolver wires a Resolver. A nil cache gets a fresh MapCache.
func NewResolver(source Source, cache Cache, store SeriesGetter, policy config.Policy, logger *zap.Logger) *Resolver {
	if cache == nil {
		cache = NewMapCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source: source,
		cache:  cache,
		store:  store,
		policy: policy,
		logger: logger.Named("series"),
	}
}

// categoryConversion maps storefront categories to provider types.
var categoryConversion = map[string]string{
	"light-novels":  "novel",
	"novels":        "novel",
	"manga":         "manga",
	"manga-bundles": "manga",
	"manhwa":        "manhwa",
	"manhua":        "manhua",
}

// MapCategory converts a storefront category to the provider's type. Unknown
// categories pass through lowercased; an empty category cannot be matched.
func MapCategory(category string) (string, bool) {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return "", false
	}
	if mapped, ok := categoryConversion[c]; ok {
		return mapped, true
	}
	return c, true
}

// Resolve returns the best series match for req. Failures degrade to an
// unresolved match and are logged.
func (r *Resolver) Resolve(ctx context.Context, req Request) Match {
	log := r.logger.With(zap.String("name", req.Name), zap.String("category", req.Category))

	if m, ok := r.persisted(ctx, req, log); ok {
		return m
	}

	category, ok := MapCategory(req.Category)
	if !ok {
		log.Warn("no category to match against")
		return Unresolved()
	}
	if strings.TrimSpace(req.Name) == "" {
		log.Warn("no series name to search for")
		return Unresolved()
	}

	hits, err := r.source.Search(ctx, req.Name)
	if err != nil {
		log.Warn("series search failed", zap.Error(err))
		return Unresolved()
	}
	if len(hits) == 0 {
		log.Info("no series found")
		return Unresolved()
	}

	top := hits[0]
	details, err := r.details(ctx, top.ID)
	if err != nil {
		log.Warn("series details failed", zap.String(logging.FieldSeriesID, top.ID), zap.Error(err))
		return Unresolved()
	}
	if !textutil.EqualFold(details.Category, category) {
		log.Info("top series has a different category",
			zap.String(logging.FieldSeriesID, details.ID),
			zap.String("series_category", details.Category))
		return Unresolved()
	}

	m := score(*details, req.Name, req.VolumeName)
	log.Debug("series matched",
		zap.String(logging.FieldSeriesID, m.Series.ID),
		zap.String("title", m.Series.Title),
		zap.Float64("confidence", m.Confidence),
		zap.String("origin", string(m.Origin)))
	return m
}

func (r *Resolver) persisted(ctx context.Context, req Request, log *zap.Logger) (Match, bool) {
	if r.policy.RefreshSeriesData || req.Current == nil || req.Current.SeriesID == "" || r.store == nil {
		return Match{}, false
	}
	s, err := r.store.GetSeries(ctx, req.Current.SeriesID)
	if err != nil {
		log.Warn("load persisted series failed", zap.String(logging.FieldSeriesID, req.Current.SeriesID), zap.Error(err))
		return Match{}, false
	}
	if s == nil {
		return Match{}, false
	}
	return Match{Series: *s, Confidence: req.Current.SeriesConfidence, Origin: OriginPersisted}, true
}

// details returns provider metadata through the memo.
func (r *Resolver) details(ctx context.Context, id string) (*models.Series, error) {
	if s, ok := r.cache.Get(id); ok {
		return s, nil
	}
	s, err := r.source.Series(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(id, s); err != nil {
		r.logger.Debug("series not memoized", zap.String(logging.FieldSeriesID, id), zap.Error(err))
	}
	return cloneSeries(s), nil
}

// score rates a category-matching candidate. An exact (case-folded) title
// hit wins outright; otherwise the best ratio over all titles, against both
// the series name and the volume name, is kept above a 0.1 floor.
func score(s models.Series, name, volumeName string) Match {
	titles := append([]string{s.Title}, s.AssociatedTitles...)

	for _, t := range titles {
		if textutil.EqualFold(t, name) {
			s.Title = t
			return Match{Series: s, Confidence: 1, Origin: OriginExact}
		}
	}

	best := floorConfidence
	for _, t := range titles {
		c := textutil.Ratio(name, t)
		if volumeName != "" {
			c = max(c, textutil.Ratio(volumeName, t))
		}
		if c > best {
			best = c
			s.Title = t
		}
	}
	return Match{Series: s, Confidence: best, Origin: OriginPartial}
}
