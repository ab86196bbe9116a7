// Package reconcile merges freshly scraped data into the persisted catalog.
//
// The Build* and Merge* functions are pure: they take the current record (or
// nil) and the fresh inputs and return the record to store. The Engine's
// Write* methods wrap them in a read, build, create-or-update cycle against
// a store.Store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"mangacatalog/internal/config"
	"mangacatalog/internal/isbn"
	"mangacatalog/internal/logging"
	"mangacatalog/internal/scraper"
	"mangacatalog/internal/series"
	"mangacatalog/internal/store"
	"mangacatalog/pkg/models"
)

// Storefront listing identity.
const (
	StoreName    = "Crunchyroll"
	ConditionNew = "New"
)

// ErrReconciliation marks a failure while merging one item, including
// recovered panics.
var ErrReconciliation = errors.New("reconciliation failure")

// Input is everything known about one item after enrichment.
type Input struct {
	Attrs         *scraper.ItemAttributes
	Current       *models.Volume
	CurrentBundle *models.Bundle
	Match         series.Match
	Biblio        *isbn.Result    // nil when skipped or failed
	Detail        *scraper.Detail // nil when the product page was not read
	Now           time.Time
}

func (in Input) id() string {
	if in.Attrs == nil {
		return ""
	}
	return in.Attrs.ISBN
}

func (in Input) validate() error {
	if in.Attrs == nil || in.Attrs.ISBN == "" {
		return fmt.Errorf("%w: missing item attributes", ErrReconciliation)
	}
	return nil
}

// Engine applies reconciliation results to a store.
type Engine struct {
	store   store.Store
	policy  config.Policy
	bundles *BundleResolver
	locks   *keyedMutex
	logger  *zap.Logger
}

func NewEngine(st store.Store, policy config.Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("reconcile")
	return &Engine{
		store:   st,
		policy:  policy,
		bundles: NewBundleResolver(st, policy, logger),
		locks:   newKeyedMutex(),
		logger:  logger,
	}
}

// Policy returns the flags the engine was built with.
func (e *Engine) Policy() config.Policy {
	return e.policy
}

// WriteVolume upserts the item's volume record and returns what was stored.
func (e *Engine) WriteVolume(ctx context.Context, in Input) (vol *models.Volume, err error) {
	err = guard(in.id(), func() error {
		if err := in.validate(); err != nil {
			return err
		}
		vol = BuildVolume(in, e.policy)
		if in.Current == nil {
			return e.store.CreateVolume(ctx, vol)
		}
		return e.store.UpdateVolume(ctx, vol)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("volume written",
		zap.String(logging.FieldISBN, vol.ISBN),
		zap.String(logging.FieldSeriesID, vol.SeriesID),
		zap.Bool("created", in.Current == nil))
	return vol, nil
}

// WriteSeries records vol as a member of its series. Without a series id
// nothing is written.
func (e *Engine) WriteSeries(ctx context.Context, vol *models.Volume, match series.Match) (out *models.Series, err error) {
	if vol == nil || vol.SeriesID == "" {
		return nil, nil
	}
	unlock := e.locks.Lock(vol.SeriesID)
	defer unlock()

	err = guard(vol.ISBN, func() error {
		current, err := e.store.GetSeries(ctx, vol.SeriesID)
		if err != nil {
			return err
		}
		var meta *models.Series
		if match.Resolved() && match.Series.ID == vol.SeriesID {
			meta = &match.Series
		}
		if current == nil && meta == nil {
			e.logger.Warn("no metadata to create series",
				zap.String(logging.FieldSeriesID, vol.SeriesID),
				zap.String(logging.FieldISBN, vol.ISBN))
			return nil
		}
		refresh := e.policy.RefreshSeriesData && match.Origin != series.OriginPersisted
		out = MergeSeries(current, meta, vol.Member(), refresh)
		if current == nil {
			return e.store.CreateSeries(ctx, out)
		}
		return e.store.UpdateSeries(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteShops upserts every listing produced for the item.
func (e *Engine) WriteShops(ctx context.Context, in Input) (out []models.ShopListing, err error) {
	err = guard(in.id(), func() error {
		if err := in.validate(); err != nil {
			return err
		}
		for _, fresh := range BuildShops(in, e.policy) {
			current, err := e.store.GetShop(ctx, fresh.ShopKey)
			if err != nil {
				return err
			}
			l := CarryStock(fresh, current, in.Now)
			if current == nil {
				err = e.store.CreateShop(ctx, &l)
			} else {
				err = e.store.UpdateShop(ctx, &l)
			}
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteMarket stores the retail price for id. An unchanged price is not
// rewritten.
func (e *Engine) WriteMarket(ctx context.Context, id string, price float64, now time.Time) (*models.MarketPrice, error) {
	current, err := e.store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if current != nil && current.RetailPrice == price {
		return current, nil
	}
	p := &models.MarketPrice{ISBN: id, RetailPrice: price, UpdatedAt: now}
	if current == nil {
		err = e.store.CreateMarket(ctx, p)
	} else {
		err = e.store.UpdateMarket(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WriteBundle resolves and stores the bundle record for bundle items.
func (e *Engine) WriteBundle(ctx context.Context, in Input) (out *models.Bundle, err error) {
	err = guard(in.id(), func() error {
		if err := in.validate(); err != nil {
			return err
		}
		out, err = e.bundles.Resolve(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// guard converts a panic in fn into ErrReconciliation. Store failures pass
// through so callers can tell them apart.
func guard(id string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v\n%s", ErrReconciliation, id, r, debug.Stack())
		}
	}()
	return fn()
}
