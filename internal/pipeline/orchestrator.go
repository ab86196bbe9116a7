// Package pipeline drives a crawl: it walks the storefront listing page by
// page and runs every item through extraction, enrichment and
// reconciliation with bounded concurrency.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mangacatalog/internal/config"
	"mangacatalog/internal/control"
	"mangacatalog/internal/isbn"
	"mangacatalog/internal/logging"
	"mangacatalog/internal/reconcile"
	"mangacatalog/internal/scraper"
	"mangacatalog/internal/series"
	"mangacatalog/internal/store"
	"mangacatalog/pkg/models"
)

// PageSource yields listing pages.
type PageSource interface {
	FetchPage(ctx context.Context, q scraper.ListingQuery) (*scraper.Page, error)
}

// SeriesResolver matches brand names to series.
type SeriesResolver interface {
	Resolve(ctx context.Context, req series.Request) series.Match
}

// BiblioSource looks up publication details.
type BiblioSource interface {
	Lookup(ctx context.Context, id string) (isbn.Result, error)
}

// DetailSource reads product pages.
type DetailSource interface {
	Fetch(ctx context.Context, url, primaryCover string) (*scraper.Detail, error)
}

// Deps are the collaborators of an Orchestrator. Control and Printer are
// optional.
type Deps struct {
	Pages    PageSource
	Resolver SeriesResolver
	Biblio   BiblioSource
	Details  DetailSource
	Store    store.Store
	Control  control.Control
	Printer  *control.Printer
}

// Options bound the crawl.
type Options struct {
	Categories       []string
	PageSize         int
	Start            int
	End              int // 0 runs to the storefront total
	FirstPageWorkers int
	Workers          int
	Policy           config.Policy
}

// OptionsFromConfig maps the configuration file onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Categories:       cfg.Storefront.Categories,
		PageSize:         cfg.Storefront.PageSize,
		Start:            cfg.Storefront.Start,
		End:              cfg.Storefront.End,
		FirstPageWorkers: cfg.Pipeline.FirstPageWorkers,
		Workers:          cfg.Pipeline.Workers,
		Policy:           cfg.Policy,
	}
}

// Orchestrator runs crawls.
type Orchestrator struct {
	deps   Deps
	opts   Options
	engine *reconcile.Engine
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(deps Deps, opts Options, logger *zap.Logger, options ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Control == nil {
		deps.Control = control.NewMemory()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.FirstPageWorkers <= 0 {
		opts.FirstPageWorkers = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = opts.FirstPageWorkers
	}
	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		engine: reconcile.NewEngine(deps.Store, opts.Policy, logger),
		now:    time.Now,
		logger: logger.Named("pipeline"),
	}
	for _, fn := range options {
		fn(o)
	}
	return o
}

// Summary reports one run.
type Summary struct {
	RunID       string
	Pages       int
	PagesFailed int
	Processed   int64
	Created     int64
	Updated     int64
	Failed      int64
	Warnings    int64
	Failures    map[FailureKind]int64
	Canceled    bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

type run struct {
	id     string
	log    *zap.Logger
	mu     sync.Mutex
	sum    *Summary
	offset atomic.Int64
	total  atomic.Int64

	// pubMu orders snapshots so published counters never go backwards.
	pubMu sync.Mutex

	processed atomic.Int64
	failed    atomic.Int64
	created   atomic.Int64
	updated   atomic.Int64
	warnings  atomic.Int64
}

func (r *run) countFailure(kind FailureKind) {
	r.mu.Lock()
	r.sum.Failures[kind]++
	r.mu.Unlock()
}

// Run crawls pages [Start, End) and returns what happened. Only persistence
// failures and context cancellation are returned as errors; a cancel request
// through Control ends the run early with Summary.Canceled set.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	return o.RunWithID(ctx, uuid.NewString())
}

// RunWithID is Run with a caller-chosen run id.
func (o *Orchestrator) RunWithID(ctx context.Context, id string) (*Summary, error) {
	r := &run{
		id: id,
		sum: &Summary{
			Failures:  make(map[FailureKind]int64),
			StartedAt: o.now(),
		},
	}
	r.sum.RunID = r.id
	r.log = o.logger.With(zap.String(logging.FieldRunID, r.id))

	if err := o.deps.Control.ClearCancel(ctx); err != nil {
		r.log.Warn("clear cancel flag failed", zap.Error(err))
	}
	o.publish(ctx, r, control.StateRunning)
	r.log.Info("crawl started",
		zap.Int("start", o.opts.Start),
		zap.Int("end", o.opts.End),
		zap.Strings("categories", o.opts.Categories))

	err := o.walk(ctx, r)
	r.sum.Processed = r.processed.Load()
	r.sum.Failed = r.failed.Load()
	r.sum.Created = r.created.Load()
	r.sum.Updated = r.updated.Load()
	r.sum.Warnings = r.warnings.Load()
	r.sum.FinishedAt = o.now()

	state := control.StateDone
	switch {
	case err != nil:
		state = control.StateFailed
	case r.sum.Canceled:
		state = control.StateCanceled
	}
	o.publish(context.WithoutCancel(ctx), r, state)
	if o.deps.Printer != nil {
		o.deps.Printer.Done()
	}

	r.log.Info("crawl finished",
		zap.String("state", state),
		zap.Int("pages", r.sum.Pages),
		zap.Int64("processed", r.sum.Processed),
		zap.Int64("failed", r.sum.Failed),
		zap.Duration("took", r.sum.Duration()))
	return r.sum, err
}

func (o *Orchestrator) walk(ctx context.Context, r *run) error {
	end := o.opts.End
	if end > 0 {
		r.total.Store(int64(max(end-o.opts.Start, 0)))
	}
	// The first page that actually arrives fixes the end and runs on the
	// small pool, even when earlier attempts failed.
	attempted, fetched := false, false
	for offset := o.opts.Start; !attempted || offset < end; offset += o.opts.PageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.cancelRequested(ctx, r) {
			r.sum.Canceled = true
			return nil
		}
		r.offset.Store(int64(offset))
		attempted = true

		log := r.log.With(zap.Int(logging.FieldPage, offset))
		page, err := o.deps.Pages.FetchPage(ctx, scraper.ListingQuery{
			Offset:     offset,
			Size:       o.opts.PageSize,
			Categories: o.opts.Categories,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.sum.PagesFailed++
			r.countFailure(PageFetch)
			log.Error("page skipped", zap.Error(stageErr(PageFetch, "fetch_page", "", err)))
			if !fetched && end == 0 {
				return nil
			}
			continue
		}

		workers := o.opts.Workers
		if !fetched {
			if end == 0 || end > page.TotalCount {
				end = page.TotalCount
			}
			r.total.Store(int64(max(end-o.opts.Start, 0)))
			workers = o.opts.FirstPageWorkers
			fetched = true
		}
		r.sum.Pages++

		canceled, err := o.processPage(ctx, r, page, workers, log)
		if err != nil {
			return err
		}
		if canceled {
			r.sum.Canceled = true
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) processPage(ctx context.Context, r *run, page *scraper.Page, workers int, log *zap.Logger) (bool, error) {
	log.Info("processing page", zap.Int("items", len(page.Items)), zap.Int("workers", workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	canceled := false
	for _, item := range page.Items {
		if gctx.Err() != nil {
			break
		}
		if o.cancelRequested(gctx, r) {
			canceled = true
			break
		}
		g.Go(func() error {
			res, err := o.ProcessItem(gctx, item)
			r.processed.Add(1)
			if res != nil {
				for _, w := range res.Warnings {
					r.warnings.Add(1)
					r.countFailure(w.Kind)
				}
			}
			if err == nil {
				if res.Created {
					r.created.Add(1)
				} else {
					r.updated.Add(1)
				}
			}
			o.publish(gctx, r, control.StateRunning)

			if err == nil {
				return nil
			}
			r.failed.Add(1)
			var se *StageError
			if !errors.As(err, &se) {
				se = stageErr(Reconciliation, "process_item", "", err)
			}
			r.countFailure(se.Kind)
			if se.Fatal() {
				log.Error("persistence failure, stopping page", zap.String(logging.FieldISBN, se.ISBN), zap.Error(err))
				return se
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return canceled, err
	}
	return canceled, nil
}

func (o *Orchestrator) cancelRequested(ctx context.Context, r *run) bool {
	ok, err := o.deps.Control.CancelRequested(ctx)
	if err != nil {
		r.log.Warn("read cancel flag failed", zap.Error(err))
		return false
	}
	if ok {
		r.log.Info("cancel requested")
	}
	return ok
}

func (o *Orchestrator) publish(ctx context.Context, r *run, state string) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	p := control.Progress{
		RunID:     r.id,
		State:     state,
		Offset:    int(r.offset.Load()),
		Total:     int(r.total.Load()),
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
		StartedAt: r.sum.StartedAt,
		UpdatedAt: o.now(),
	}
	if err := o.deps.Control.PublishProgress(ctx, p); err != nil {
		r.log.Warn("publish progress failed", zap.Error(err))
	}
	if o.deps.Printer != nil && state == control.StateRunning {
		o.deps.Printer.Print(p)
	}
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	ISBN     string
	Created  bool
	Volume   *models.Volume
	Series   *models.Series
	Shops    []models.ShopListing
	Bundle   *models.Bundle
	Match    series.Match
	Warnings []*StageError
}

type stageA struct {
	volume *models.Volume
	bundle *models.Bundle
}

type stageB struct {
	match    series.Match
	biblio   *isbn.Result
	detail   *scraper.Detail
	mu       sync.Mutex
	warnings []*StageError
}

func (b *stageB) warn(e *StageError) {
	b.mu.Lock()
	b.warnings = append(b.warnings, e)
	b.mu.Unlock()
}

// ProcessItem runs one listing item through all stages. The returned error
// is a *StageError; the result is non-nil whenever extraction succeeded.
func (o *Orchestrator) ProcessItem(ctx context.Context, item scraper.RawItem) (res *ItemResult, err error) {
	id := scraper.PeekID(item)
	defer func() {
		if p := recover(); p != nil {
			err = stageErr(Reconciliation, "process_item", id, fmt.Errorf("%w: panic: %v", reconcile.ErrReconciliation, p))
		}
	}()

	attrs, xerr := scraper.ExtractItem(item)
	if xerr != nil {
		o.logger.Warn("item skipped", zap.String(logging.FieldISBN, id), zap.Error(xerr))
		return nil, stageErr(Extraction, "extract", id, xerr)
	}
	id = attrs.ISBN
	log := o.logger.With(zap.String(logging.FieldISBN, id))
	res = &ItemResult{ISBN: id}

	a, serr := o.stageA(ctx, attrs)
	if serr != nil {
		return res, serr
	}
	res.Created = a.volume == nil

	b, serr := o.stageB(ctx, attrs, a, log)
	res.Warnings = b.warnings
	res.Match = b.match
	if serr != nil {
		return res, serr
	}

	in := reconcile.Input{
		Attrs:         attrs,
		Current:       a.volume,
		CurrentBundle: a.bundle,
		Match:         b.match,
		Biblio:        b.biblio,
		Detail:        b.detail,
		Now:           o.now(),
	}
	if serr := o.stageC(ctx, in, res); serr != nil {
		log.Error("item not reconciled",
			zap.String("kind", string(serr.Kind)),
			zap.Any("attributes", attrs.Attributes),
			zap.Error(serr.Err))
		return res, serr
	}
	return res, nil
}

// stageA loads the stored volume and bundle.
func (o *Orchestrator) stageA(ctx context.Context, attrs *scraper.ItemAttributes) (*stageA, *StageError) {
	out := &stageA{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := o.deps.Store.GetVolume(gctx, attrs.ISBN)
		if err != nil {
			return stageErr(Persistence, "load_volume", attrs.ISBN, err)
		}
		out.volume = v
		return nil
	})
	if reconcile.IsBundle(attrs.ISBN, attrs.Name) {
		g.Go(func() error {
			b, err := o.deps.Store.GetBundle(gctx, attrs.ISBN)
			if err != nil {
				return stageErr(Persistence, "load_bundle", attrs.ISBN, err)
			}
			out.bundle = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err.(*StageError)
	}
	return out, nil
}

// stageB gathers enrichment. Only the market price write can fail the item;
// every lookup degrades to an empty result with a warning.
func (o *Orchestrator) stageB(ctx context.Context, attrs *scraper.ItemAttributes, a *stageA, log *zap.Logger) (*stageB, *StageError) {
	out := &stageB{match: series.Unresolved()}
	policy := o.opts.Policy
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if attrs.RetailPrice <= 0 {
			return nil
		}
		if _, err := o.engine.WriteMarket(gctx, attrs.ISBN, attrs.RetailPrice, o.now()); err != nil {
			return writeErr("write_market", attrs.ISBN, err)
		}
		return nil
	})

	if o.deps.Resolver != nil {
		g.Go(func() error {
			out.match = o.deps.Resolver.Resolve(gctx, series.Request{
				Name:       attrs.Brand,
				Category:   attrs.Category,
				VolumeName: attrs.Name,
				Current:    a.volume,
			})
			return nil
		})
	}

	if o.deps.Biblio != nil && (a.volume == nil || policy.QueryISBNDB) {
		g.Go(func() error {
			r, err := o.deps.Biblio.Lookup(gctx, attrs.ISBN)
			if err != nil {
				out.warn(stageErr(Enrichment, "isbn_lookup", attrs.ISBN, err))
				log.Warn("bibliographic lookup failed", zap.Error(err))
				return nil
			}
			out.biblio = &r
			return nil
		})
	} else {
		log.Debug("volume exists, isbn lookup skipped")
	}

	if o.deps.Details != nil && wantDetail(a.volume, policy) && attrs.URL != "" {
		g.Go(func() error {
			d, err := o.deps.Details.Fetch(gctx, attrs.URL, attrs.CoverImage)
			if err != nil {
				out.warn(stageErr(Enrichment, "detail_page", attrs.ISBN, err))
				log.Warn("detail page failed", zap.Error(err))
				return nil
			}
			out.detail = d
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err.(*StageError)
	}
	return out, nil
}

func wantDetail(current *models.Volume, policy config.Policy) bool {
	if current == nil || current.Description == "" {
		return true
	}
	return policy.RefreshVolumeDetails && policy.QueryDetailPage
}

// stageC writes bundle, shops and volume plus series membership. The three
// touch disjoint record types.
func (o *Orchestrator) stageC(ctx context.Context, in reconcile.Input, res *ItemResult) *StageError {
	id := in.Attrs.ISBN
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b, err := o.engine.WriteBundle(gctx, in)
		if err != nil {
			return writeErr("write_bundle", id, err)
		}
		res.Bundle = b
		return nil
	})
	g.Go(func() error {
		shops, err := o.engine.WriteShops(gctx, in)
		if err != nil {
			return writeErr("write_shops", id, err)
		}
		res.Shops = shops
		return nil
	})
	g.Go(func() error {
		vol, err := o.engine.WriteVolume(gctx, in)
		if err != nil {
			return writeErr("write_volume", id, err)
		}
		res.Volume = vol
		s, err := o.engine.WriteSeries(gctx, vol, in.Match)
		if err != nil {
			return writeErr("write_series", id, err)
		}
		res.Series = s
		return nil
	})

	if err := g.Wait(); err != nil {
		return err.(*StageError)
	}
	return nil
}
