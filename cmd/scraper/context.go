package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mangacatalog/internal/config"
	"mangacatalog/internal/control"
	"mangacatalog/internal/fetch"
	"mangacatalog/internal/isbn"
	"mangacatalog/internal/logging"
	"mangacatalog/internal/pipeline"
	"mangacatalog/internal/scraper"
	"mangacatalog/internal/series"
	"mangacatalog/internal/store"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *zap.Logger
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() *zap.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			File:   cfg.Logging.File,
		})
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) close() {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// services are the long-lived collaborators shared by every run of one
// process.
type services struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   store.Store
	control control.Control
	client  *fetch.Client
	cache   series.Cache
	closers []func() error
}

func (c *commandContext) openServices(ctx context.Context) (*services, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.ensureLogger()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	svc := &services{cfg: cfg, logger: logger, store: st}
	svc.closers = append(svc.closers, st.Close)

	ctl, err := control.New(cfg.Control)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.control = ctl
	if r, ok := ctl.(*control.Redis); ok {
		svc.closers = append(svc.closers, r.Close)
	}

	svc.client = fetch.New(fetch.Options{
		UserAgent:         cfg.Storefront.UserAgent,
		Timeout:           cfg.RequestTimeout(),
		RequestsPerSecond: cfg.Storefront.RequestsPerSecond,
		MaxRetries:        cfg.Storefront.MaxRetries,
	}, logger)

	// The bigcache memo outlives a single run; otherwise each run gets its own map.
	if cfg.Series.CacheBackend == "bigcache" {
		bc, err := series.NewBigCache(ctx, cfg.SeriesCacheLifeWindow())
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("series cache: %w", err)
		}
		svc.cache = bc
		svc.closers = append(svc.closers, bc.Close)
	}

	return svc, nil
}

// orchestrator wires a pipeline for one run.
func (s *services) orchestrator(opts pipeline.Options, printer *control.Printer) *pipeline.Orchestrator {
	cfg := s.cfg
	cache := s.cache
	if cache == nil {
		cache = series.NewMapCache()
	}
	policy := opts.Policy

	deps := pipeline.Deps{
		Pages:    scraper.NewFetcher(s.client, cfg.Storefront.BaseURL, cfg.PageDelay()),
		Resolver: series.NewResolver(series.NewClient(s.client, cfg.Series.BaseURL), cache, s.store, policy, s.logger),
		Biblio:   isbn.NewEnricher(s.client, cfg.ISBN.BaseURL, s.logger),
		Details:  scraper.NewDetailFetcher(s.client, cfg.Storefront.BaseURL),
		Store:    s.store,
		Control:  s.control,
		Printer:  printer,
	}
	return pipeline.New(deps, opts, s.logger)
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
