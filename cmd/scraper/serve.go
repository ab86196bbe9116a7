package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mangacatalog/internal/control"
	"mangacatalog/internal/logging"
	"mangacatalog/internal/pipeline"
	"mangacatalog/internal/runlock"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator API and run scheduled crawls",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(bind) == "" {
				bind = cfg.Control.APIBind
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := ctx.openServices(runCtx)
			if err != nil {
				return err
			}
			defer svc.Close()
			logger := svc.logger

			opts := pipeline.OptionsFromConfig(cfg)
			runner := newCrawlRunner(runCtx, cfg.LockPath, logger, func(ctx context.Context, id string) error {
				_, err := svc.orchestrator(opts, nil).RunWithID(ctx, id)
				return err
			})

			var tokens *control.TokenService
			if cfg.Control.JWTSecret != "" {
				tokens = &control.TokenService{
					Secret:   []byte(cfg.Control.JWTSecret),
					Issuer:   cfg.Control.JWTIssuer,
					Duration: cfg.JWTDuration(),
				}
			} else {
				logger.Warn("jwt_secret is empty, crawl routes are unauthenticated")
			}

			if spec := strings.TrimSpace(cfg.Schedule.Cron); spec != "" {
				sched := cron.New()
				if _, err := sched.AddFunc(spec, func() {
					if _, err := runner.Start(runCtx); err != nil {
						logger.Warn("scheduled crawl skipped", zap.Error(err))
					}
				}); err != nil {
					return err
				}
				sched.Start()
				logger.Info("crawl schedule active", zap.String("cron", spec))
				defer func() {
					<-sched.Stop().Done()
				}()
			}

			httpSrv := &http.Server{
				Addr:              bind,
				Handler:           control.NewRouter(svc.control, runner, tokens, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("operator API listening", zap.String("addr", bind))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-runCtx.Done():
				logger.Info("shutdown signal received")
			case err = <-errCh:
				logger.Error("server error", zap.Error(err))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("http shutdown error", zap.Error(serr))
			}
			// Ask an in-flight crawl to stop between items, then wait for it.
			if runner.Running() {
				_ = svc.control.RequestCancel(shutdownCtx)
			}
			runner.Wait()
			return err
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (defaults to control.api_bind)")
	return cmd
}

// crawlRunner starts at most one background crawl at a time. The run lock
// also keeps out crawls started by other processes.
type crawlRunner struct {
	base     context.Context
	lockPath string
	logger   *zap.Logger
	run      func(ctx context.Context, id string) error

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func newCrawlRunner(base context.Context, lockPath string, logger *zap.Logger, run func(context.Context, string) error) *crawlRunner {
	return &crawlRunner{base: base, lockPath: lockPath, logger: logger, run: run}
}

// Start implements control.Runner. The crawl outlives the request that
// started it and stops with the server.
func (r *crawlRunner) Start(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return "", control.ErrBusy
	}

	lock, err := runlock.Acquire(r.lockPath)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return "", control.ErrBusy
		}
		return "", err
	}

	id := uuid.NewString()
	r.running = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			lock.Release()
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		if err := r.run(r.base, id); err != nil {
			r.logger.Error("background crawl failed", zap.String(logging.FieldRunID, id), zap.Error(err))
		}
	}()
	return id, nil
}

func (r *crawlRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *crawlRunner) Wait() {
	r.wg.Wait()
}
