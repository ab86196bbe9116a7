// Package control carries the state shared between a running crawl and its
// operators: the cancel flag, the latest progress snapshot, and the HTTP
// API that exposes both.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mangacatalog/internal/config"
)

// Run states reported in Progress.State.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateCanceled = "canceled"
	StateDone     = "done"
	StateFailed   = "failed"
)

// Progress is a snapshot of a crawl.
type Progress struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Offset    int       `json:"offset"`
	Total     int       `json:"total"`
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percent is the share of Total already processed, 0..100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Processed) / float64(p.Total) * 100
	return min(pct, 100)
}

// Control is the external shared state read by the pipeline between pages
// and items.
type Control interface {
	CancelRequested(ctx context.Context) (bool, error)
	RequestCancel(ctx context.Context) error
	ClearCancel(ctx context.Context) error
	PublishProgress(ctx context.Context, p Progress) error
	Progress(ctx context.Context) (Progress, error)
}

// New returns the backend selected by cfg.
func New(cfg config.Control) (Control, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown control backend %q", cfg.Backend)
	}
}

// Memory keeps control state in process.
type Memory struct {
	mu       sync.RWMutex
	cancel   bool
	progress Progress
}

func NewMemory() *Memory {
	return &Memory{progress: Progress{State: StateIdle}}
}

func (m *Memory) CancelRequested(context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancel, nil
}

func (m *Memory) RequestCancel(context.Context) error {
	m.mu.Lock()
	m.cancel = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) ClearCancel(context.Context) error {
	m.mu.Lock()
	m.cancel = false
	m.mu.Unlock()
	return nil
}

func (m *Memory) PublishProgress(_ context.Context, p Progress) error {
	m.mu.Lock()
	m.progress = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) Progress(context.Context) (Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progress, nil
}
