package pipeline

import (
	"errors"
	"fmt"

	"mangacatalog/internal/reconcile"
	"mangacatalog/internal/store"
)

// FailureKind classifies a failed stage.
type FailureKind string

const (
	// PageFetch skips the page.
	PageFetch FailureKind = "page_fetch"
	// Extraction skips the item.
	Extraction FailureKind = "extraction"
	// Enrichment degrades one sub-result to empty.
	Enrichment FailureKind = "enrichment"
	// Reconciliation skips the item.
	Reconciliation FailureKind = "reconciliation"
	// Persistence cancels the page and ends the run.
	Persistence FailureKind = "persistence"
)

// StageError is the tagged result of a failed stage.
type StageError struct {
	Kind  FailureKind
	Stage string
	ISBN  string
	Err   error
}

func (e *StageError) Error() string {
	if e.ISBN == "" {
		return fmt.Sprintf("%s failure in %s: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failure in %s for %s: %v", e.Kind, e.Stage, e.ISBN, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure stops the run.
func (e *StageError) Fatal() bool {
	return e.Kind == Persistence
}

func stageErr(kind FailureKind, stage, id string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, ISBN: id, Err: err}
}

// writeErr tags a reconciliation write failure.
func writeErr(stage, id string, err error) *StageError {
	if errors.Is(err, store.ErrPersistence) && !errors.Is(err, reconcile.ErrReconciliation) {
		return stageErr(Persistence, stage, id, err)
	}
	return stageErr(Reconciliation, stage, id, err)
}
