// Package store persists catalog records. Every Get returns (nil, nil) when
// the record does not exist; Create fails on an existing key and Update on a
// missing one. All failures wrap ErrPersistence.
package store

import (
	"context"
	"errors"
	"fmt"

	"mangacatalog/internal/config"
	"mangacatalog/pkg/database"
	"mangacatalog/pkg/models"
)

var (
	// ErrPersistence wraps every storage failure.
	ErrPersistence = errors.New("persistence failure")
	// ErrExists is returned by Create for a key already stored.
	ErrExists = errors.New("record already exists")
	// ErrNotFound is returned by Update for a key not stored.
	ErrNotFound = errors.New("record not found")
)

// Store is the persistence adapter used by reconciliation.
type Store interface {
	GetVolume(ctx context.Context, isbn string) (*models.Volume, error)
	CreateVolume(ctx context.Context, v *models.Volume) error
	UpdateVolume(ctx context.Context, v *models.Volume) error

	GetSeries(ctx context.Context, id string) (*models.Series, error)
	CreateSeries(ctx context.Context, s *models.Series) error
	UpdateSeries(ctx context.Context, s *models.Series) error

	GetShop(ctx context.Context, key models.ShopKey) (*models.ShopListing, error)
	CreateShop(ctx context.Context, s *models.ShopListing) error
	UpdateShop(ctx context.Context, s *models.ShopListing) error

	GetBundle(ctx context.Context, isbn string) (*models.Bundle, error)
	CreateBundle(ctx context.Context, b *models.Bundle) error
	UpdateBundle(ctx context.Context, b *models.Bundle) error

	GetMarket(ctx context.Context, isbn string) (*models.MarketPrice, error)
	CreateMarket(ctx context.Context, m *models.MarketPrice) error
	UpdateMarket(ctx context.Context, m *models.MarketPrice) error

	Close() error
}

// Lister enumerates stored records for export.
type Lister interface {
	ListVolumes(ctx context.Context) ([]models.Volume, error)
	ListSeries(ctx context.Context) ([]models.Series, error)
	ListShops(ctx context.Context) ([]models.ShopListing, error)
}

// Open returns the store selected by cfg.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		db, err := database.Open(ctx, database.Config{Path: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return NewSQLite(db), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrPersistence, cfg.Driver)
	}
}

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPersistence}, args...)...)
}
