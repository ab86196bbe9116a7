package store

import (
	"context"
	"sort"
	"sync"

	"mangacatalog/pkg/models"
)

// Memory keeps records in maps. Values are copied in and out so callers
// never share state with the store.
type Memory struct {
	mu      sync.RWMutex
	volumes map[string]*models.Volume
	series  map[string]*models.Series
	shops   map[models.ShopKey]models.ShopListing
	bundles map[string]*models.Bundle
	market  map[string]models.MarketPrice
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		volumes: make(map[string]*models.Volume),
		series:  make(map[string]*models.Series),
		shops:   make(map[models.ShopKey]models.ShopListing),
		bundles: make(map[string]*models.Bundle),
		market:  make(map[string]models.MarketPrice),
	}
}

func (m *Memory) GetVolume(_ context.Context, isbn string) (*models.Volume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volumes[isbn].Clone(), nil
}

func (m *Memory) CreateVolume(_ context.Context, v *models.Volume) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.volumes[v.ISBN]; ok {
		return failf("volume %s: %w", v.ISBN, ErrExists)
	}
	m.volumes[v.ISBN] = v.Clone()
	return nil
}

func (m *Memory) UpdateVolume(_ context.Context, v *models.Volume) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.volumes[v.ISBN]; !ok {
		return failf("volume %s: %w", v.ISBN, ErrNotFound)
	}
	m.volumes[v.ISBN] = v.Clone()
	return nil
}

func (m *Memory) GetSeries(_ context.Context, id string) (*models.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.series[id].Clone(), nil
}

func (m *Memory) CreateSeries(_ context.Context, s *models.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[s.ID]; ok {
		return failf("series %s: %w", s.ID, ErrExists)
	}
	m.series[s.ID] = s.Clone()
	return nil
}

func (m *Memory) UpdateSeries(_ context.Context, s *models.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[s.ID]; !ok {
		return failf("series %s: %w", s.ID, ErrNotFound)
	}
	m.series[s.ID] = s.Clone()
	return nil
}

func (m *Memory) GetShop(_ context.Context, key models.ShopKey) (*models.ShopListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shops[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) CreateShop(_ context.Context, s *models.ShopListing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shops[s.ShopKey]; ok {
		return failf("shop %s: %w", s.ItemID(), ErrExists)
	}
	m.shops[s.ShopKey] = *s
	return nil
}

func (m *Memory) UpdateShop(_ context.Context, s *models.ShopListing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shops[s.ShopKey]; !ok {
		return failf("shop %s: %w", s.ItemID(), ErrNotFound)
	}
	m.shops[s.ShopKey] = *s
	return nil
}

func (m *Memory) GetBundle(_ context.Context, isbn string) (*models.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bundles[isbn].Clone(), nil
}

func (m *Memory) CreateBundle(_ context.Context, b *models.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[b.ISBN]; ok {
		return failf("bundle %s: %w", b.ISBN, ErrExists)
	}
	m.bundles[b.ISBN] = b.Clone()
	return nil
}

func (m *Memory) UpdateBundle(_ context.Context, b *models.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[b.ISBN]; !ok {
		return failf("bundle %s: %w", b.ISBN, ErrNotFound)
	}
	m.bundles[b.ISBN] = b.Clone()
	return nil
}

func (m *Memory) GetMarket(_ context.Context, isbn string) (*models.MarketPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.market[isbn]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) CreateMarket(_ context.Context, p *models.MarketPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.market[p.ISBN]; ok {
		return failf("market %s: %w", p.ISBN, ErrExists)
	}
	m.market[p.ISBN] = *p
	return nil
}

func (m *Memory) UpdateMarket(_ context.Context, p *models.MarketPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.market[p.ISBN]; !ok {
		return failf("market %s: %w", p.ISBN, ErrNotFound)
	}
	m.market[p.ISBN] = *p
	return nil
}

func (m *Memory) ListVolumes(_ context.Context) ([]models.Volume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Volume, 0, len(m.volumes))
	for _, v := range m.volumes {
		out = append(out, *v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISBN < out[j].ISBN })
	return out, nil
}

func (m *Memory) ListSeries(_ context.Context) ([]models.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Series, 0, len(m.series))
	for _, s := range m.series {
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListShops(_ context.Context) ([]models.ShopListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ShopListing, 0, len(m.shops))
	for _, s := range m.shops {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID() < out[j].ItemID() })
	return out, nil
}

func (m *Memory) Close() error { return nil }
