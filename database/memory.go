package database

import (
	"context"
	"sync"

	"github.com/viktsys/marketcache/models"
)

// MemoryStore is a process-local BarStore.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string][]models.DailyBar
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[string][]models.DailyBar)}
}

func (s *MemoryStore) UpsertSeries(_ context.Context, symbol string, bars []models.DailyBar) error {
	normalized := models.NormalizeSeries(bars)
	s.mu.Lock()
	s.series[symbol] = normalized
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ReadSeries(_ context.Context, symbol string) ([]models.DailyBar, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars, ok := s.series[symbol]
	if !ok {
		return nil, false, nil
	}
	out := make([]models.DailyBar, len(bars))
	copy(out, bars)
	return out, true, nil
}

func (s *MemoryStore) Close() error { return nil }
