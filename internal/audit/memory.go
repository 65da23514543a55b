package audit

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 4096

// MemoryStore is a bounded in-memory store for paper runs and tests. The
// oldest records fall off once capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	byID     map[string]Record
	byCycle  map[string]string
}

// NewMemoryStore creates a memory store; capacity <= 0 uses the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		byID:     make(map[string]Record),
		byCycle:  make(map[string]string),
	}
}

// Save upserts by cycle id.
func (s *MemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byCycle[record.CycleID]; ok {
		record.ID = existingID
		s.byID[existingID] = record
		return nil
	}

	s.byID[record.ID] = record
	s.byCycle[record.CycleID] = record.ID
	s.order = append(s.order, record.ID)
	if len(s.order) > s.capacity {
		evicted := s.order[0]
		s.order = s.order[1:]
		if old, ok := s.byID[evicted]; ok {
			delete(s.byCycle, old.CycleID)
			delete(s.byID, evicted)
		}
	}
	return nil
}

// Get fetches by record id.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

// GetByCycle fetches by cycle id.
func (s *MemoryStore) GetByCycle(_ context.Context, cycleID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCycle[cycleID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return s.byID[id], nil
}

// List returns matching records, newest first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		record := s.byID[s.order[i]]
		if filter.Symbol != "" && record.Symbol != filter.Symbol {
			continue
		}
		if filter.ExecutedOnly && !record.WasExecuted {
			continue
		}
		matched = append(matched, record)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Stats aggregates the stored records.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Symbols: make(map[string]int64)}
	for _, record := range s.byID {
		stats.Total++
		if record.WasExecuted {
			stats.Executed++
		}
		if record.ReplayCount > 0 {
			stats.Replayed++
		}
		if record.Error != "" {
			stats.Errors++
		}
		stats.Symbols[record.Symbol]++
	}
	return stats, nil
}
