package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the most recent outcomes in a bounded slice.
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes []Outcome
	capacity int
}

// NewMemory creates a store holding at most capacity outcomes.
func NewMemory(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{capacity: capacity}
}

func (m *MemoryStore) RecordOutcome(ctx context.Context, o Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.Timestamp == 0 {
		o.Timestamp = time.Now().UnixMilli()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	if over := len(m.outcomes) - m.capacity; over > 0 {
		m.outcomes = append([]Outcome(nil), m.outcomes[over:]...)
	}
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, limit int, status string) ([]Outcome, error) {
	return m.History(ctx, HistoryFilter{Status: status, Limit: limit})
}

// History returns matches newest first.
func (m *MemoryStore) History(ctx context.Context, filter HistoryFilter) ([]Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := clampLimit(filter.Limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Outcome{}
	skipped := 0
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		o := m.outcomes[i]
		if !filter.matches(o) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
