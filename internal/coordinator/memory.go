package coordinator

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is an in-process CounterStore for tests and single-node
// deployments that run without Redis.
type MemoryCounterStore struct {
	mu        sync.Mutex
	totals    map[string]int
	completed map[string]int
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		totals:    make(map[string]int),
		completed: make(map[string]int),
	}
}

func (s *MemoryCounterStore) key(date time.Time) string {
	return date.UTC().Format("2006-01-02")
}

// InitBatch records the expected total and resets the completed counter.
func (s *MemoryCounterStore) InitBatch(_ context.Context, date time.Time, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(date)
	s.totals[k] = total
	delete(s.completed, k)
	return nil
}

// IncrementCompleted bumps the completed counter under the store lock.
func (s *MemoryCounterStore) IncrementCompleted(_ context.Context, date time.Time) (int, int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(date)
	total, ok := s.totals[k]
	if !ok {
		return 0, 0, false, nil
	}
	s.completed[k]++
	return s.completed[k], total, true, nil
}

// Delete removes both counters for the date.
func (s *MemoryCounterStore) Delete(_ context.Context, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(date)
	delete(s.totals, k)
	delete(s.completed, k)
	return nil
}
