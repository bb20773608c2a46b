package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage implements Storage in memory. Records are lost on restart.
type MemoryStorage struct {
	records []*RequestRecord
	mu      sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store keeps a copy of the record.
func (s *MemoryStorage) Store(ctx context.Context, record *RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *record
	s.records = append(s.records, &c)
	return nil
}

// Query returns copies of matching records, newest first.
func (s *MemoryStorage) Query(ctx context.Context, q *Query) ([]*RequestRecord, error) {
	if q == nil {
		q = &Query{}
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var results []*RequestRecord
	for _, r := range s.records {
		if matchesQuery(r, q) {
			c := *r
			results = append(results, &c)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	if q.Offset >= len(results) {
		return []*RequestRecord{}, nil
	}
	results = results[q.Offset:]

	limit := q.Limit
	if limit == 0 {
		limit = DefaultQueryLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of matching records.
func (s *MemoryStorage) Count(ctx context.Context, q *Query) (int64, error) {
	if q == nil {
		q = &Query{}
	}
	if err := validateQuery(q); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if matchesQuery(r, q) {
			n++
		}
	}
	return n, nil
}

// DeleteBefore removes records that started before cutoff.
func (s *MemoryStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for _, r := range s.records {
		if r.StartedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	clear(s.records[len(kept):])
	s.records = kept
	return deleted, nil
}

// DeleteOldest removes the n oldest records.
func (s *MemoryStorage) DeleteOldest(ctx context.Context, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return 0, nil
	}
	if n > int64(len(s.records)) {
		n = int64(len(s.records))
	}
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].StartedAt.Before(s.records[j].StartedAt)
	})
	remaining := make([]*RequestRecord, len(s.records)-int(n))
	copy(remaining, s.records[n:])
	s.records = remaining
	return n, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func matchesQuery(r *RequestRecord, q *Query) bool {
	if q.StartTime != nil && r.StartedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && !r.StartedAt.Before(*q.EndTime) {
		return false
	}
	if q.Account != "" && r.Account != q.Account {
		return false
	}
	if q.Agent != "" && r.Agent != q.Agent {
		return false
	}
	if q.Model != "" && r.Model != q.Model {
		return false
	}
	switch q.Status {
	case "success":
		return r.Succeeded()
	case "error":
		return !r.Succeeded()
	}
	return true
}
