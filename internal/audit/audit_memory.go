package audit

import (
	"context"
	"slices"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)

	return nil
}

func matches(q Query, entry Entry) bool {
	if len(q.Kinds) > 0 && !slices.Contains(q.Kinds, entry.Kind) {
		return false
	}

	if q.AdminID != nil && (entry.AdminID == nil || *entry.AdminID != *q.AdminID) {
		return false
	}

	return q.Since == nil || !entry.Time.Before(*q.Since)
}

func (r *MemoryRepository) filter(q Query) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []Entry{}

	for _, entry := range r.entries {
		if matches(q, entry) {
			results = append(results, entry)
		}
	}

	slices.SortStableFunc(results, func(a Entry, b Entry) int {
		return b.Time.Compare(a.Time)
	})

	return results
}

func (r *MemoryRepository) Find(_ context.Context, q Query) ([]Entry, error) {
	results := r.filter(q)

	start := min(q.Offset, uint64(len(results)))
	end := uint64(len(results))

	if limit := q.CappedLimit(maxListResults); limit > 0 {
		end = min(start+limit, end)
	}

	return results[start:end], nil
}

func (r *MemoryRepository) Count(_ context.Context, q Query) (int64, error) {
	return int64(len(r.filter(q))), nil
}

func (r *MemoryRepository) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.entries)
	r.entries = slices.DeleteFunc(r.entries, func(entry Entry) bool {
		return entry.Time.Before(olderThan)
	})

	return int64(before - len(r.entries)), nil
}
