package rpc

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func cloneEvent(event Event) Event {
	event.AcknowledgedBy = slices.Clone(event.AcknowledgedBy)
	event.Payload = slices.Clone(event.Payload)

	if event.Target != nil {
		target := *event.Target
		event.Target = &target
	}

	return event
}

func (r *MemoryRepository) index(eventID uuid.UUID) int {
	return slices.IndexFunc(r.events, func(event Event) bool {
		return event.EventID == eventID
	})
}

func (r *MemoryRepository) Insert(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index(event.EventID) >= 0 {
		return database.ErrDuplicate
	}

	r.events = append(r.events, cloneEvent(event))

	// Insertion order breaks ties between identical timestamps.
	slices.SortStableFunc(r.events, func(a Event, b Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return nil
}

func (r *MemoryRepository) Get(_ context.Context, eventID uuid.UUID) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.index(eventID)
	if idx < 0 {
		return Event{}, database.ErrNoResult
	}

	return cloneEvent(r.events[idx]), nil
}

func (r *MemoryRepository) filter(limit uint64, match func(Event) bool) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []Event{}

	for _, event := range r.events {
		if uint64(len(results)) >= limit {
			break
		}

		if match(event) {
			results = append(results, cloneEvent(event))
		}
	}

	return results
}

func (r *MemoryRepository) Targeted(_ context.Context, serverID uuid.UUID, limit uint64) ([]Event, error) {
	return r.filter(limit, func(event Event) bool {
		return event.TargetedAt(serverID)
	}), nil
}

func (r *MemoryRepository) Broadcasts(_ context.Context, serverID uuid.UUID, limit uint64) ([]Event, error) {
	return r.filter(limit, func(event Event) bool {
		return event.Broadcast() && !event.AcknowledgedByServer(serverID)
	}), nil
}

func (r *MemoryRepository) Delete(_ context.Context, eventID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(eventID)
	if idx < 0 {
		return database.ErrNoResult
	}

	r.events = slices.Delete(r.events, idx, idx+1)

	return nil
}

func (r *MemoryRepository) Acknowledge(_ context.Context, eventID uuid.UUID, serverID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(eventID)
	if idx < 0 || !r.events[idx].Broadcast() || r.events[idx].AcknowledgedByServer(serverID) {
		return false, nil
	}

	r.events[idx].AcknowledgedBy = append(r.events[idx].AcknowledgedBy, serverID)

	return true, nil
}

func (r *MemoryRepository) Purge(_ context.Context, olderThan time.Time, serverIDs []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.events)

	r.events = slices.DeleteFunc(r.events, func(event Event) bool {
		if event.CreatedAt.Before(olderThan) {
			return true
		}

		if !event.Broadcast() || len(serverIDs) == 0 {
			return false
		}

		for _, serverID := range serverIDs {
			if !event.AcknowledgedByServer(serverID) {
				return false
			}
		}

		return true
	})

	return int64(before - len(r.events)), nil
}
