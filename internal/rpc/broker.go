package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
)

const (
	DefaultPollLimit       = 10
	MaxPollLimit           = 50
	DefaultAckPollInterval = 500 * time.Millisecond
	DefaultRetention       = 24 * time.Hour
)

// ServerLister enumerates the servers expected to acknowledge broadcasts.
type ServerLister interface {
	EnabledIDs(ctx context.Context) ([]uuid.UUID, error)
}

type BrokerConfig struct {
	AckPollInterval time.Duration
	Retention       time.Duration
	Clock           func() time.Time
}

// Broker stores events and hands them to the transports. All state lives in the repository so any number
// of api instances can share one store.
type Broker struct {
	repository Repository
	servers    ServerLister
	config     BrokerConfig
}

func NewBroker(repository Repository, servers ServerLister, config BrokerConfig) Broker {
	if config.AckPollInterval <= 0 {
		config.AckPollInterval = DefaultAckPollInterval
	}

	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	if config.Clock == nil {
		config.Clock = time.Now
	}

	return Broker{repository: repository, servers: servers, config: config}
}

// Enqueue stores a new event. A nil target broadcasts to every server.
func (b Broker) Enqueue(ctx context.Context, target *uuid.UUID, eventType EventType, payload any) (Event, error) {
	event, errEvent := NewEvent(target, eventType, payload, b.config.Clock())
	if errEvent != nil {
		return Event{}, errEvent
	}

	if err := b.repository.Insert(ctx, event); err != nil {
		return Event{}, err
	}

	eventsEnqueued.WithLabelValues(string(eventType)).Inc()

	return event, nil
}

// Poll returns the events waiting for serverID, targeted events first. With ackOnRead the returned events
// count as acknowledged and will not be returned again.
func (b Broker) Poll(ctx context.Context, serverID uuid.UUID, limit int, ackOnRead bool) ([]Event, error) {
	switch {
	case limit <= 0:
		limit = DefaultPollLimit
	case limit > MaxPollLimit:
		limit = MaxPollLimit
	}

	targeted, errTargeted := b.repository.Targeted(ctx, serverID, uint64(limit)) //nolint:gosec
	if errTargeted != nil {
		return nil, errTargeted
	}

	events := make([]Event, 0, limit)

	for _, event := range targeted {
		if ackOnRead {
			if errDelete := b.repository.Delete(ctx, event.EventID); errDelete != nil {
				// Consumed by a concurrent poll.
				if errors.Is(errDelete, database.ErrNoResult) {
					continue
				}

				return nil, errDelete
			}

			eventsAcknowledged.Inc()
		}

		events = append(events, event)
	}

	remaining := limit - len(events)
	if remaining <= 0 {
		return events, nil
	}

	broadcasts, errBroadcasts := b.repository.Broadcasts(ctx, serverID, uint64(remaining)) //nolint:gosec
	if errBroadcasts != nil {
		return nil, errBroadcasts
	}

	for _, event := range broadcasts {
		if ackOnRead {
			marked, errAck := b.repository.Acknowledge(ctx, event.EventID, serverID)
			if errAck != nil {
				return nil, errAck
			}

			if !marked {
				continue
			}

			eventsAcknowledged.Inc()
			event.AcknowledgedBy = append(event.AcknowledgedBy, serverID)
		}

		events = append(events, event)
	}

	return events, nil
}

// Ack consumes an event on behalf of serverID. Targeted events are deleted, broadcasts record the server
// in their ack set. Acknowledging a broadcast twice is not an error.
func (b Broker) Ack(ctx context.Context, serverID uuid.UUID, eventID uuid.UUID) error {
	event, errEvent := b.repository.Get(ctx, eventID)
	if errEvent != nil {
		if errors.Is(errEvent, database.ErrNoResult) {
			return ErrNotFound
		}

		return errEvent
	}

	if !event.Broadcast() {
		if !event.TargetedAt(serverID) {
			return ErrNotFound
		}

		if errDelete := b.repository.Delete(ctx, eventID); errDelete != nil {
			if errors.Is(errDelete, database.ErrNoResult) {
				return ErrNotFound
			}

			return errDelete
		}

		eventsAcknowledged.Inc()

		return nil
	}

	marked, errAck := b.repository.Acknowledge(ctx, eventID, serverID)
	if errAck != nil {
		return errAck
	}

	if marked {
		eventsAcknowledged.Inc()
	}

	return nil
}

// consumed reports whether an event is gone or, for broadcasts, acknowledged by at least one server.
func (b Broker) consumed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	event, errEvent := b.repository.Get(ctx, eventID)
	if errEvent != nil {
		if errors.Is(errEvent, database.ErrNoResult) {
			return true, nil
		}

		return false, errEvent
	}

	return event.Broadcast() && len(event.AcknowledgedBy) > 0, nil
}

// WaitForAcknowledgment blocks until the event has been consumed, timeout elapses, or ctx is cancelled.
// The event is left in place when giving up so it can still be delivered and later purged.
func (b Broker) WaitForAcknowledgment(ctx context.Context, eventID uuid.UUID, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(b.config.AckPollInterval)
	defer ticker.Stop()

	for {
		done, errCheck := b.consumed(ctx, eventID)
		if errCheck != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return errCheck
		}

		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			ackTimeouts.Inc()

			return fmt.Errorf("%w: event %s", ErrAckTimeout, eventID)
		case <-ticker.C:
		}
	}
}

// Purge removes expired events and broadcasts that every enabled server has acknowledged.
func (b Broker) Purge(ctx context.Context, now time.Time) (int64, error) {
	serverIDs, errServers := b.servers.EnabledIDs(ctx)
	if errServers != nil {
		return 0, errServers
	}

	count, errPurge := b.repository.Purge(ctx, now.Add(-b.config.Retention), serverIDs)
	if errPurge != nil {
		return 0, errPurge
	}

	if count > 0 {
		eventsPurged.Add(float64(count))
		slog.Debug("Purged rpc events", slog.Int64("count", count))
	}

	return count, nil
}
