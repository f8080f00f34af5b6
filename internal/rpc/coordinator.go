package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/errgroup"
)

const defaultFanOut = 8

type ServerSource interface {
	All(ctx context.Context) ([]servers.Server, error)
}

type RecordFinder interface {
	Find(ctx context.Context, pred predicate.Predicate, filter query.Filter) ([]infraction.Infraction, error)
}

type EventQueue interface {
	Enqueue(ctx context.Context, target *uuid.UUID, eventType EventType, payload any) (Event, error)
}

type CoordinatorConfig struct {
	// FanOut bounds the number of summaries computed at once.
	FanOut int
	Clock  func() time.Time
}

// Coordinator recomputes what every server should enforce for the subject of a changed infraction and
// broadcasts the result.
type Coordinator struct {
	servers ServerSource
	records RecordFinder
	queue   EventQueue
	config  CoordinatorConfig
}

func NewCoordinator(servers ServerSource, records RecordFinder, queue EventQueue, config CoordinatorConfig) Coordinator {
	if config.FanOut <= 0 {
		config.FanOut = defaultFanOut
	}

	if config.Clock == nil {
		config.Clock = time.Now
	}

	return Coordinator{servers: servers, records: records, queue: queue, config: config}
}

// subject is one identity or address referenced by an infraction.
type subject struct {
	player *Player
	ip     string
}

func subjects(inf infraction.Infraction) []subject {
	var keys []subject

	if inf.Target.HasIdentity() {
		keys = append(keys, subject{player: &Player{Service: inf.Target.Service, UserID: inf.Target.UserID}})
	}

	if inf.Target.HasIP() {
		keys = append(keys, subject{ip: inf.Target.IP})
	}

	return keys
}

// OnRecordChanged pushes fresh summaries for every (server, subject) pair. Failures are logged and counted,
// the caller has already committed its change and is never told.
func (c Coordinator) OnRecordChanged(ctx context.Context, inf infraction.Infraction) {
	registered, errServers := c.servers.All(ctx)
	if errServers != nil {
		syncFailures.Inc()
		slog.Error("Failed to load servers for sync", log.ErrAttr(errServers),
			slog.String("infraction_id", inf.InfractionID.String()))

		return
	}

	keys := subjects(inf)
	now := c.config.Clock()

	var group errgroup.Group

	group.SetLimit(c.config.FanOut)

	for _, server := range registered {
		for _, key := range keys {
			group.Go(func() error {
				if err := c.push(ctx, server, key, now); err != nil {
					syncFailures.Inc()
					slog.Error("Failed to sync player state", log.ErrAttr(err),
						slog.String("server", server.Name), slog.String("infraction_id", inf.InfractionID.String()))
				}

				return nil
			})
		}
	}

	_ = group.Wait()
}

func (c Coordinator) push(ctx context.Context, server servers.Server, key subject, now time.Time) error {
	opts := infraction.QueryOpts{
		Actor:      server.Actor(),
		IP:         key.ip,
		ActiveOnly: true,
		Now:        now,
	}

	update := PlayerUpdated{ServerID: server.ServerID}

	if key.player != nil {
		opts.Service = key.player.Service
		opts.UserID = key.player.UserID
		update.TargetType = TargetPlayer
		update.Player = key.player
	} else {
		update.TargetType = TargetIP
		update.IP = key.ip
	}

	pred, errPred := infraction.CompileQuery(opts)
	if errPred != nil {
		return errPred
	}

	// One read serves both views so they are consistent with each other.
	records, errFind := c.records.Find(ctx, pred, query.Filter{})
	if errFind != nil {
		return errFind
	}

	var local []infraction.Infraction

	for _, record := range records {
		if record.ServerID != nil && *record.ServerID == server.ServerID {
			local = append(local, record)
		}
	}

	update.Local = infraction.Summarize(local, now)
	update.Global = infraction.Summarize(records, now)

	_, errEnqueue := c.queue.Enqueue(ctx, nil, EventPlayerUpdated, update)

	return errEnqueue
}
