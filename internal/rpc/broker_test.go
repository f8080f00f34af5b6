package rpc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/rpc"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

var fixture *tests.Fixture //nolint:gochecknoglobals

func TestMain(m *testing.M) {
	fixture = tests.NewFixture()
	defer fixture.Close()

	m.Run()
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

type staticServers []uuid.UUID

func (s staticServers) EnabledIDs(_ context.Context) ([]uuid.UUID, error) {
	return s, nil
}

// stepClock advances by a second on every read so events get distinct, ordered timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Second)

	return c.now
}

func repositories(t *testing.T) map[string]rpc.Repository {
	t.Helper()

	repos := map[string]rpc.Repository{"memory": rpc.NewMemoryRepository()}
	if fixture != nil {
		fixture.Reset(t.Context())
		repos["postgres"] = rpc.NewPostgresRepository(fixture.Database)

		mongoRepo := rpc.NewMongoRepository(fixture.Mongo)
		require.NoError(t, mongoRepo.Init(t.Context()))
		repos["mongo"] = mongoRepo
	}

	return repos
}

func newBroker(repo rpc.Repository, servers staticServers) rpc.Broker {
	clock := &stepClock{now: testNow}

	return rpc.NewBroker(repo, servers, rpc.BrokerConfig{AckPollInterval: 10 * time.Millisecond, Clock: clock.Now})
}

func newServerID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

func kick(ip string) rpc.PlayerKick {
	return rpc.PlayerKick{IP: ip}
}

func eventIDs(events []rpc.Event) []uuid.UUID {
	ids := make([]uuid.UUID, len(events))
	for idx, event := range events {
		ids[idx] = event.EventID
	}

	return ids
}

func TestBrokerTargetedDelivery(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			serverX, serverY := newServerID(), newServerID()
			broker := newBroker(repo, staticServers{serverX, serverY})

			first, errFirst := broker.Enqueue(t.Context(), &serverX, rpc.EventPlayerKick, kick("10.0.0.1"))
			require.NoError(t, errFirst)
			require.False(t, first.Broadcast())

			second, errSecond := broker.Enqueue(t.Context(), &serverX, rpc.EventPlayerKick, kick("10.0.0.2"))
			require.NoError(t, errSecond)

			other, errOther := broker.Poll(t.Context(), serverY, 0, true)
			require.NoError(t, errOther)
			require.Empty(t, other)

			peek, errPeek := broker.Poll(t.Context(), serverX, 0, false)
			require.NoError(t, errPeek)
			require.Equal(t, []uuid.UUID{first.EventID, second.EventID}, eventIDs(peek))

			var payload rpc.PlayerKick
			require.NoError(t, peek[0].Decode(&payload))
			require.Equal(t, "10.0.0.1", payload.IP)

			consumed, errConsumed := broker.Poll(t.Context(), serverX, 0, true)
			require.NoError(t, errConsumed)
			require.Len(t, consumed, 2)

			again, errAgain := broker.Poll(t.Context(), serverX, 0, true)
			require.NoError(t, errAgain)
			require.Empty(t, again)
		})
	}
}

func TestBrokerBroadcastDelivery(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			serverX, serverY, serverZ := newServerID(), newServerID(), newServerID()
			broker := newBroker(repo, staticServers{serverX, serverY, serverZ})

			broadcast, errBroadcast := broker.Enqueue(t.Context(), nil, rpc.EventPlayerUpdated,
				rpc.PlayerUpdated{TargetType: rpc.TargetIP, IP: "10.0.0.9"})
			require.NoError(t, errBroadcast)
			require.True(t, broadcast.Broadcast())

			targeted, errTargeted := broker.Enqueue(t.Context(), &serverZ, rpc.EventPlayerKick, kick("10.0.0.9"))
			require.NoError(t, errTargeted)

			for _, serverID := range []uuid.UUID{serverX, serverY} {
				events, errPoll := broker.Poll(t.Context(), serverID, 0, true)
				require.NoError(t, errPoll)
				require.Equal(t, []uuid.UUID{broadcast.EventID}, eventIDs(events))
			}

			for _, serverID := range []uuid.UUID{serverX, serverY} {
				events, errPoll := broker.Poll(t.Context(), serverID, 0, true)
				require.NoError(t, errPoll)
				require.Empty(t, events)
			}

			// Targeted events come first even when they are newer.
			forZ, errZ := broker.Poll(t.Context(), serverZ, 0, false)
			require.NoError(t, errZ)
			require.Equal(t, []uuid.UUID{targeted.EventID, broadcast.EventID}, eventIDs(forZ))

			// The quota left over by targeted events bounds the broadcasts.
			limited, errLimited := broker.Poll(t.Context(), serverZ, 1, false)
			require.NoError(t, errLimited)
			require.Equal(t, []uuid.UUID{targeted.EventID}, eventIDs(limited))
		})
	}
}

func TestBrokerPollLimits(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			serverX := newServerID()
			broker := newBroker(repo, staticServers{serverX})

			for range rpc.MaxPollLimit + 5 {
				_, errEnqueue := broker.Enqueue(t.Context(), nil, rpc.EventPlayerUpdated,
					rpc.PlayerUpdated{TargetType: rpc.TargetIP, IP: "10.0.0.1"})
				require.NoError(t, errEnqueue)
			}

			defaults, errDefaults := broker.Poll(t.Context(), serverX, 0, false)
			require.NoError(t, errDefaults)
			require.Len(t, defaults, rpc.DefaultPollLimit)

			capped, errCapped := broker.Poll(t.Context(), serverX, 500, false)
			require.NoError(t, errCapped)
			require.Len(t, capped, rpc.MaxPollLimit)
		})
	}
}

func TestBrokerAck(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			serverX, serverY := newServerID(), newServerID()
			broker := newBroker(repo, staticServers{serverX, serverY})

			targeted, errTargeted := broker.Enqueue(t.Context(), &serverX, rpc.EventPlayerKick, kick("10.0.0.1"))
			require.NoError(t, errTargeted)

			broadcast, errBroadcast := broker.Enqueue(t.Context(), nil, rpc.EventPlayerUpdated,
				rpc.PlayerUpdated{TargetType: rpc.TargetIP, IP: "10.0.0.1"})
			require.NoError(t, errBroadcast)

			require.ErrorIs(t, broker.Ack(t.Context(), serverY, targeted.EventID), rpc.ErrNotFound)
			require.ErrorIs(t, broker.Ack(t.Context(), serverX, newServerID()), rpc.ErrNotFound)

			require.NoError(t, broker.Ack(t.Context(), serverX, targeted.EventID))
			require.ErrorIs(t, broker.Ack(t.Context(), serverX, targeted.EventID), rpc.ErrNotFound)

			require.NoError(t, broker.Ack(t.Context(), serverX, broadcast.EventID))
			require.NoError(t, broker.Ack(t.Context(), serverX, broadcast.EventID))

			stored, errGet := repo.Get(t.Context(), broadcast.EventID)
			require.NoError(t, errGet)
			require.Equal(t, []uuid.UUID{serverX}, stored.AcknowledgedBy)

			forX, errX := broker.Poll(t.Context(), serverX, 0, false)
			require.NoError(t, errX)
			require.Empty(t, forX)

			forY, errY := broker.Poll(t.Context(), serverY, 0, false)
			require.NoError(t, errY)
			require.Equal(t, []uuid.UUID{broadcast.EventID}, eventIDs(forY))
		})
	}
}

func TestBrokerWaitForAcknowledgment(t *testing.T) {
	t.Parallel()

	serverX := newServerID()
	repo := rpc.NewMemoryRepository()
	broker := newBroker(repo, staticServers{serverX})

	pending, errPending := broker.Enqueue(t.Context(), &serverX, rpc.EventPlayerKick, kick("10.0.0.1"))
	require.NoError(t, errPending)

	start := time.Now()
	require.ErrorIs(t, broker.WaitForAcknowledgment(t.Context(), pending.EventID, 50*time.Millisecond), rpc.ErrAckTimeout)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Giving up leaves the event deliverable.
	_, errGet := repo.Get(t.Context(), pending.EventID)
	require.NoError(t, errGet)

	cancelled, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, broker.WaitForAcknowledgment(cancelled, pending.EventID, time.Second), context.Canceled)

	go func() {
		time.Sleep(30 * time.Millisecond)

		_, _ = broker.Poll(context.Background(), serverX, 0, true)
	}()

	require.NoError(t, broker.WaitForAcknowledgment(t.Context(), pending.EventID, 5*time.Second))

	_, errGone := repo.Get(t.Context(), pending.EventID)
	require.ErrorIs(t, errGone, database.ErrNoResult)

	// Broadcasts count as acknowledged once any server has seen them.
	broadcast, errBroadcast := broker.Enqueue(t.Context(), nil, rpc.EventPlayerUpdated,
		rpc.PlayerUpdated{TargetType: rpc.TargetIP, IP: "10.0.0.1"})
	require.NoError(t, errBroadcast)
	require.NoError(t, broker.Ack(t.Context(), serverX, broadcast.EventID))
	require.NoError(t, broker.WaitForAcknowledgment(t.Context(), broadcast.EventID, time.Second))
}

func TestBrokerPurge(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			serverX, serverY := newServerID(), newServerID()
			broker := newBroker(repo, staticServers{serverX, serverY})

			stale, errStale := broker.Enqueue(t.Context(), &serverX, rpc.EventPlayerKick, kick("10.0.0.1"))
			require.NoError(t, errStale)

			everyone, errEveryone := broker.Enqueue(t.Context(), nil, rpc.EventPlayerUpdated,
				rpc.PlayerUpdated{TargetType: rpc.TargetIP, IP: "10.0.0.1"})
			require.NoError(t, errEveryone)

			partial, errPartial := broker.Enqueue(t.Context(), nil, rpc.EventPlayerUpdated,
				rpc.PlayerUpdated{TargetType: rpc.TargetIP, IP: "10.0.0.2"})
			require.NoError(t, errPartial)

			require.NoError(t, broker.Ack(t.Context(), serverX, everyone.EventID))
			require.NoError(t, broker.Ack(t.Context(), serverY, everyone.EventID))
			require.NoError(t, broker.Ack(t.Context(), serverX, partial.EventID))

			removed, errPurge := broker.Purge(t.Context(), testNow.Add(time.Hour))
			require.NoError(t, errPurge)
			require.Equal(t, int64(1), removed)

			_, errGone := repo.Get(t.Context(), everyone.EventID)
			require.ErrorIs(t, errGone, database.ErrNoResult)

			_, errKept := repo.Get(t.Context(), partial.EventID)
			require.NoError(t, errKept)

			// Past the retention window everything goes, acknowledged or not.
			expired, errExpired := broker.Purge(t.Context(), testNow.Add(rpc.DefaultRetention+time.Hour))
			require.NoError(t, errExpired)
			require.Equal(t, int64(2), expired)

			_, errStaleGone := repo.Get(t.Context(), stale.EventID)
			require.ErrorIs(t, errStaleGone, database.ErrNoResult)
		})
	}
}
