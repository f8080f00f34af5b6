package rpc_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/rpc"
	"github.com/stretchr/testify/require"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) Purge(_ context.Context, _ time.Time) (int64, error) {
	p.calls.Add(1)

	return 1, p.err
}

func TestPurgeScheduler(t *testing.T) {
	t.Parallel()

	failing := &countingPurger{err: errors.New("store down")}
	healthy := &countingPurger{}

	scheduler := rpc.NewPurgeScheduler("", rpc.PurgeJob{Name: "failing", Purger: failing},
		rpc.PurgeJob{Name: "healthy", Purger: healthy})

	// A failing job does not stop the rest.
	scheduler.Run(t.Context())
	require.Equal(t, int32(1), failing.calls.Load())
	require.Equal(t, int32(1), healthy.calls.Load())

	require.Error(t, rpc.NewPurgeScheduler("not a schedule").Start(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	running := rpc.NewPurgeScheduler("@every 1s", rpc.PurgeJob{Name: "healthy", Purger: healthy})
	require.NoError(t, running.Start(ctx))
	require.Eventually(t, func() bool { return healthy.calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
	cancel()
}
