package infraction_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/identity"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/stretchr/testify/require"
)

// countingFinder wraps a repository, counting reads and optionally failing them.
type countingFinder struct {
	repo  *infraction.MemoryRepository
	calls atomic.Int32
	err   error
}

func (f *countingFinder) Find(ctx context.Context, pred predicate.Predicate, filter query.Filter) ([]infraction.Infraction, error) {
	f.calls.Add(1)

	if f.err != nil {
		return nil, f.err
	}

	return f.repo.Find(ctx, pred, filter)
}

func steamTarget(userID string, ip string) infraction.Target {
	return infraction.Target{Service: infraction.ServiceSteam, UserID: userID, IP: ip}
}

func TestFindAlts(t *testing.T) {
	t.Parallel()

	repo := infraction.NewMemoryRepository()

	// A chain: a -(ip1)- b -(id b)- c -(ip3)- d. The stranger shares nothing.
	chain := []infraction.Infraction{
		newRecord(t, infraction.Opts{Target: steamTarget("76561198000000001", "10.0.0.1"), Reason: "a"}),
		newRecord(t, infraction.Opts{Target: steamTarget("76561198000000002", "10.0.0.1"), Reason: "b"}),
		newRecord(t, infraction.Opts{Target: steamTarget("76561198000000002", "10.0.0.3"), Reason: "c"}),
		newRecord(t, infraction.Opts{Target: infraction.Target{IP: "10.0.0.3"}, Reason: "d"}),
		newRecord(t, infraction.Opts{Target: steamTarget("76561198000000009", "10.0.0.9"), Reason: "stranger"}),
	}

	for _, inf := range chain {
		require.NoError(t, repo.Insert(t.Context(), inf))
	}

	reasons := func(records []infraction.Infraction) []string {
		out := make([]string, len(records))
		for idx, inf := range records {
			out[idx] = inf.Reason
		}

		return out
	}

	seed := []infraction.Seed{{Service: infraction.ServiceSteam, UserID: "76561198000000001"}}

	shallow, err := infraction.FindAlts(t.Context(), repo, seed, infraction.AltOpts{Depth: 1})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a"}, reasons(shallow))

	two, errTwo := infraction.FindAlts(t.Context(), repo, seed, infraction.AltOpts{Depth: 2})
	require.NoError(t, errTwo)
	require.ElementsMatch(t, []string{"a", "b"}, reasons(two))

	all, errAll := infraction.FindAlts(t.Context(), repo, seed, infraction.AltOpts{Depth: infraction.MaxAltDepth})
	require.NoError(t, errAll)
	require.ElementsMatch(t, []string{"a", "b", "c", "d"}, reasons(all))

	paged, errPaged := infraction.FindAlts(t.Context(), repo, seed, infraction.AltOpts{Depth: infraction.MaxAltDepth, Offset: 1, Limit: 2})
	require.NoError(t, errPaged)
	require.Len(t, paged, 2)
	require.Equal(t, reasons(all)[1:3], reasons(paged))

	// Every node is only expanded once regardless of how many records reach it.
	finder := &countingFinder{repo: repo}
	_, errCount := infraction.FindAlts(t.Context(), finder, []infraction.Seed{{IP: "10.0.0.1"}, {IP: "10.0.0.1"}}, infraction.AltOpts{Depth: infraction.MaxAltDepth})
	require.NoError(t, errCount)
	require.Equal(t, int32(4), finder.calls.Load())

	_, errDepth := infraction.FindAlts(t.Context(), repo, seed, infraction.AltOpts{Depth: infraction.MaxAltDepth + 1})
	require.ErrorIs(t, errDepth, infraction.ErrInvalidArgument)

	_, errSeed := infraction.FindAlts(t.Context(), repo, []infraction.Seed{{Service: infraction.ServiceSteam}}, infraction.AltOpts{})
	require.ErrorIs(t, errSeed, infraction.ErrInvalidArgument)
}

func TestFindAltsUpstreamErrors(t *testing.T) {
	t.Parallel()

	seed := []infraction.Seed{{IP: "10.0.0.1"}}

	timeout := &countingFinder{repo: infraction.NewMemoryRepository(), err: identity.ErrUpstreamTimeout}
	_, errTimeout := infraction.FindAlts(t.Context(), timeout, seed, infraction.AltOpts{})
	require.ErrorIs(t, errTimeout, identity.ErrUpstreamTimeout)

	errBoom := errors.New("boom")
	failing := &countingFinder{repo: infraction.NewMemoryRepository(), err: errBoom}
	_, errFailed := infraction.FindAlts(t.Context(), failing, seed, infraction.AltOpts{})
	require.ErrorIs(t, errFailed, errBoom)
}
