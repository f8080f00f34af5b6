package identity_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/identity"
	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/stretchr/testify/require"
)

func TestResolveLocal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	resolver := identity.NewSteamResolver(identity.Opts{
		Upstream: func(_ context.Context, _ string) (steamid.SteamID, error) {
			calls.Add(1)

			return steamid.SteamID{}, steamid.ErrInvalidSID
		},
	})

	ident, err := resolver.Resolve(t.Context(), "76561197960287930")
	require.NoError(t, err)
	require.Equal(t, identity.Identity{Service: identity.ServiceSteam, UserID: "76561197960287930"}, ident)

	ident3, err3 := resolver.Resolve(t.Context(), "[U:1:22202]")
	require.NoError(t, err3)
	require.Equal(t, ident, ident3)
	require.Equal(t, int32(0), calls.Load())
}

func TestResolveUpstream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	resolver := identity.NewSteamResolver(identity.Opts{
		Upstream: func(_ context.Context, hint string) (steamid.SteamID, error) {
			calls.Add(1)
			if hint == "gabe" {
				return steamid.New(int64(76561197960287930)), nil
			}

			return steamid.SteamID{}, steamid.ErrInvalidSID
		},
	})

	ident, err := resolver.Resolve(t.Context(), "gabe")
	require.NoError(t, err)
	require.Equal(t, "76561197960287930", ident.UserID)

	_, errCached := resolver.Resolve(t.Context(), "gabe")
	require.NoError(t, errCached)
	require.Equal(t, int32(1), calls.Load())

	_, errMissing := resolver.Resolve(t.Context(), "nobody")
	require.ErrorIs(t, errMissing, identity.ErrNotFound)

	_, errText := resolver.Resolve(t.Context(), "cheating in spawn")
	require.ErrorIs(t, errText, identity.ErrNotFound)
}

func TestResolveTimeout(t *testing.T) {
	t.Parallel()

	resolver := identity.NewSteamResolver(identity.Opts{
		Timeout: 20 * time.Millisecond,
		Upstream: func(ctx context.Context, _ string) (steamid.SteamID, error) {
			<-ctx.Done()

			return steamid.SteamID{}, ctx.Err()
		},
	})

	_, err := resolver.Resolve(t.Context(), "slowvanity")
	require.True(t, errors.Is(err, identity.ErrUpstreamTimeout))
}
