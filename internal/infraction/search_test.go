package infraction_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/identity"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

type staticServers map[string][]uuid.UUID

func (s staticServers) ResolveServers(_ context.Context, name string) ([]uuid.UUID, error) {
	return s[strings.ToLower(name)], nil
}

type staticIdentities map[string]identity.Identity

func (s staticIdentities) Resolve(_ context.Context, hint string) (identity.Identity, error) {
	ident, found := s[hint]
	if !found {
		return identity.Identity{}, identity.ErrNotFound
	}

	return ident, nil
}

func boolPtr(value bool) *bool {
	return &value
}

func TestSearchEngine(t *testing.T) {
	t.Parallel()

	var (
		serverID = uuid.Must(uuid.NewV4())
		repo     = infraction.NewMemoryRepository()
		victim   = infraction.Target{Service: infraction.ServiceSteam, UserID: tests.UserSID.String(), Name: "Victim"}
		owner    = &infraction.Author{SteamID: tests.OwnerSID, Name: "Owner"}
		engine   = infraction.NewSearchEngine(repo,
			staticServers{"surf": {serverID}},
			staticIdentities{"vanity": {Service: infraction.ServiceSteam, UserID: tests.UserSID.String()}})
	)

	records := []infraction.Infraction{
		newRecord(t, infraction.Opts{Target: victim, Reason: "cheating", Punishments: []infraction.PunishmentKind{infraction.Ban}, Admin: owner, Scope: infraction.ScopeGlobal}),
		newRecord(t, infraction.Opts{Target: victim, Reason: "spam", Punishments: []infraction.PunishmentKind{infraction.ChatBlock}, Duration: seconds(3600), ServerID: &serverID}),
		newRecord(t, infraction.Opts{Target: infraction.Target{IP: "10.2.2.2", Name: "Someone"}, Reason: "mic spam", Punishments: []infraction.PunishmentKind{infraction.VoiceBlock}, Playtime: true, Duration: seconds(600), Admin: moderator()}),
		newRecord(t, infraction.Opts{Target: infraction.Target{IP: "10.3.3.3"}, Reason: "warned", Session: true}),
	}

	for _, inf := range records {
		require.NoError(t, repo.Insert(t.Context(), inf))
	}

	search := func(criteria infraction.Criteria) []string {
		if criteria.Now.IsZero() {
			criteria.Now = testNow
		}

		pred, err := engine.Compile(t.Context(), criteria)
		require.NoError(t, err)

		found, errFind := repo.Find(t.Context(), pred, query.Filter{})
		require.NoError(t, errFind)

		out := make([]string, 0, len(found))
		for _, inf := range found {
			out = append(out, inf.Reason)
		}

		return out
	}

	require.Len(t, search(infraction.Criteria{}), 4)
	require.ElementsMatch(t, []string{"cheating", "spam"}, search(infraction.Criteria{Name: "vict"}))
	require.ElementsMatch(t, []string{"spam", "mic spam"}, search(infraction.Criteria{Reason: "SPAM"}))
	require.ElementsMatch(t, []string{"cheating"}, search(infraction.Criteria{Admin: "owner"}))
	require.ElementsMatch(t, []string{"cheating"}, search(infraction.Criteria{AdminID: tests.OwnerSID.String()}))
	require.ElementsMatch(t, []string{"spam"}, search(infraction.Criteria{Server: "Surf"}))
	require.Empty(t, search(infraction.Criteria{Server: "unknown"}))
	require.Empty(t, search(infraction.Criteria{Admin: "nobody"}))

	// Free text resolving to an identity matches that identity, anything else falls back to substrings.
	require.ElementsMatch(t, []string{"cheating", "spam"}, search(infraction.Criteria{Search: "vanity"}))
	require.ElementsMatch(t, []string{"mic spam"}, search(infraction.Criteria{Search: "someone"}))

	require.ElementsMatch(t, []string{"cheating"}, search(infraction.Criteria{IsBan: boolPtr(true)}))
	require.ElementsMatch(t, []string{"cheating"}, search(infraction.Criteria{IsGlobal: boolPtr(true), IsSystem: boolPtr(false)}))
	require.ElementsMatch(t, []string{"mic spam"}, search(infraction.Criteria{IsPlaytime: boolPtr(true)}))
	require.ElementsMatch(t, []string{"warned"}, search(infraction.Criteria{IsSession: boolPtr(true)}))
	require.ElementsMatch(t, []string{"cheating", "spam", "mic spam"}, search(infraction.Criteria{IsActive: boolPtr(true)}))
	require.ElementsMatch(t, []string{"spam", "warned"},
		search(infraction.Criteria{IsExpired: boolPtr(true), Now: testNow.Add(2 * time.Hour)}))

	// Durations compare the derived length. Permanent matches every greater than comparison.
	require.ElementsMatch(t, []string{"spam"}, search(infraction.Criteria{Duration: seconds(3600)}))
	require.ElementsMatch(t, []string{"spam", "mic spam", "warned"}, search(infraction.Criteria{Duration: seconds(3600), DurationComparison: "lte"}))
	require.ElementsMatch(t, []string{"cheating", "spam"}, search(infraction.Criteria{Duration: seconds(1000), DurationComparison: "gt"}))
	require.ElementsMatch(t, []string{"mic spam", "warned"}, search(infraction.Criteria{Duration: seconds(1000), DurationComparison: "lt"}))
	require.ElementsMatch(t, []string{"mic spam"}, search(infraction.Criteria{TimeLeft: seconds(590)}))

	expires := testNow.Add(time.Hour).Unix()
	require.ElementsMatch(t, []string{"spam"}, search(infraction.Criteria{Expires: &expires}))

	created := testNow.Unix() + 30
	require.Len(t, search(infraction.Criteria{Created: &created}), 4)
	require.Empty(t, search(infraction.Criteria{Created: &created, CreatedComparison: "gt"}))
}

func TestSearchEngineRejects(t *testing.T) {
	t.Parallel()

	engine := infraction.NewSearchEngine(infraction.NewMemoryRepository(), staticServers{}, nil)

	for _, criteria := range []infraction.Criteria{
		{Search: strings.Repeat("a", infraction.MaxSearchLength+1)},
		{Limit: infraction.MaxSearchLimit + 1},
		{Created: seconds(1), CreatedComparison: "about"},
		{AdminID: "not a steam id"},
	} {
		_, err := engine.Compile(t.Context(), criteria)
		require.ErrorIs(t, err, infraction.ErrInvalidArgument)
	}
}

type failingResolvers struct{}

func (failingResolvers) AdminIDs(_ context.Context, _ string) ([]int64, error) {
	return nil, identity.ErrUpstreamTimeout
}

func (failingResolvers) ResolveServers(_ context.Context, _ string) ([]uuid.UUID, error) {
	return nil, identity.ErrUpstreamTimeout
}

func TestSearchEngineUnresolvedFields(t *testing.T) {
	t.Parallel()

	repo := infraction.NewMemoryRepository()
	engine := infraction.NewSearchEngine(failingResolvers{}, failingResolvers{}, nil)

	victim := infraction.Target{Service: infraction.ServiceSteam, UserID: tests.UserSID.String()}
	require.NoError(t, repo.Insert(t.Context(), newRecord(t, infraction.Opts{Target: victim, Reason: "cheating", Punishments: []infraction.PunishmentKind{infraction.Ban}})))
	require.NoError(t, repo.Insert(t.Context(), newRecord(t, infraction.Opts{Target: victim, Reason: "spam", Punishments: []infraction.PunishmentKind{infraction.ChatBlock}})))

	pred, err := engine.Compile(t.Context(), infraction.Criteria{Admin: "owner", Server: "surf", Reason: "cheat", Now: testNow})

	var unresolved *infraction.UnresolvedError
	require.ErrorAs(t, err, &unresolved)
	require.ErrorIs(t, err, identity.ErrUpstreamTimeout)
	require.Equal(t, []string{"admin", "server"}, unresolved.Fields)
	require.NotNil(t, pred)

	// The remaining criteria still apply.
	found, errFind := repo.Find(t.Context(), pred, query.Filter{})
	require.NoError(t, errFind)
	require.Len(t, found, 1)
	require.Equal(t, "cheating", found[0].Reason)

	// Malformed input is still rejected outright.
	_, errInvalid := engine.Compile(t.Context(), infraction.Criteria{Admin: "owner", AdminID: "bogus"})
	require.ErrorIs(t, errInvalid, infraction.ErrInvalidArgument)
}
