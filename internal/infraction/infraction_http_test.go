package infraction_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestInfractionsHTTP(t *testing.T) {
	t.Parallel()

	var (
		panelKey    = auth.APIKey{Name: "panel", Key: "panelsecret1", Permissions: auth.PermAll}
		viewerKey   = auth.APIKey{Name: "viewer", Key: "viewersecret1", Permissions: auth.PermLogin | auth.PermComment}
		panelCred   = &auth.Credential{Kind: auth.CredentialAPI, ID: panelKey.Name, Secret: panelKey.Key}
		viewerCred  = &auth.Credential{Kind: auth.CredentialAPI, ID: viewerKey.Name, Secret: viewerKey.Key}
		serversCase = servers.NewServers(servers.NewMemoryRepository())
		serverAuth  = servers.NewServerAuth(serversCase, auth.APIKeys{panelKey, viewerKey}, "")
		router      = tests.CreateRouter()
		repo        = infraction.NewMemoryRepository()
		infractions = infraction.NewInfractions(repo, repo, serversCase, nil, nil, nil, nil, nil, nil, infraction.Config{})
	)

	infraction.NewInfractionHandler(router, infractions, serverAuth.Middleware)

	_, serverCred := tests.CreateTestServer(t.Context(), serversCase, "Surf", 27015)
	player := infraction.Target{Service: infraction.ServiceSteam, UserID: tests.UserSID.String(), IP: "10.8.8.8"}

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions", infraction.Opts{Target: player, Reason: "x"},
		http.StatusUnauthorized, nil)
	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions", infraction.Opts{Target: player, Reason: "x"},
		http.StatusForbidden, viewerCred)
	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions", infraction.Opts{Target: infraction.Target{}, Reason: "x"},
		http.StatusBadRequest, panelCred)

	var created infraction.Infraction
	tests.PostCreated(t, router, "/api/v1/infractions", infraction.Opts{
		Target:      player,
		Reason:      "racism",
		Punishments: []infraction.PunishmentKind{infraction.ChatBlock, infraction.VoiceBlock},
		Scope:       infraction.ScopeGlobal,
	}, panelCred, &created)
	require.Equal(t, "racism", created.Reason)
	require.Equal(t, infraction.ScopeGlobal, created.Scope)

	path := "/api/v1/infractions/" + created.InfractionID.String()

	var viewed infraction.Infraction
	tests.GetOK(t, router, path, nil, viewerCred, &viewed)
	require.Empty(t, viewed.Target.IP)

	tests.Endpoint(t, router, http.MethodGet, "/api/v1/infractions/not-a-uuid", nil, http.StatusBadRequest, panelCred)

	reason := "slurs"

	var edited infraction.Infraction
	tests.PatchOK(t, router, path, infraction.EditOpts{Reason: &reason}, panelCred, &edited)
	require.Equal(t, "slurs", edited.Reason)

	tests.Endpoint(t, router, http.MethodPatch, path, infraction.EditOpts{}, http.StatusBadRequest, panelCred)

	var commented infraction.Infraction
	tests.PostCreated(t, router, path+"/comment", infraction.CommentOpts{Content: "appeal denied"}, viewerCred, &commented)
	require.Len(t, commented.Comments, 1)

	var search infraction.SearchResult
	tests.PostOK(t, router, "/api/v1/infractions/search", infraction.Criteria{Reason: "slur"}, panelCred, &search)
	require.Equal(t, int64(1), search.Total)

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions/search", infraction.Criteria{IP: "10.8.8.8"},
		http.StatusForbidden, viewerCred)

	var alts []infraction.Infraction
	tests.PostOK(t, router, "/api/v1/infractions/alts", infraction.AltQuery{
		Seeds: []infraction.Seed{{Service: player.Service, UserID: player.UserID}},
	}, panelCred, &alts)
	require.Len(t, alts, 1)

	lookup := infraction.Lookup{Service: player.Service, UserID: player.UserID}

	// Game servers see global records of other origins.
	var check infraction.CheckSummary
	tests.GetOK(t, router, "/api/v1/gs/check", lookup, &serverCred, &check)
	require.NotNil(t, check.ChatBlock)
	require.NotNil(t, check.VoiceBlock)

	var stats infraction.Stats
	tests.GetOK(t, router, "/api/v1/infractions/stats", lookup, panelCred, &stats)
	require.Equal(t, 1, stats.ChatBlock.Count)

	var checks []infraction.PlayerCheck
	tests.PostOK(t, router, "/api/v1/gs/heartbeat", map[string]any{
		"players": []infraction.OnlinePlayer{{Service: player.Service, UserID: player.UserID}},
	}, &serverCred, &checks)
	require.Len(t, checks, 1)
	require.NotNil(t, checks[0].Check.ChatBlock)

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/gs/heartbeat", map[string]any{"players": []any{}},
		http.StatusForbidden, panelCred)

	var removed infraction.RemoveResult
	tests.PostOK(t, router, "/api/v1/infractions/remove", infraction.RemoveOpts{
		Player: lookup,
		Reason: "appeal accepted",
	}, panelCred, &removed)
	require.Equal(t, 1, removed.Removed)

	var cleared infraction.CheckSummary
	tests.GetOK(t, router, "/api/v1/gs/check", lookup, &serverCred, &cleared)
	require.True(t, cleared.Empty())
}

func TestPoliciesHTTP(t *testing.T) {
	t.Parallel()

	var (
		panelKey    = auth.APIKey{Name: "panel", Key: "panelsecret1", Permissions: auth.PermAll}
		viewerKey   = auth.APIKey{Name: "viewer", Key: "viewersecret1", Permissions: auth.PermLogin}
		panelCred   = &auth.Credential{Kind: auth.CredentialAPI, ID: panelKey.Name, Secret: panelKey.Key}
		viewerCred  = &auth.Credential{Kind: auth.CredentialAPI, ID: viewerKey.Name, Secret: viewerKey.Key}
		serversCase = servers.NewServers(servers.NewMemoryRepository())
		serverAuth  = servers.NewServerAuth(serversCase, auth.APIKeys{panelKey, viewerKey}, "")
		router      = tests.CreateRouter()
		repo        = infraction.NewMemoryRepository()
		infractions = infraction.NewInfractions(repo, repo, serversCase, nil, nil, nil, nil, nil, nil, infraction.Config{})
	)

	infraction.NewInfractionHandler(router, infractions, serverAuth.Middleware)

	registered, serverCred := tests.CreateTestServer(t.Context(), serversCase, "Zombie Escape", 27015)

	request := infraction.PolicyRequest{
		Name:    "mic spam",
		TierTTL: int64((24 * time.Hour).Seconds()),
		Reason:  "Mic spam",
		Tiers: []infraction.Tier{
			{Punishments: []infraction.PunishmentKind{infraction.VoiceBlock}, Duration: 600},
			{Punishments: []infraction.PunishmentKind{infraction.VoiceBlock}, Duration: 3600},
		},
	}

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions/register_policy", request, http.StatusForbidden, viewerCred)
	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions/register_policy", infraction.PolicyRequest{Name: "empty"},
		http.StatusBadRequest, panelCred)

	var ref infraction.PolicyRef
	tests.PostCreated(t, router, "/api/v1/infractions/register_policy", request, &serverCred, &ref)
	require.False(t, ref.PolicyID.IsNil())

	var listed []infraction.PolicySummary
	tests.GetOK(t, router, "/api/v1/infractions/policies", nil, &serverCred, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, registered.ServerID, *listed[0].ServerID)

	tests.Endpoint(t, router, http.MethodGet, "/api/v1/infractions/policies", nil, http.StatusBadRequest, panelCred)

	var byQuery []infraction.PolicySummary
	tests.GetOK(t, router, "/api/v1/infractions/policies", infraction.PolicyQuery{Server: registered.ServerID.String()},
		panelCred, &byQuery)
	require.Len(t, byQuery, 1)

	using := infraction.PolicyOpts{
		Target:   infraction.Target{Service: infraction.ServiceSteam, UserID: tests.UserSID.String()},
		PolicyID: ref.PolicyID,
	}

	var first, second infraction.Infraction
	tests.PostCreated(t, router, "/api/v1/infractions/using_policy", using, &serverCred, &first)
	tests.PostCreated(t, router, "/api/v1/infractions/using_policy", using, &serverCred, &second)
	require.True(t, first.AutoTier)
	require.Equal(t, ref.PolicyID, *first.PolicyID)

	firstLength, _ := first.Duration.Length(first.Created)
	secondLength, _ := second.Duration.Length(second.Created)
	require.Equal(t, int64(600), firstLength)
	require.Equal(t, int64(3600), secondLength)

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions/unlink_policy", ref, http.StatusForbidden, viewerCred)
	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions/unlink_policy", ref, http.StatusNoContent, panelCred)
	tests.Endpoint(t, router, http.MethodPost, "/api/v1/infractions/unlink_policy",
		infraction.PolicyRef{PolicyID: uuid.Must(uuid.NewV4())}, http.StatusNotFound, panelCred)

	var unlinked []infraction.PolicySummary
	tests.GetOK(t, router, "/api/v1/infractions/policies", nil, &serverCred, &unlinked)
	require.Empty(t, unlinked)
}
