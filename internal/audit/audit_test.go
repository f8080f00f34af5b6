package audit_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/audit"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/stretchr/testify/require"
)

var fixture *tests.Fixture //nolint:gochecknoglobals

func TestMain(m *testing.M) {
	fixture = tests.NewFixture()
	defer fixture.Close()

	m.Run()
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

func repositories(t *testing.T) map[string]audit.Repository {
	t.Helper()

	repos := map[string]audit.Repository{"memory": audit.NewMemoryRepository()}
	if fixture != nil {
		fixture.Reset(t.Context())
		repos["postgres"] = audit.NewPostgresRepository(fixture.Database)

		mongoRepo := audit.NewMongoRepository(fixture.Mongo)
		require.NoError(t, mongoRepo.Init(t.Context()))
		repos["mongo"] = mongoRepo
	}

	return repos
}

func TestAudits(t *testing.T) {
	panel := auth.Actor{Kind: auth.ActorAPIKey, Name: "panel", Permissions: auth.PermAll}
	viewer := auth.Actor{Kind: auth.ActorAPIKey, Name: "viewer", Permissions: auth.PermLogin}

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			now := testNow
			audits := audit.NewAudits(repo, 24*time.Hour, func() time.Time { return now })

			require.NoError(t, audits.Record(t.Context(),
				audit.NewEntry(audit.KindNewInfraction, panel, "created").WithAdmin(tests.ModSID, "mod")))

			now = testNow.Add(time.Hour)
			require.NoError(t, audits.Record(t.Context(), audit.NewEntry(audit.KindNewVPN, panel, "added vpn")))

			now = testNow.Add(2 * time.Hour)
			require.NoError(t, audits.Record(t.Context(), audit.NewEntry(audit.KindEditInfraction, panel, "edited")))

			_, errDenied := audits.List(t.Context(), viewer, audit.Query{})
			require.ErrorIs(t, errDenied, audit.ErrPermissionDenied)

			all, errAll := audits.List(t.Context(), panel, audit.Query{})
			require.NoError(t, errAll)
			require.Equal(t, int64(3), all.Total)
			require.Len(t, all.Entries, 3)
			require.Equal(t, audit.KindEditInfraction, all.Entries[0].Kind)
			require.Equal(t, "api_key/panel", all.Entries[0].Actor)

			adminID := tests.ModSID.Int64()
			byAdmin, errAdmin := audits.List(t.Context(), panel, audit.Query{AdminID: &adminID})
			require.NoError(t, errAdmin)
			require.Len(t, byAdmin.Entries, 1)
			require.Equal(t, "mod", byAdmin.Entries[0].AdminName)

			byKind, errKind := audits.List(t.Context(), panel, audit.Query{
				Kinds: []audit.Kind{audit.KindNewVPN, audit.KindEditInfraction},
			})
			require.NoError(t, errKind)
			require.Equal(t, int64(2), byKind.Total)

			removed, errPurge := audits.Purge(t.Context(), testNow.Add(24*time.Hour+30*time.Minute))
			require.NoError(t, errPurge)
			require.Equal(t, int64(1), removed)

			remaining, errRemaining := audits.List(t.Context(), panel, audit.Query{})
			require.NoError(t, errRemaining)
			require.Equal(t, int64(2), remaining.Total)
		})
	}
}

func TestAuditHTTP(t *testing.T) {
	t.Parallel()

	var (
		panelKey   = auth.APIKey{Name: "panel", Key: "panelsecret1", Permissions: auth.PermAll}
		viewerKey  = auth.APIKey{Name: "viewer", Key: "viewersecret1", Permissions: auth.PermLogin}
		panelCred  = &auth.Credential{Kind: auth.CredentialAPI, ID: panelKey.Name, Secret: panelKey.Key}
		viewerCred = &auth.Credential{Kind: auth.CredentialAPI, ID: viewerKey.Name, Secret: viewerKey.Key}
		serverAuth = servers.NewServerAuth(servers.NewServers(servers.NewMemoryRepository()), auth.APIKeys{panelKey, viewerKey}, "")
		router     = tests.CreateRouter()
		audits     = audit.NewAudits(audit.NewMemoryRepository(), 0, nil)
	)

	audit.NewAuditHandler(router, audits, serverAuth.Middleware)

	require.NoError(t, audits.Record(t.Context(), audit.NewEntry(audit.KindDeleteVPN, panelKey.Actor(), "deleted")))

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/audit", audit.Query{}, http.StatusForbidden, viewerCred)

	var result audit.Result
	tests.PostOK(t, router, "/api/v1/audit", audit.Query{}, panelCred, &result)
	require.Equal(t, int64(1), result.Total)
	require.Equal(t, audit.KindDeleteVPN, result.Entries[0].Kind)
}
