package servers_test

import (
	"net/http"
	"testing"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/stretchr/testify/require"
)

func TestServersHTTP(t *testing.T) {
	t.Parallel()

	var (
		admin      = auth.APIKey{Name: "panel", Key: "adminsecret1", Permissions: auth.PermAll}
		readOnly   = auth.APIKey{Name: "bot", Key: "botsecret1", Permissions: auth.PermLogin}
		adminCred  = &auth.Credential{Kind: auth.CredentialAPI, ID: admin.Name, Secret: admin.Key}
		botCred    = &auth.Credential{Kind: auth.CredentialAPI, ID: readOnly.Name, Secret: readOnly.Key}
		badCred    = &auth.Credential{Kind: auth.CredentialAPI, ID: admin.Name, Secret: "wrong"}
		serversUC  = servers.NewServers(servers.NewMemoryRepository())
		router     = tests.CreateRouter()
		serverAuth = servers.NewServerAuth(serversUC, auth.APIKeys{admin, readOnly}, "")
	)

	servers.NewServersHandler(router, serversUC, serverAuth)

	tests.Endpoint(t, router, http.MethodGet, "/api/v1/servers", nil, http.StatusUnauthorized, nil)
	tests.Endpoint(t, router, http.MethodGet, "/api/v1/servers", nil, http.StatusUnauthorized, badCred)
	tests.Endpoint(t, router, http.MethodGet, "/api/v1/servers", nil, http.StatusForbidden, botCred)

	var none []servers.Server
	tests.GetOK(t, router, "/api/v1/servers", nil, adminCred, &none)
	require.Empty(t, none)

	var created servers.ServerCredential
	tests.PostCreated(t, router, "/api/v1/servers", servers.RequestServerCreate{
		Name: "Surf", IP: tests.TestClientIP, GamePort: 27015,
	}, adminCred, &created)
	require.Equal(t, "Surf", created.Server.Name)
	require.NotEmpty(t, created.Authorization)

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/servers", servers.RequestServerCreate{
		Name: "Bad", IP: "not an ip", GamePort: 27015,
	}, http.StatusBadRequest, adminCred)

	path := "/api/v1/servers/" + created.Server.ServerID.String()

	var fetched servers.Server
	tests.GetOK(t, router, path, nil, adminCred, &fetched)
	require.Equal(t, created.Server.ServerID, fetched.ServerID)

	name := "Surf Timer"

	var updated servers.Server
	tests.PatchOK(t, router, path, servers.RequestServerUpdate{Name: &name}, adminCred, &updated)
	require.Equal(t, name, updated.Name)

	// The server's own key authenticates, but does not grant server management.
	serverCred, errCred := auth.ParseCredential(created.Authorization)
	require.NoError(t, errCred)
	tests.Endpoint(t, router, http.MethodGet, "/api/v1/servers", nil, http.StatusForbidden, &serverCred)

	var rotated servers.ServerCredential
	tests.PostOK(t, router, path+"/rotate_key", nil, adminCred, &rotated)
	require.NotEqual(t, created.Authorization, rotated.Authorization)
	tests.Endpoint(t, router, http.MethodGet, "/api/v1/servers", nil, http.StatusUnauthorized, &serverCred)

	tests.DeleteNoContent(t, router, path, nil, adminCred)
	tests.Endpoint(t, router, http.MethodGet, path, nil, http.StatusNotFound, adminCred)
}
