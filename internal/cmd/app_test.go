package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/config"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	return config.Config{
		General:  config.General{Mode: config.TestMode},
		HTTP:     config.HTTP{Host: "127.0.0.1", Port: 0},
		Database: config.Database{Driver: database.DriverMemory},
		Log:      config.Logging{Level: log.Error},
		RPC: config.RPC{
			PushInterval:    time.Second,
			KickTimeout:     time.Second,
			AckPollInterval: 10 * time.Millisecond,
			Retention:       time.Hour,
			PurgeSchedule:   "@every 1m",
		},
		Auth: config.Auth{APIKeys: []config.APIKey{{Name: "panel", Key: "panelsecret123", Permissions: []string{"all"}}}},
	}
}

func TestAppRouter(t *testing.T) {
	app := NewApp(memoryConfig())
	defer app.Close()

	require.NoError(t, app.Init(t.Context()))

	router, errRouter := app.router()
	require.NoError(t, errRouter)

	created, errCreate := app.servers.Create(t.Context(), servers.RequestServerCreate{
		Name: "Surf", IP: "192.0.2.1", GamePort: 27015, AllowUnknown: true,
	})
	require.NoError(t, errCreate)

	panel := auth.Credential{Kind: auth.CredentialAPI, ID: "panel", Secret: "panelsecret123"}

	for _, check := range []struct {
		path          string
		authorization string
		status        int
	}{
		{"/api/v1/rpc/poll", "", http.StatusUnauthorized},
		{"/api/v1/rpc/poll", panel.String(), http.StatusForbidden},
		{"/api/v1/rpc/poll", created.Authorization, http.StatusOK},
		{"/api/v1/infractions/stats", panel.String(), http.StatusOK},
		{"/api/v1/servers", panel.String(), http.StatusOK},
		{"/api/v1/vpn", panel.String(), http.StatusOK},
		{"/api/v1/vpn", created.Authorization, http.StatusForbidden},
		{"/api/v1/infractions/policies", panel.String(), http.StatusBadRequest},
		{"/api/v1/infractions/policies?server=" + created.Server.ServerID.String(), panel.String(), http.StatusOK},
		{"/api/v1/infractions/policies", created.Authorization, http.StatusOK},
	} {
		req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, check.path, nil)
		if check.authorization != "" {
			req.Header.Set("Authorization", check.authorization)
		}

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		require.Equal(t, check.status, recorder.Code, check.path)
	}

	removed, errPurge := app.broker.Purge(t.Context(), time.Now())
	require.NoError(t, errPurge)
	require.Zero(t, removed)

	purged, errAudit := app.audits.Purge(t.Context(), time.Now())
	require.NoError(t, errAudit)
	require.Zero(t, purged)
}

func TestRenderServers(t *testing.T) {
	t.Parallel()

	server, _, errServer := servers.NewServer("Surf", "192.0.2.1", 27015)
	require.NoError(t, errServer)

	var out bytes.Buffer
	require.NoError(t, renderServers(&out, []servers.Server{server}))
	require.Contains(t, out.String(), server.ServerID.String())
	require.Contains(t, out.String(), "192.0.2.1:27015")
}
