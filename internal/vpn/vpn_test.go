package vpn_test

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/audit"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/gflze/gflbans/internal/vpn"
	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/stretchr/testify/require"
)

var fixture *tests.Fixture //nolint:gochecknoglobals

func TestMain(m *testing.M) {
	fixture = tests.NewFixture()
	defer fixture.Close()

	m.Run()
}

func repositories(t *testing.T) map[string]vpn.Repository {
	t.Helper()

	repos := map[string]vpn.Repository{"memory": vpn.NewMemoryRepository()}
	if fixture != nil {
		fixture.Reset(t.Context())
		repos["postgres"] = vpn.NewPostgresRepository(fixture.Database)

		mongoRepo := vpn.NewMongoRepository(fixture.Mongo)
		require.NoError(t, mongoRepo.Init(t.Context()))
		repos["mongo"] = mongoRepo
	}

	return repos
}

var (
	manager = auth.Actor{Kind: auth.ActorAPIKey, Name: "panel", Permissions: auth.PermManageVPNs} //nolint:gochecknoglobals
	viewer  = auth.Actor{Kind: auth.ActorAPIKey, Name: "viewer", Permissions: auth.PermLogin}     //nolint:gochecknoglobals
)

type staticASN map[netip.Addr]uint32

func (s staticASN) ASN(_ context.Context, addr netip.Addr) (uint32, error) {
	if asNum, found := s[addr]; found {
		return asNum, nil
	}

	return 0, errors.New("unknown address")
}

func TestNormalizePayload(t *testing.T) {
	t.Parallel()

	for _, testCase := range []struct {
		kind     vpn.Kind
		payload  string
		expected string
	}{
		{vpn.KindCIDR, "10.1.2.3/8", "10.0.0.0/8"},
		{vpn.KindCIDR, " 192.0.2.7 ", "192.0.2.7/32"},
		{vpn.KindCIDR, "2001:db8::1/32", "2001:db8::/32"},
		{vpn.KindASN, "AS13335", "13335"},
		{vpn.KindASN, "9009", "9009"},
	} {
		normalized, errNormalize := vpn.NormalizePayload(testCase.kind, testCase.payload)
		require.NoError(t, errNormalize, testCase.payload)
		require.Equal(t, testCase.expected, normalized)
	}

	for _, payload := range []string{"10.0.0.0/33", "not-an-ip"} {
		_, errInvalid := vpn.NormalizePayload(vpn.KindCIDR, payload)
		require.ErrorIs(t, errInvalid, vpn.ErrInvalidRule)
	}

	_, errASN := vpn.NormalizePayload(vpn.KindASN, "0")
	require.ErrorIs(t, errASN, vpn.ErrInvalidRule)
}

func TestVPNs(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			auditLog := audit.NewMemoryRepository()
			audits := audit.NewAudits(auditLog, 0, nil)
			vpns := vpn.NewVPNs(repo, nil, audits, vpn.Config{})

			_, errDenied := vpns.Create(t.Context(), viewer, vpn.RuleCreate{Kind: vpn.KindCIDR, Payload: "10.0.0.0/8"})
			require.ErrorIs(t, errDenied, vpn.ErrPermissionDenied)

			rule, errCreate := vpns.Create(t.Context(), manager, vpn.RuleCreate{
				Kind: vpn.KindCIDR, Payload: "10.1.0.0/16", Comment: "nordvpn",
			})
			require.NoError(t, errCreate)
			require.Equal(t, "10.1.0.0/16", rule.Payload)

			_, errDupe := vpns.Create(t.Context(), manager, vpn.RuleCreate{Kind: vpn.KindCIDR, Payload: "10.1.9.9/16"})
			require.ErrorIs(t, errDupe, database.ErrDuplicate)

			cloud, errCloud := vpns.Create(t.Context(), manager, vpn.RuleCreate{
				Kind: vpn.KindCIDR, Payload: "172.16.0.0/12", Cloud: true, Comment: "geforce now",
			})
			require.NoError(t, errCloud)

			checked, errCheck := vpns.Check(t.Context(), "10.1.4.4")
			require.NoError(t, errCheck)
			require.True(t, checked.VPN)
			require.True(t, checked.Flagged())
			require.Equal(t, rule.RuleID, *checked.RuleID)

			checkedCloud, errCheckCloud := vpns.Check(t.Context(), "172.16.3.3")
			require.NoError(t, errCheckCloud)
			require.True(t, checkedCloud.Cloud)
			require.False(t, checkedCloud.VPN)

			clean, errClean := vpns.Check(t.Context(), "8.8.8.8")
			require.NoError(t, errClean)
			require.False(t, clean.Flagged())

			_, errAddr := vpns.Check(t.Context(), "nope")
			require.ErrorIs(t, errAddr, vpn.ErrInvalidAddress)

			dubious := true
			edited, errEdit := vpns.Edit(t.Context(), manager, rule.RuleID, vpn.RuleUpdate{Dubious: &dubious})
			require.NoError(t, errEdit)
			require.True(t, edited.Dubious)

			_, errNoop := vpns.Edit(t.Context(), manager, rule.RuleID, vpn.RuleUpdate{Dubious: &dubious})
			require.ErrorIs(t, errNoop, vpn.ErrNoChanges)

			// Edits invalidate cached verdicts.
			rechecked, errRecheck := vpns.Check(t.Context(), "10.1.4.4")
			require.NoError(t, errRecheck)
			require.True(t, rechecked.Dubious)
			require.False(t, rechecked.Flagged())

			listed, errList := vpns.List(t.Context(), manager, vpn.ListQuery{Search: "GEFORCE"})
			require.NoError(t, errList)
			require.Equal(t, int64(1), listed.Total)
			require.Equal(t, cloud.RuleID, listed.Results[0].RuleID)

			everything, errEverything := vpns.List(t.Context(), manager, vpn.ListQuery{})
			require.NoError(t, errEverything)
			require.Len(t, everything.Results, 2)

			require.NoError(t, vpns.Delete(t.Context(), manager, "10.1.0.0/16"))
			require.ErrorIs(t, vpns.Delete(t.Context(), manager, "10.1.0.0/16"), database.ErrNoResult)

			entries, errEntries := auditLog.Find(t.Context(), audit.Query{})
			require.NoError(t, errEntries)
			require.Len(t, entries, 4)

			kinds := map[audit.Kind]int{}
			for _, entry := range entries {
				kinds[entry.Kind]++
			}

			require.Equal(t, map[audit.Kind]int{audit.KindNewVPN: 2, audit.KindEditVPN: 1, audit.KindDeleteVPN: 1}, kinds)
		})
	}
}

func TestVPNsASN(t *testing.T) {
	t.Parallel()

	resolver := staticASN{netip.MustParseAddr("198.51.100.4"): 9009, netip.MustParseAddr("203.0.113.9"): 64500}
	vpns := vpn.NewVPNs(vpn.NewMemoryRepository(), resolver, nil, vpn.Config{CacheTTL: time.Minute})

	_, errCreate := vpns.Create(t.Context(), manager, vpn.RuleCreate{Kind: vpn.KindASN, Payload: "AS9009"})
	require.NoError(t, errCreate)

	matched, errMatched := vpns.Check(t.Context(), "198.51.100.4")
	require.NoError(t, errMatched)
	require.True(t, matched.VPN)

	unmatched, errUnmatched := vpns.Check(t.Context(), "203.0.113.9")
	require.NoError(t, errUnmatched)
	require.False(t, unmatched.Flagged())

	_, errLookup := vpns.Check(t.Context(), "192.0.2.200")
	require.Error(t, errLookup)
}

type staticAdmins map[int64]auth.Permission

func (s staticAdmins) Permissions(sid steamid.SteamID) (auth.Permission, bool) {
	perms, found := s[sid.Int64()]

	return perms, found
}

func TestVPNHTTP(t *testing.T) {
	t.Parallel()

	var (
		panelKey   = auth.APIKey{Name: "panel", Key: "panelsecret1", Permissions: auth.PermAll}
		viewerKey  = auth.APIKey{Name: "viewer", Key: "viewersecret1", Permissions: auth.PermLogin}
		panelCred  = &auth.Credential{Kind: auth.CredentialAPI, ID: panelKey.Name, Secret: panelKey.Key}
		viewerCred = &auth.Credential{Kind: auth.CredentialAPI, ID: viewerKey.Name, Secret: viewerKey.Key}
		serverAuth = servers.NewServerAuth(servers.NewServers(servers.NewMemoryRepository()), auth.APIKeys{panelKey, viewerKey}, "")
		router     = tests.CreateRouter()
		vpns       = vpn.NewVPNs(vpn.NewMemoryRepository(), nil, nil, vpn.Config{})
		admins     = staticAdmins{tests.OwnerSID.Int64(): auth.PermVPNCheckSkip}
	)

	vpn.NewVPNHandler(router, vpns, admins, serverAuth.Middleware)

	tests.Endpoint(t, router, http.MethodPost, "/api/v1/vpn", vpn.RuleCreate{Kind: vpn.KindCIDR, Payload: "10.0.0.0/8"},
		http.StatusForbidden, viewerCred)
	tests.Endpoint(t, router, http.MethodPost, "/api/v1/vpn", vpn.RuleCreate{Kind: vpn.KindCIDR, Payload: "10.0.0.0/99"},
		http.StatusBadRequest, panelCred)

	var rule vpn.Rule
	tests.PostCreated(t, router, "/api/v1/vpn", vpn.RuleCreate{Kind: vpn.KindCIDR, Payload: "10.0.0.0/8", Comment: "test"},
		panelCred, &rule)
	tests.Endpoint(t, router, http.MethodPost, "/api/v1/vpn", vpn.RuleCreate{Kind: vpn.KindCIDR, Payload: "10.0.0.0/8"},
		http.StatusConflict, panelCred)

	tests.Endpoint(t, router, http.MethodPatch, "/api/v1/vpn/"+rule.RuleID.String(), vpn.RuleUpdate{},
		http.StatusBadRequest, panelCred)

	var listed vpn.ListResult
	tests.GetOK(t, router, "/api/v1/vpn", vpn.ListQuery{Search: "test"}, panelCred, &listed)
	require.Equal(t, int64(1), listed.Total)

	var check struct {
		vpn.CheckResult

		Immune bool `json:"is_immune"`
	}

	tests.GetOK(t, router, "/api/v1/gs/vpn?gs_service=steam&gs_id="+tests.OwnerSID.String()+"&ip=10.2.3.4", nil,
		viewerCred, &check)
	require.True(t, check.VPN)
	require.True(t, check.Immune)

	tests.DeleteNoContent(t, router, "/api/v1/vpn", map[string]string{"as_number_or_cidr": "10.0.0.0/8"}, panelCred)
	tests.Endpoint(t, router, http.MethodDelete, "/api/v1/vpn", map[string]string{"as_number_or_cidr": "10.0.0.0/8"},
		http.StatusNotFound, panelCred)
}
