package infraction_test

import (
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

func seconds(value int64) *int64 {
	return &value
}

func moderator() *infraction.Author {
	return &infraction.Author{SteamID: tests.ModSID, Name: "mod"}
}

func newRecord(t *testing.T, opts infraction.Opts) infraction.Infraction {
	t.Helper()

	if opts.Reason == "" {
		opts.Reason = "test"
	}

	if !opts.Target.HasIdentity() && !opts.Target.HasIP() {
		opts.Target = infraction.Target{Service: infraction.ServiceSteam, UserID: tests.UserSID.String(), IP: "10.1.1.1"}
	}

	inf, err := infraction.New(opts, auth.System(), testNow)
	require.NoError(t, err)

	return inf
}

func TestNewInfraction(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Punishments: []infraction.PunishmentKind{infraction.Ban, infraction.ChatBlock}})
	require.Equal(t, infraction.Punishments{infraction.ChatBlock, infraction.Ban}, inf.Punishments)
	require.Equal(t, infraction.DurationPermanent, inf.Duration.Mode)
	require.True(t, inf.System)
	require.True(t, inf.Web)
	require.True(t, inf.Active(testNow))

	fixed := newRecord(t, infraction.Opts{Duration: seconds(3600), Admin: moderator()})
	require.Equal(t, testNow.Add(time.Hour), *fixed.Duration.Expires)
	require.False(t, fixed.System)
	require.False(t, fixed.Active(testNow.Add(2*time.Hour)))

	session := newRecord(t, infraction.Opts{Session: true, Punishments: []infraction.PunishmentKind{infraction.VoiceBlock}})
	require.False(t, session.Active(testNow))

	for _, opts := range []infraction.Opts{
		{Punishments: []infraction.PunishmentKind{infraction.Ban}, Playtime: true, Duration: seconds(60)},
		{Punishments: []infraction.PunishmentKind{infraction.Ban}, Session: true},
	} {
		opts.Target = infraction.Target{IP: "10.0.0.1"}
		opts.Reason = "bad"
		_, err := infraction.New(opts, auth.System(), testNow)
		require.ErrorIs(t, err, infraction.ErrInvalidTransition)
	}

	for _, opts := range []infraction.Opts{
		{Target: infraction.Target{Service: infraction.ServiceSteam}, Reason: "x"},
		{Target: infraction.Target{IP: "10.0.0.1"}, Reason: " "},
		{Target: infraction.Target{IP: "10.0.0.1"}, Reason: "x", Playtime: true},
		{Target: infraction.Target{IP: "10.0.0.1"}, Reason: "x", Duration: seconds(-5)},
		{Target: infraction.Target{IP: "10.0.0.1"}, Reason: "x", Punishments: []infraction.PunishmentKind{"jail"}},
	} {
		_, err := infraction.New(opts, auth.System(), testNow)
		require.ErrorIs(t, err, infraction.ErrInvalidArgument)
	}

	limited := auth.Actor{Kind: auth.ActorAPIKey, Permissions: auth.PermCreateInfraction | auth.PermBlockChat}
	_, errBan := infraction.New(infraction.Opts{
		Target: infraction.Target{IP: "10.0.0.1"}, Reason: "x", Punishments: []infraction.PunishmentKind{infraction.Ban},
	}, limited, testNow)
	require.ErrorIs(t, errBan, infraction.ErrPermissionDenied)

	_, errGlobal := infraction.New(infraction.Opts{
		Target: infraction.Target{IP: "10.0.0.1"}, Reason: "x", Scope: infraction.ScopeGlobal,
	}, limited, testNow)
	require.ErrorIs(t, errGlobal, infraction.ErrPermissionDenied)
}

func TestApplyIsAtomic(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Punishments: []infraction.PunishmentKind{infraction.Ban}})

	updated, diff, err := infraction.Apply(inf, auth.System(),
		infraction.SetReason("changed"),
		infraction.SetDurationPlaytime(60))
	require.ErrorIs(t, err, infraction.ErrInvalidTransition)
	require.Empty(t, diff)
	require.Equal(t, "test", updated.Reason)
	require.Equal(t, inf, updated)

	updated, diff, err = infraction.Apply(inf, auth.System(), infraction.SetReason("test"))
	require.NoError(t, err)
	require.Empty(t, diff)
	require.False(t, diff.AffectsStatus())
	require.Equal(t, inf.Reason, updated.Reason)
}

func TestSetPunishmentsRespectsPermissions(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Punishments: []infraction.PunishmentKind{infraction.Ban, infraction.VoiceBlock}})
	actor := auth.Actor{Kind: auth.ActorAPIKey, Permissions: auth.PermBlockChat | auth.PermBlockVoice}

	updated, diff, err := infraction.Apply(inf, actor, infraction.SetPunishments(infraction.ChatBlock))
	require.NoError(t, err)
	require.Equal(t, infraction.Punishments{infraction.ChatBlock, infraction.Ban}, updated.Punishments)
	require.Len(t, diff, 1)
	require.Equal(t, infraction.AttrRestrictions, diff[0].Attribute)
	require.True(t, diff.AffectsStatus())

	warning, _, errWarn := infraction.Apply(inf, auth.System(), infraction.SetPunishments())
	require.NoError(t, errWarn)
	require.True(t, warning.Punishments.IsWarning())

	playtime := newRecord(t, infraction.Opts{Playtime: true, Duration: seconds(600)})
	_, _, errBan := infraction.Apply(playtime, auth.System(), infraction.SetPunishments(infraction.Ban))
	require.ErrorIs(t, errBan, infraction.ErrInvalidTransition)
}

func TestRemoval(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Punishments: []infraction.PunishmentKind{infraction.Ban}})

	removed, diff, err := infraction.Apply(inf, auth.System(), infraction.SetRemoved(moderator(), "appealed", testNow))
	require.NoError(t, err)
	require.True(t, removed.Removed())
	require.False(t, removed.Active(testNow))
	require.Equal(t, "appealed", removed.Removal.Reason)
	require.True(t, diff.AffectsStatus())

	_, _, errAgain := infraction.Apply(removed, auth.System(), infraction.SetRemoved(nil, "again", testNow))
	require.ErrorIs(t, errAgain, infraction.ErrInvalidTransition)

	_, _, errReason := infraction.Apply(inf, auth.System(), infraction.SetRemoved(nil, "", testNow))
	require.ErrorIs(t, errReason, infraction.ErrInvalidArgument)

	reinstated, _, errReinstate := infraction.Apply(removed, auth.System(), infraction.Reinstate())
	require.NoError(t, errReinstate)
	require.False(t, reinstated.Removed())
	require.True(t, reinstated.Active(testNow))

	_, _, errNotRemoved := infraction.Apply(inf, auth.System(), infraction.Reinstate())
	require.ErrorIs(t, errNotRemoved, infraction.ErrInvalidTransition)
}

func TestOwnershipTransitions(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Admin: moderator()})
	serverID := uuid.Must(uuid.NewV4())

	updated, diff, err := infraction.Apply(inf, auth.System(),
		infraction.SetAuthor(nil),
		infraction.SetServer(&serverID),
		infraction.SetVPN(true))
	require.NoError(t, err)
	require.True(t, updated.System)
	require.Nil(t, updated.Admin)
	require.False(t, updated.Web)
	require.Equal(t, serverID, *updated.ServerID)
	require.True(t, updated.VPN)
	require.Len(t, diff, 3)

	back, _, errBack := infraction.Apply(updated, auth.System(), infraction.SetServer(nil))
	require.NoError(t, errBack)
	require.True(t, back.Web)

	noGlobal := auth.Actor{Kind: auth.ActorAPIKey, Permissions: auth.PermCreateInfraction}
	_, _, errScope := infraction.Apply(inf, noGlobal, infraction.SetScope(infraction.ScopeGlobal))
	require.ErrorIs(t, errScope, infraction.ErrPermissionDenied)

	_, unchanged, errSame := infraction.Apply(inf, noGlobal, infraction.SetScope(infraction.ScopeServer))
	require.NoError(t, errSame)
	require.Empty(t, unchanged)
}

func TestDurationTransitions(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Playtime: true, Duration: seconds(600)})
	inf.Duration.TimeLeft = 400

	shorter, diff, err := infraction.Apply(inf, auth.System(), infraction.SetDurationPlaytime(300))
	require.NoError(t, err)
	require.Equal(t, int64(300), shorter.Duration.OriginalTime)
	require.Equal(t, int64(100), shorter.Duration.TimeLeft)
	require.Len(t, diff, 1)

	served, _, errServed := infraction.Apply(inf, auth.System(), infraction.SetDurationPlaytime(100))
	require.NoError(t, errServed)
	require.Equal(t, int64(0), served.Duration.TimeLeft)
	require.False(t, served.Active(testNow))

	fixed, _, errFixed := infraction.Apply(inf, auth.System(), infraction.SetDurationFixed(testNow.Add(time.Hour)))
	require.NoError(t, errFixed)
	require.Equal(t, infraction.DurationFixed, fixed.Duration.Mode)
	require.Zero(t, fixed.Duration.TimeLeft)
	require.NoError(t, fixed.Duration.Validate())

	_, _, errPast := infraction.Apply(inf, auth.System(), infraction.SetDurationFixed(testNow.Add(-time.Hour)))
	require.ErrorIs(t, errPast, infraction.ErrInvalidArgument)

	permanent, _, errPerm := infraction.Apply(fixed, auth.System(), infraction.SetDurationPermanent())
	require.NoError(t, errPerm)
	require.Nil(t, permanent.Expiration(testNow))

	session, _, errSession := infraction.Apply(fixed, auth.System(), infraction.SetDurationSession())
	require.NoError(t, errSession)
	require.Equal(t, int64(0), *session.Expiration(testNow))
}

func TestConsumePlaytime(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Playtime: true, Duration: seconds(600), Punishments: []infraction.PunishmentKind{infraction.ChatBlock}})

	first, diff, err := infraction.Apply(inf, auth.System(), infraction.ConsumePlaytime(testNow, infraction.DefaultHeartbeatGap))
	require.NoError(t, err)
	require.Equal(t, int64(600), first.Duration.TimeLeft)
	require.Equal(t, testNow, *first.Duration.LastHeartbeat)
	require.Empty(t, diff)

	second, _, _ := infraction.Apply(first, auth.System(), infraction.ConsumePlaytime(testNow.Add(90*time.Second), infraction.DefaultHeartbeatGap))
	require.Equal(t, int64(510), second.Duration.TimeLeft)

	// Gaps longer than the maximum only consume the maximum.
	third, _, _ := infraction.Apply(second, auth.System(), infraction.ConsumePlaytime(testNow.Add(2*time.Hour), infraction.DefaultHeartbeatGap))
	require.Equal(t, int64(210), third.Duration.TimeLeft)

	done, doneDiff, _ := infraction.Apply(third, auth.System(), infraction.ConsumePlaytime(testNow.Add(3*time.Hour), time.Hour))
	require.Equal(t, int64(0), done.Duration.TimeLeft)
	require.True(t, doneDiff.AffectsStatus())
	require.False(t, done.Active(testNow))

	_, _, errMode := infraction.Apply(newRecord(t, infraction.Opts{}), auth.System(), infraction.ConsumePlaytime(testNow, time.Minute))
	require.ErrorIs(t, errMode, infraction.ErrInvalidTransition)
}

func TestCommentsAndFiles(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{})

	commented, diff, err := infraction.Apply(inf, auth.System(),
		infraction.AddComment(infraction.Comment{Author: moderator(), Content: " first ", Created: testNow}),
		infraction.AddComment(infraction.Comment{Content: "second", Created: testNow}),
		infraction.AddFile(infraction.File{Name: "demo.dem", StorageKey: "abc", Created: testNow}))
	require.NoError(t, err)
	require.Len(t, commented.Comments, 2)
	require.Equal(t, "first", commented.Comments[0].Content)
	require.Len(t, commented.Files, 1)
	require.False(t, diff.AffectsStatus())
	require.Empty(t, inf.Comments)

	edited, _, errEdit := infraction.Apply(commented, auth.System(), infraction.EditComment(1, "edited", moderator(), testNow))
	require.NoError(t, errEdit)
	require.Equal(t, "edited", edited.Comments[1].Content)
	require.NotNil(t, edited.Comments[1].EditData)
	require.Equal(t, "second", commented.Comments[1].Content)

	deleted, _, errDelete := infraction.Apply(edited, auth.System(), infraction.DeleteComment(0), infraction.DeleteFile(0))
	require.NoError(t, errDelete)
	require.Len(t, deleted.Comments, 1)
	require.Equal(t, "edited", deleted.Comments[0].Content)
	require.Empty(t, deleted.Files)

	_, _, errIndex := infraction.Apply(inf, auth.System(), infraction.EditComment(3, "x", nil, testNow))
	require.ErrorIs(t, errIndex, infraction.ErrInvalidArgument)

	_, _, errEmpty := infraction.Apply(inf, auth.System(), infraction.AddComment(infraction.Comment{Content: "  "}))
	require.ErrorIs(t, errEmpty, infraction.ErrInvalidArgument)

	_, _, errFile := infraction.Apply(inf, auth.System(), infraction.AddFile(infraction.File{Name: "x"}))
	require.ErrorIs(t, errFile, infraction.ErrInvalidArgument)
}

func TestCloneIsolatesNestedData(t *testing.T) {
	t.Parallel()

	inf := newRecord(t, infraction.Opts{Admin: moderator()})
	inf.Comments = []infraction.Comment{{
		Author:   moderator(),
		Content:  "first",
		Created:  testNow,
		EditData: &infraction.EditData{Time: testNow, Author: moderator()},
	}}
	inf.Files = []infraction.File{{Name: "demo.dem", StorageKey: "k", Uploader: moderator(), Created: testNow}}
	inf.Removal = &infraction.Removal{RemovedAt: testNow, Remover: moderator(), Reason: "appeal"}

	clone := inf.Clone()
	clone.Admin.Name = "changed"
	clone.Comments[0].Author.Name = "changed"
	clone.Comments[0].EditData.Author.Name = "changed"
	clone.Comments[0].EditData.Time = testNow.Add(time.Hour)
	clone.Files[0].Uploader.Name = "changed"
	clone.Removal.Remover.Name = "changed"

	require.Equal(t, "mod", inf.Admin.Name)
	require.Equal(t, "mod", inf.Comments[0].Author.Name)
	require.Equal(t, "mod", inf.Comments[0].EditData.Author.Name)
	require.Equal(t, testNow, inf.Comments[0].EditData.Time)
	require.Equal(t, "mod", inf.Files[0].Uploader.Name)
	require.Equal(t, "mod", inf.Removal.Remover.Name)
}
