package infraction_test

import (
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/infraction"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	shortChat := newRecord(t, infraction.Opts{Reason: "short", Duration: seconds(60), Punishments: []infraction.PunishmentKind{infraction.ChatBlock}})
	longChat := newRecord(t, infraction.Opts{Reason: "long", Duration: seconds(3600), Admin: moderator(),
		Punishments: []infraction.PunishmentKind{infraction.ChatBlock, infraction.VoiceBlock}})
	permBan := newRecord(t, infraction.Opts{Reason: "forever", Punishments: []infraction.PunishmentKind{infraction.Ban}})
	playVoice := newRecord(t, infraction.Opts{Reason: "playtime", Playtime: true, Duration: seconds(7200),
		Punishments: []infraction.PunishmentKind{infraction.VoiceBlock}})

	summary := infraction.Summarize([]infraction.Infraction{shortChat, longChat, permBan, playVoice}, testNow)

	require.NotNil(t, summary.ChatBlock)
	require.Equal(t, "long", summary.ChatBlock.Reason)
	require.Equal(t, "mod", summary.ChatBlock.AdminName)
	require.Equal(t, testNow.Add(time.Hour).Unix(), *summary.ChatBlock.Expiration)

	// Playtime expirations are projected from the remaining time.
	require.Equal(t, "playtime", summary.VoiceBlock.Reason)
	require.Equal(t, testNow.Unix()+7200, *summary.VoiceBlock.Expiration)

	require.Equal(t, "forever", summary.Ban.Reason)
	require.Equal(t, "SYSTEM", summary.Ban.AdminName)
	require.Nil(t, summary.Ban.Expiration)
	require.Nil(t, summary.ItemBlock)
	require.False(t, summary.Empty())

	// A permanent restriction is never replaced by a bounded one.
	otherBan := newRecord(t, infraction.Opts{Reason: "later", Duration: seconds(99999), Punishments: []infraction.PunishmentKind{infraction.Ban}})
	summary.Add(otherBan, testNow)
	require.Equal(t, "forever", summary.Get(infraction.Ban).Reason)

	require.True(t, infraction.Summarize(nil, testNow).Empty())

	farFuture := newRecord(t, infraction.Opts{Reason: "far", Duration: seconds(int64(200 * 365 * 24 * time.Hour / time.Second)),
		Punishments: []infraction.PunishmentKind{infraction.ItemBlock}})
	require.Nil(t, infraction.Summarize([]infraction.Infraction{farFuture}, testNow).ItemBlock.Expiration)
}

func TestTally(t *testing.T) {
	t.Parallel()

	stats := infraction.Tally([]infraction.Infraction{
		newRecord(t, infraction.Opts{Duration: seconds(60), Punishments: []infraction.PunishmentKind{infraction.ChatBlock}}),
		newRecord(t, infraction.Opts{Duration: seconds(600), Punishments: []infraction.PunishmentKind{infraction.ChatBlock, infraction.VoiceBlock}}),
		newRecord(t, infraction.Opts{Punishments: []infraction.PunishmentKind{infraction.Ban}}),
		newRecord(t, infraction.Opts{Duration: seconds(30), Punishments: []infraction.PunishmentKind{infraction.Ban}}),
		newRecord(t, infraction.Opts{Session: true}),
	})

	require.Equal(t, 2, stats.ChatBlock.Count)
	require.Equal(t, int64(600), *stats.ChatBlock.Longest)
	require.Equal(t, 1, stats.VoiceBlock.Count)
	require.Equal(t, 2, stats.Ban.Count)
	require.Nil(t, stats.Ban.Longest)
	require.Equal(t, 1, stats.Warning.Count)
	require.Equal(t, int64(0), *stats.Warning.Longest)
	require.Zero(t, stats.ItemBlock.Count)
}
