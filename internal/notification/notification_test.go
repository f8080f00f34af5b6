package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/notification"
	"github.com/stretchr/testify/require"
)

type webhookCall struct {
	webhookID string
	token     string
	params    *discordgo.WebhookParams
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls []webhookCall
	err   error
}

func (f *fakeWebhook) WebhookExecute(webhookID string, token string, _ bool, data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, webhookCall{webhookID: webhookID, token: token, params: data})

	return nil, f.err
}

func (f *fakeWebhook) sent() []webhookCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]webhookCall(nil), f.calls...)
}

type countingNotifier struct {
	count int
}

func (c *countingNotifier) Notify(_ context.Context, _ infraction.Event) {
	c.count++
}

func newEvent(t *testing.T, kind infraction.EventKind) infraction.Event {
	t.Helper()

	duration := int64(600)

	inf, err := infraction.New(infraction.Opts{
		Target:      infraction.Target{Service: infraction.ServiceSteam, UserID: "76561197960287930", Name: "Rabscuttle"},
		Reason:      "mic spam",
		Punishments: []infraction.PunishmentKind{infraction.VoiceBlock},
		Duration:    &duration,
	}, auth.System(), time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	return infraction.Event{
		Kind:       kind,
		Actor:      "panel",
		Infraction: inf,
		Diff:       infraction.Diff{{Attribute: infraction.AttrReason, Old: "spam", New: "mic spam"}},
	}
}

func TestInfractionEmbed(t *testing.T) {
	t.Parallel()

	event := newEvent(t, infraction.EventEdited)
	msgEmbed := notification.InfractionEmbed(event, "https://bans.example.com/")

	require.Equal(t, "Infraction Edited", msgEmbed.Title)
	require.Equal(t, "mic spam", msgEmbed.Description)
	require.Equal(t, "https://bans.example.com/infractions/"+event.Infraction.InfractionID.String(), msgEmbed.URL)

	fields := map[string]string{}
	for _, field := range msgEmbed.Fields {
		fields[field.Name] = field.Value
	}

	require.Equal(t, "steam:76561197960287930", fields["Target"])
	require.Equal(t, "Rabscuttle", fields["Name"])
	require.Equal(t, "Voice Block", fields["Restrictions"])
	require.Equal(t, "panel", fields["Changed By"])
	require.Equal(t, "Reason: spam -> mic spam", fields["Changes"])

	noLink := notification.InfractionEmbed(newEvent(t, infraction.EventCreated), "")
	require.Empty(t, noLink.URL)
	require.Equal(t, "Infraction Created", noLink.Title)
}

func TestDiscordNotifier(t *testing.T) {
	t.Parallel()

	_, errConfig := notification.NewDiscordNotifier(&fakeWebhook{}, notification.DiscordConfig{})
	require.ErrorIs(t, errConfig, notification.ErrWebhookConfig)

	webhook := &fakeWebhook{err: errors.New("rate limited")}
	notifier, errNotifier := notification.NewDiscordNotifier(webhook, notification.DiscordConfig{
		WebhookID:    "1234",
		WebhookToken: "token",
		QueueSize:    1,
	})
	require.NoError(t, errNotifier)

	// Nothing is draining the queue yet so the second message is dropped.
	notifier.Notify(t.Context(), newEvent(t, infraction.EventCreated))
	notifier.Notify(t.Context(), newEvent(t, infraction.EventRemoved))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	go notifier.Start(ctx)

	require.Eventually(t, func() bool {
		return len(webhook.sent()) == 1
	}, time.Second, 5*time.Millisecond)

	sent := webhook.sent()[0]
	require.Equal(t, "1234", sent.webhookID)
	require.Equal(t, "token", sent.token)
	require.Len(t, sent.params.Embeds, 1)
	require.Equal(t, "Infraction Created", sent.params.Embeds[0].Title)

	// A failed send does not stop the worker.
	notifier.Notify(t.Context(), newEvent(t, infraction.EventRemoved))
	require.Eventually(t, func() bool {
		return len(webhook.sent()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNotifiers(t *testing.T) {
	t.Parallel()

	first, second := &countingNotifier{}, &countingNotifier{}
	notifiers := notification.Notifiers{first, notification.NewLogNotifier(), nil, second}

	notifiers.Notify(t.Context(), newEvent(t, infraction.EventComment))
	notifiers.Notify(t.Context(), newEvent(t, infraction.EventFile))

	require.Equal(t, 2, first.count)
	require.Equal(t, 2, second.count)
}
