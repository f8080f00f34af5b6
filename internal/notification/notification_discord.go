package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/pkg/log"
)

const defaultQueueSize = 100

var ErrWebhookConfig = errors.New("discord webhook id and token are required")

// WebhookExecutor is satisfied by *discordgo.Session.
type WebhookExecutor interface {
	WebhookExecute(webhookID string, token string, wait bool, data *discordgo.WebhookParams,
		options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordConfig struct {
	WebhookID    string
	WebhookToken string
	ExternalURL  string
	QueueSize    int
}

// DiscordNotifier posts change events to a webhook. Notify only queues the message, Start does the
// sending, so a slow or failing discord never holds up a record change.
type DiscordNotifier struct {
	session WebhookExecutor
	config  DiscordConfig
	queue   chan *discordgo.MessageEmbed
}

// NewDiscordSession opens an unauthenticated session, webhooks carry their own token.
func NewDiscordSession() (*discordgo.Session, error) {
	return discordgo.New("")
}

func NewDiscordNotifier(session WebhookExecutor, config DiscordConfig) (*DiscordNotifier, error) {
	if config.WebhookID == "" || config.WebhookToken == "" {
		return nil, ErrWebhookConfig
	}

	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}

	return &DiscordNotifier{
		session: session,
		config:  config,
		queue:   make(chan *discordgo.MessageEmbed, config.QueueSize),
	}, nil
}

func (d *DiscordNotifier) Notify(_ context.Context, event infraction.Event) {
	select {
	case d.queue <- InfractionEmbed(event, d.config.ExternalURL):
	default:
		slog.Warn("Discord notification queue full, dropping message",
			slog.String("infraction_id", event.Infraction.InfractionID.String()))
	}
}

// Start sends queued messages until ctx is done.
func (d *DiscordNotifier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msgEmbed := <-d.queue:
			d.send(ctx, msgEmbed)
		}
	}
}

func (d *DiscordNotifier) send(ctx context.Context, msgEmbed *discordgo.MessageEmbed) {
	params := &discordgo.WebhookParams{
		Username: providerName,
		Embeds:   []*discordgo.MessageEmbed{msgEmbed},
	}

	if _, errSend := d.session.WebhookExecute(d.config.WebhookID, d.config.WebhookToken, false, params,
		discordgo.WithContext(ctx)); errSend != nil {
		slog.Error("Failed to send discord payload", log.ErrAttr(errSend))
	}
}
