package notification

import (
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gflze/gflbans/internal/infraction"
	embed "github.com/leighmacdonald/discordgo-embed"
)

const (
	providerName = "gflbans"

	colorCreated = 0xe74c3c
	colorEdited  = 0xf1c40f
	colorRemoved = 0x2ecc71
	colorOther   = 0x3498db
)

func eventTitle(kind infraction.EventKind) string {
	switch kind {
	case infraction.EventCreated:
		return "Infraction Created"
	case infraction.EventEdited:
		return "Infraction Edited"
	case infraction.EventRemoved:
		return "Infraction Removed"
	case infraction.EventComment:
		return "Comment Added"
	case infraction.EventFile:
		return "Files Changed"
	default:
		return "Infraction Changed"
	}
}

func eventColor(kind infraction.EventKind) int {
	switch kind {
	case infraction.EventCreated:
		return colorCreated
	case infraction.EventEdited:
		return colorEdited
	case infraction.EventRemoved:
		return colorRemoved
	default:
		return colorOther
	}
}

// InfractionEmbed renders a change event. externalURL, when set, links the embed to the record.
func InfractionEmbed(event infraction.Event, externalURL string) *discordgo.MessageEmbed {
	inf := event.Infraction

	msgEmbed := embed.NewEmbed().
		SetTitle(eventTitle(event.Kind)).
		SetDescription(inf.Reason).
		SetColor(eventColor(event.Kind)).
		SetFooter(providerName)

	if externalURL != "" {
		msgEmbed.SetURL(strings.TrimSuffix(externalURL, "/") + "/infractions/" + inf.InfractionID.String())
	}

	msgEmbed.AddField("Target", targetText(inf.Target)).MakeFieldInline()

	if inf.Target.Name != "" {
		msgEmbed.AddField("Name", inf.Target.Name).MakeFieldInline()
	}

	msgEmbed.AddField("Restrictions", inf.Punishments.String()).MakeFieldInline()
	msgEmbed.AddField("Scope", inf.Scope.String()).MakeFieldInline()
	msgEmbed.AddField("Duration", inf.DurationText()).MakeFieldInline()
	msgEmbed.AddField("Admin", inf.Admin.String()).MakeFieldInline()

	if event.Actor != "" {
		msgEmbed.AddField("Changed By", event.Actor).MakeFieldInline()
	}

	if inf.Removal != nil && inf.Removal.Reason != "" {
		msgEmbed.AddField("Removal Reason", inf.Removal.Reason)
	}

	if len(event.Diff) > 0 {
		msgEmbed.AddField("Changes", event.Diff.String())
	}

	msgEmbed.Timestamp = inf.UpdatedOn.UTC().Format(time.RFC3339)

	return msgEmbed.Truncate().MessageEmbed
}
