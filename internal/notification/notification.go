// Package notification delivers record change events to staff facing channels.
package notification

import (
	"context"
	"log/slog"

	"github.com/gflze/gflbans/internal/infraction"
)

// LogNotifier writes every change to the structured log.
type LogNotifier struct{}

func NewLogNotifier() LogNotifier {
	return LogNotifier{}
}

func (LogNotifier) Notify(ctx context.Context, event infraction.Event) {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("actor", event.Actor),
		slog.String("infraction_id", event.Infraction.InfractionID.String()),
		slog.String("target", targetText(event.Infraction.Target)),
	}

	if len(event.Diff) > 0 {
		attrs = append(attrs, slog.String("diff", event.Diff.String()))
	}

	slog.InfoContext(ctx, "Infraction changed", attrs...)
}

// Notifiers fans each event out to every wrapped notifier in order.
type Notifiers []infraction.Notifier

func (n Notifiers) Notify(ctx context.Context, event infraction.Event) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}

func targetText(target infraction.Target) string {
	switch {
	case target.HasIdentity() && target.IP != "":
		return target.Service + ":" + target.UserID + " (" + target.IP + ")"
	case target.HasIdentity():
		return target.Service + ":" + target.UserID
	default:
		return target.IP
	}
}
