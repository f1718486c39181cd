package offline0

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// onSync acknowledges the form-retry tag. Deferred submissions are not queued
// anywhere yet, so there is nothing to replay.
func (w *Worker) onSync(_ context.Context, ev *Event) error {
	if ev.Tag != w.cfg.Sync.Tag {
		w.logger.Debug().Str("tag", ev.Tag).Msg("sync: ignoring unknown tag")
		return nil
	}
	ev.WaitUntil(func(context.Context) error {
		w.logger.Info().Str("tag", ev.Tag).Str("event_id", ev.ID).Msg("sync: deferred form submission retry requested")
		return nil
	})
	return nil
}

func (w *Worker) onPush(_ context.Context, ev *Event) error {
	body := strings.TrimSpace(string(ev.Data))
	if body == "" {
		body = w.cfg.Push.Body
	}
	n := Notification{
		Tag:   uuid.NewString(),
		Title: w.cfg.Push.Title,
		Body:  body,
		Icon:  w.cfg.Push.Icon,
		Badge: w.cfg.Push.Badge,
		URL:   "/",
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "Explore"},
			{Action: ActionClose, Title: "Close"},
		},
	}
	ev.WaitUntil(func(ctx context.Context) error {
		return w.notifier.Show(ctx, n)
	})
	return nil
}

func (w *Worker) onNotificationClick(_ context.Context, ev *Event) error {
	ev.WaitUntil(func(ctx context.Context) error {
		if ev.Tag != "" {
			if err := w.notifier.Close(ctx, ev.Tag); err != nil {
				w.logger.Warn().Err(err).Str("tag", ev.Tag).Msg("closing notification failed")
			}
		}
		if ev.Action == ActionExplore {
			return w.clients.OpenWindow(ctx, "/")
		}
		return nil
	})
	return nil
}
