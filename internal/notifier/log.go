package notifier

import (
	"context"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
)

// LogNotifier writes each change as a structured log line.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ev domain.ChangeEvent) {
	l := pkglog.Ctx(ctx)
	l.Info().
		Str("kind", string(ev.Kind)).
		Str(pkglog.FieldTargetUsername, ev.Target.Username).
		Str(pkglog.FieldTargetID, ev.Target.ID).
		Str(pkglog.FieldFollowedID, ev.FollowedID).
		Msg(FormatMessage(ev))
}

var _ Notifier = LogNotifier{}
