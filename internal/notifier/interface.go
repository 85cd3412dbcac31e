package notifier

import (
	"context"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
)

// Notifier delivers change events, best-effort. Implementations log and
// swallow their own failures; Notify never reports an error to the caller.
type Notifier interface {
	Notify(ctx context.Context, ev domain.ChangeEvent)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev domain.ChangeEvent) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

var _ Notifier = Multi(nil)
