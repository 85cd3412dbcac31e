package notifier

import (
	"context"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/pubsub"
)

// BusNotifier publishes change events on the event bus (Redis or Kafka)
// for downstream consumers.
type BusNotifier struct {
	pub pubsub.Publisher
}

// NewBusNotifier wraps a publisher.
func NewBusNotifier(pub pubsub.Publisher) *BusNotifier {
	return &BusNotifier{pub: pub}
}

// Notify publishes ev on the target's change channel; failures are logged and dropped.
func (n *BusNotifier) Notify(ctx context.Context, ev domain.ChangeEvent) {
	l := pkglog.Ctx(ctx)

	eventType := pubsub.EventFollowed
	if ev.Kind == domain.ChangeUnfollowed {
		eventType = pubsub.EventUnfollowed
	}

	event, err := pubsub.NewEvent(eventType, ev.Target.ID, ev)
	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldNotifier, "bus").Msg("failed to build bus event")
		return
	}
	event.Timestamp = ev.ObservedAt

	if err := n.pub.Publish(ctx, pubsub.FollowChangesChannel(ev.Target.ID), event); err != nil {
		l.Warn().Err(err).
			Str(pkglog.FieldNotifier, "bus").
			Str(pkglog.FieldFollowedID, ev.FollowedID).
			Msg("bus publish failed")
	}
}

var _ Notifier = (*BusNotifier)(nil)
