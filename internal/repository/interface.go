package repository

import (
	"context"
	"time"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
)

// SnapshotStore persists the last known follow-set per target.
// Every bulk operation commits in a single transaction.
type SnapshotStore interface {
	EnsureSchema(ctx context.Context) error
	LoadSnapshot(ctx context.Context, targetID string) (domain.IDSet, error)
	InsertIfAbsent(ctx context.Context, targetID string, ids domain.IDSet, at time.Time) error
	DeleteMany(ctx context.Context, targetID string, ids domain.IDSet) error
	ListRecords(ctx context.Context, targetID string) ([]domain.FollowRecord, error)
}
