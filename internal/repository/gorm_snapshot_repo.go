package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/database"
)

// batchSize keeps IN lists and multi-row inserts under driver parameter limits
// (sqlite allows 32766 bound variables, mysql 65535).
const batchSize = 500

// GormSnapshotRepository implements SnapshotStore using GORM.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GORM-backed snapshot store.
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// EnsureSchema creates the following table if it does not exist.
func (r *GormSnapshotRepository) EnsureSchema(ctx context.Context) error {
	if err := database.AutoMigrate(r.db.WithContext(ctx), &domain.FollowRecord{}); err != nil {
		return &domain.StorageError{Op: "ensure_schema", Err: err}
	}
	return nil
}

// LoadSnapshot returns the recorded followed ids for targetID.
// No rows is an empty set, not an error.
func (r *GormSnapshotRepository) LoadSnapshot(ctx context.Context, targetID string) (domain.IDSet, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.FollowRecord{}).
		Where("target_id = ?", targetID).
		Pluck("followed_id", &ids).Error
	if err != nil {
		return nil, &domain.StorageError{Op: "load_snapshot", Err: err}
	}
	return domain.NewIDSet(ids...), nil
}

// InsertIfAbsent records ids for targetID with followed_at = at. Ids that
// already exist keep their original followed_at.
func (r *GormSnapshotRepository) InsertIfAbsent(ctx context.Context, targetID string, ids domain.IDSet, at time.Time) error {
	if ids.Len() == 0 {
		return nil
	}

	records := make([]domain.FollowRecord, 0, ids.Len())
	for _, id := range ids.Sorted() {
		records = append(records, domain.FollowRecord{
			TargetID:   targetID,
			FollowedID: id,
			FollowedAt: at.UTC(),
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "target_id"}, {Name: "followed_id"}},
			DoNothing: true,
		}).CreateInBatches(records, batchSize).Error
	})
	if err != nil {
		return &domain.StorageError{Op: "insert_if_absent", Err: err}
	}
	return nil
}

// DeleteMany removes ids for targetID. Absent ids are ignored.
func (r *GormSnapshotRepository) DeleteMany(ctx context.Context, targetID string, ids domain.IDSet) error {
	if ids.Len() == 0 {
		return nil
	}

	sorted := ids.Sorted()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(sorted); start += batchSize {
			end := min(start+batchSize, len(sorted))
			err := tx.
				Where("target_id = ? AND followed_id IN ?", targetID, sorted[start:end]).
				Delete(&domain.FollowRecord{}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &domain.StorageError{Op: "delete_many", Err: err}
	}
	return nil
}

// ListRecords returns the records for targetID, oldest first.
func (r *GormSnapshotRepository) ListRecords(ctx context.Context, targetID string) ([]domain.FollowRecord, error) {
	var records []domain.FollowRecord
	err := r.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("followed_at ASC").
		Order("followed_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, &domain.StorageError{Op: "list_records", Err: err}
	}
	return records, nil
}

// Ensure interface is satisfied at compile time.
var _ SnapshotStore = (*GormSnapshotRepository)(nil)
