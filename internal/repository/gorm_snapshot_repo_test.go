package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/database"
)

func newTestRepo(t *testing.T) *GormSnapshotRepository {
	t.Helper()
	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:"})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewGormSnapshotRepository(db)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, repo.EnsureSchema(context.Background()))
}

func TestLoadSnapshotEmpty(t *testing.T) {
	repo := newTestRepo(t)

	ids, err := repo.LoadSnapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Equal(t, 0, ids.Len())
}

func TestInsertThenLoadRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertIfAbsent(ctx, "T", domain.NewIDSet("a", "b"), time.Now()))

	ids, err := repo.LoadSnapshot(ctx, "T")
	require.NoError(t, err)
	assert.True(t, ids.Has("a"))
	assert.True(t, ids.Has("b"))

	other, err := repo.LoadSnapshot(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len())
}

func TestInsertIfAbsentKeepsOriginalTimestamp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	first := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	require.NoError(t, repo.InsertIfAbsent(ctx, "T", domain.NewIDSet("a"), first))
	require.NoError(t, repo.InsertIfAbsent(ctx, "T", domain.NewIDSet("a", "b"), later))

	records, err := repo.ListRecords(ctx, "T")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "a", records[0].FollowedID)
	assert.True(t, first.Equal(records[0].FollowedAt), "got %v", records[0].FollowedAt)
	assert.Equal(t, "b", records[1].FollowedID)
	assert.True(t, later.Equal(records[1].FollowedAt), "got %v", records[1].FollowedAt)
}

func TestEmptySetsAreNoOps(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertIfAbsent(ctx, "T", domain.NewIDSet(), time.Now()))
	require.NoError(t, repo.InsertIfAbsent(ctx, "T", nil, time.Now()))
	require.NoError(t, repo.DeleteMany(ctx, "T", domain.NewIDSet()))

	ids, err := repo.LoadSnapshot(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, 0, ids.Len())
}

func TestDeleteManyIgnoresAbsentIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertIfAbsent(ctx, "T", domain.NewIDSet("a", "b", "c"), time.Now()))
	require.NoError(t, repo.InsertIfAbsent(ctx, "U", domain.NewIDSet("a"), time.Now()))
	require.NoError(t, repo.DeleteMany(ctx, "T", domain.NewIDSet("a", "zzz")))

	ids, err := repo.LoadSnapshot(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids.Sorted())

	// Other targets are untouched.
	ids, err = repo.LoadSnapshot(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids.Sorted())
}

func TestApplyingDiffTwiceIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertIfAbsent(ctx, "T", domain.NewIDSet("1", "2", "3"), time.Now()))

	added := domain.NewIDSet("4")
	removed := domain.NewIDSet("1")
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.InsertIfAbsent(ctx, "T", added, time.Now()))
		require.NoError(t, repo.DeleteMany(ctx, "T", removed))
	}

	ids, err := repo.LoadSnapshot(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, ids.Sorted())
}

func TestLargeSetsSpanBatches(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ids := domain.NewIDSet()
	for i := 0; i < batchSize*2+7; i++ {
		ids.Add(time.Unix(int64(i), 0).UTC().Format("20060102150405"))
	}
	require.NoError(t, repo.InsertIfAbsent(ctx, "T", ids, time.Now()))

	got, err := repo.LoadSnapshot(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, ids.Len(), got.Len())

	require.NoError(t, repo.DeleteMany(ctx, "T", ids))
	got, err = repo.LoadSnapshot(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestConcurrentTargetsDoNotInterfere(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, target := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				assert.NoError(t, repo.InsertIfAbsent(ctx, target, domain.NewIDSet("x", "y", target), time.Now()))
				assert.NoError(t, repo.DeleteMany(ctx, target, domain.NewIDSet("x")))
			}
		}(target)
	}
	wg.Wait()

	for _, target := range []string{"A", "B", "C", "D"} {
		ids, err := repo.LoadSnapshot(ctx, target)
		require.NoError(t, err)
		assert.Equal(t, domain.NewIDSet("y", target).Sorted(), ids.Sorted())
	}
}

func TestStorageErrorsAreTyped(t *testing.T) {
	repo := newTestRepo(t)
	sqlDB, err := repo.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = repo.LoadSnapshot(context.Background(), "T")
	var se *domain.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "load_snapshot", se.Op)
	assert.False(t, domain.IsFatal(err))

	err = repo.InsertIfAbsent(context.Background(), "T", domain.NewIDSet("a"), time.Now())
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "insert_if_absent", se.Op)
}
