package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:", sqliteDSN(""))
	assert.Equal(t, "file::memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "data/x.db?_busy_timeout=5000", sqliteDSN("data/x.db"))
}

func TestNewSqliteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "following.db")

	db, err := New(&Config{Driver: "sqlite", FilePath: path})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, sqlDB.Ping())
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	assert.FileExists(t, path)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(&Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logger.Warn, parseLogLevel("warn"))
	assert.Equal(t, logger.Silent, parseLogLevel(""))
}

type widget struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestAutoMigrate(t *testing.T) {
	db, err := New(&Config{Driver: "sqlite", FilePath: ":memory:"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, AutoMigrate(db, &widget{}))
	require.NoError(t, AutoMigrate(db, &widget{}))
	assert.True(t, db.Migrator().HasTable(&widget{}))
}
