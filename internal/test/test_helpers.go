package test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"musicbox/internal/database"
)

// GetTestDB creates an isolated in-memory sqlite database with every table
// migrated. Each test gets its own named database.
func GetTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)

	db, err := gorm.Open(sqlite.Open(dsn), database.GORMConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.NewMigrationManager(db, zerolog.Nop()).Migrate())

	tearDown := func() {
		_ = sqlDB.Close()
	}

	return db, tearDown
}

// GetMockDB returns a gorm connection backed by sqlmock using the postgres
// dialect, for driving record-store failures.
func GetMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := database.GORMConfig()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	return db, mock
}
