package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"musicbox/internal/models"
)

// membershipIndex backs insert-on-conflict adds to a playlist.
const membershipIndex = "idx_playlist_songs_member"

// Tables lists every model the record store owns, in creation order.
func Tables() []any {
	return []any{
		&models.Song{},
		&models.Playlist{},
		&models.PlaylistSong{},
		&models.OrphanBlob{},
	}
}

// MigrationManager brings the schema up to date
type MigrationManager struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewMigrationManager(db *gorm.DB, logger zerolog.Logger) *MigrationManager {
	return &MigrationManager{db: db, logger: logger}
}

// Migrate creates missing tables, columns and indexes. It runs on every
// start and is a no-op on an up-to-date schema.
func (m *MigrationManager) Migrate() error {
	start := time.Now()

	tables := Tables()
	for _, model := range tables {
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	if !m.db.Migrator().HasIndex(&models.PlaylistSong{}, membershipIndex) {
		return fmt.Errorf("index %s missing after migration", membershipIndex)
	}

	m.logger.Info().Int("tables", len(tables)).Dur("took", time.Since(start)).Msg("Schema up to date")
	return nil
}
