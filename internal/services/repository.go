package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"musicbox/internal/models"
)

// Repository handles database operations for models. Membership edits are
// single statements against playlist_songs so concurrent edits of the same
// playlist never rewrite the whole list.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// DB exposes the connection for health probes.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Playlist operations

// EnsurePlaylist returns the named playlist, creating it if it does not exist.
func (r *Repository) EnsurePlaylist(ctx context.Context, name string) (*models.Playlist, error) {
	playlist := models.Playlist{Name: name, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&playlist).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure playlist %q: %w", name, err)
	}
	return r.GetPlaylistByName(ctx, name)
}

func (r *Repository) GetPlaylistByName(ctx context.Context, name string) (*models.Playlist, error) {
	var playlist models.Playlist
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&playlist).Error; err != nil {
		return nil, err
	}
	return &playlist, nil
}

// ListPlaylists returns every playlist in creation order.
func (r *Repository) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var playlists []models.Playlist
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&playlists).Error; err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	return playlists, nil
}

func (r *Repository) CreatePlaylist(ctx context.Context, name string) (*models.Playlist, error) {
	playlist := &models.Playlist{Name: name, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(playlist).Error; err != nil {
		return nil, fmt.Errorf("failed to create playlist %q: %w", name, err)
	}
	return playlist, nil
}

func (r *Repository) RenamePlaylist(ctx context.Context, id int64, newName string) error {
	res := r.db.WithContext(ctx).Model(&models.Playlist{}).Where("id = ?", id).Update("name", newName)
	if res.Error != nil {
		return fmt.Errorf("failed to rename playlist: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeletePlaylist removes the playlist and its membership rows. Songs are untouched.
func (r *Repository) DeletePlaylist(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", id).Delete(&models.PlaylistSong{}).Error; err != nil {
			return fmt.Errorf("failed to delete playlist members: %w", err)
		}
		res := tx.Delete(&models.Playlist{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete playlist: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// Membership operations

// ListMemberships returns all membership rows in insertion order.
func (r *Repository) ListMemberships(ctx context.Context) ([]models.PlaylistSong, error) {
	var rows []models.PlaylistSong
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list playlist members: %w", err)
	}
	return rows, nil
}

// AddMemberships appends the songs to a playlist, skipping ones already present.
// It returns how many rows were inserted.
func (r *Repository) AddMemberships(ctx context.Context, playlistID int64, songIDs []string) (int64, error) {
	if len(songIDs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]models.PlaylistSong, 0, len(songIDs))
	for _, id := range songIDs {
		rows = append(rows, models.PlaylistSong{PlaylistID: playlistID, SongID: id, CreatedAt: now})
	}
	res := r.db.WithContext(ctx).Clauses(memberConflict()).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to add playlist members: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RemoveMembership unlinks one song from one playlist. Absent rows are not an error.
func (r *Repository) RemoveMembership(ctx context.Context, playlistID int64, songID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("playlist_id = ? AND song_id = ?", playlistID, songID).
		Delete(&models.PlaylistSong{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to remove playlist member: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MoveMembership links the song into toID and, unless keepSource is set,
// unlinks it from fromID, in one transaction.
func (r *Repository) MoveMembership(ctx context.Context, songID string, fromID, toID int64, keepSource bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.PlaylistSong{PlaylistID: toID, SongID: songID, CreatedAt: time.Now().UTC()}
		if err := tx.Clauses(memberConflict()).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to add playlist member: %w", err)
		}
		if keepSource {
			return nil
		}
		if err := tx.Where("playlist_id = ? AND song_id = ?", fromID, songID).Delete(&models.PlaylistSong{}).Error; err != nil {
			return fmt.Errorf("failed to remove playlist member: %w", err)
		}
		return nil
	})
}

// PruneDanglingMemberships deletes membership rows whose song no longer exists.
func (r *Repository) PruneDanglingMemberships(ctx context.Context) (int64, error) {
	songIDs := r.db.WithContext(ctx).Model(&models.Song{}).Select("id")
	res := r.db.WithContext(ctx).Where("song_id NOT IN (?)", songIDs).Delete(&models.PlaylistSong{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune playlist members: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func memberConflict() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "playlist_id"}, {Name: "song_id"}},
		DoNothing: true,
	}
}

// Song operations

func (r *Repository) GetSong(ctx context.Context, id string) (*models.Song, error) {
	var song models.Song
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&song).Error; err != nil {
		return nil, err
	}
	return &song, nil
}

// ListSongs returns every song in upload order.
func (r *Repository) ListSongs(ctx context.Context) ([]models.Song, error) {
	var songs []models.Song
	if err := r.db.WithContext(ctx).Order("uploaded_at ASC").Find(&songs).Error; err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}
	return songs, nil
}

// ExistingSongIDs returns the subset of ids that resolve to songs.
func (r *Repository) ExistingSongIDs(ctx context.Context, ids []string) ([]string, error) {
	var found []string
	if len(ids) == 0 {
		return found, nil
	}
	if err := r.db.WithContext(ctx).Model(&models.Song{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve songs: %w", err)
	}
	return found, nil
}

// CreateSong inserts the song and appends it to the given playlist atomically.
func (r *Repository) CreateSong(ctx context.Context, song *models.Song, playlistID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(song).Error; err != nil {
			return fmt.Errorf("failed to create song: %w", err)
		}
		member := models.PlaylistSong{PlaylistID: playlistID, SongID: song.ID, CreatedAt: song.UploadedAt}
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("failed to add song to playlist: %w", err)
		}
		return nil
	})
}

func (r *Repository) RenameSong(ctx context.Context, id, name string) error {
	res := r.db.WithContext(ctx).Model(&models.Song{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return fmt.Errorf("failed to rename song: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PurgeSong deletes the song and every membership referencing it in one
// transaction and returns the deleted record.
func (r *Repository) PurgeSong(ctx context.Context, id string) (*models.Song, error) {
	var song models.Song
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&song).Error; err != nil {
			return err
		}
		if err := tx.Where("song_id = ?", id).Delete(&models.PlaylistSong{}).Error; err != nil {
			return fmt.Errorf("failed to delete song references: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Song{}).Error; err != nil {
			return fmt.Errorf("failed to delete song: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// Orphan blob ledger

// RecordOrphanBlobs remembers blob keys that still need deleting.
func (r *Repository) RecordOrphanBlobs(ctx context.Context, keys []string, reason string) error {
	if len(keys) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]models.OrphanBlob, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, models.OrphanBlob{Key: key, LastError: truncate(reason, 1024), CreatedAt: now, UpdatedAt: now})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_error", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to record orphan blobs: %w", err)
	}
	return nil
}

// ListOrphanBlobs returns up to limit entries with fewer than maxAttempts tries.
func (r *Repository) ListOrphanBlobs(ctx context.Context, limit, maxAttempts int) ([]models.OrphanBlob, error) {
	var rows []models.OrphanBlob
	err := r.db.WithContext(ctx).
		Where("attempts < ?", maxAttempts).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan blobs: %w", err)
	}
	return rows, nil
}

func (r *Repository) DeleteOrphanBlob(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Delete(&models.OrphanBlob{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete orphan blob entry: %w", err)
	}
	return nil
}

// MarkOrphanAttempt records a failed retry.
func (r *Repository) MarkOrphanAttempt(ctx context.Context, id int64, reason string) error {
	err := r.db.WithContext(ctx).Model(&models.OrphanBlob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": truncate(reason, 1024),
		"updated_at": time.Now().UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update orphan blob entry: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
