package models

import (
	"time"
)

// Song represents the songs table. Songs exist independently of playlists.
type Song struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:512;not null" json:"name"`
	BlobKey     string    `gorm:"size:1024;not null;uniqueIndex" json:"blob_key"`
	CoverKey    string    `gorm:"size:1024" json:"cover_key,omitempty"`
	ContentType string    `gorm:"size:128" json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	DurationMs  int64     `json:"duration_ms"`
	UploadedAt  time.Time `gorm:"index;not null" json:"uploaded_at"`
}

func (Song) TableName() string {
	return "songs"
}

// Playlist represents the playlists table
type Playlist struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Playlist) TableName() string {
	return "playlists"
}

// PlaylistSong represents the playlist_songs junction table. Row ID order is
// membership order.
type PlaylistSong struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlaylistID int64     `gorm:"not null;uniqueIndex:idx_playlist_songs_member,priority:1" json:"playlist_id"`
	SongID     string    `gorm:"size:36;not null;uniqueIndex:idx_playlist_songs_member,priority:2;index" json:"song_id"`
	CreatedAt  time.Time `json:"created_at"`

	// Constraints: UNIQUE(playlist_id, song_id)
}

func (PlaylistSong) TableName() string {
	return "playlist_songs"
}

// OrphanBlob records a blob whose delete failed after its song was purged.
type OrphanBlob struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"size:1024;not null;uniqueIndex" json:"key"`
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	LastError string    `gorm:"size:1024" json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OrphanBlob) TableName() string {
	return "orphan_blobs"
}
