package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"musicbox/internal/models"
	"musicbox/internal/test"
)

func newSong(id, name string) *models.Song {
	return &models.Song{
		ID:         id,
		Name:       name,
		BlobKey:    "blob-" + id,
		UploadedAt: time.Now().UTC(),
	}
}

func memberIDs(t *testing.T, repo *Repository, playlistID int64) []string {
	t.Helper()
	rows, err := repo.ListMemberships(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, row := range rows {
		if row.PlaylistID == playlistID {
			ids = append(ids, row.SongID)
		}
	}
	return ids
}

func TestRepository_EnsurePlaylistIsIdempotent(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	first, err := repo.EnsurePlaylist(ctx, "default")
	require.NoError(t, err)
	second, err := repo.EnsurePlaylist(ctx, "default")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	playlists, err := repo.ListPlaylists(ctx)
	require.NoError(t, err)
	assert.Len(t, playlists, 1)
}

func TestRepository_CreatePlaylistDuplicate(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	_, err := repo.CreatePlaylist(ctx, "Gym")
	require.NoError(t, err)

	_, err = repo.CreatePlaylist(ctx, "Gym")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

	// names are case-sensitive
	_, err = repo.CreatePlaylist(ctx, "gym")
	assert.NoError(t, err)
}

func TestRepository_CreateSongAppendsToPlaylist(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	reserved, err := repo.EnsurePlaylist(ctx, "default")
	require.NoError(t, err)

	require.NoError(t, repo.CreateSong(ctx, newSong("a", "A"), reserved.ID))
	require.NoError(t, repo.CreateSong(ctx, newSong("b", "B"), reserved.ID))

	assert.Equal(t, []string{"a", "b"}, memberIDs(t, repo, reserved.ID))
}

func TestRepository_AddMembershipsSkipsDuplicates(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	reserved, _ := repo.EnsurePlaylist(ctx, "default")
	gym, _ := repo.EnsurePlaylist(ctx, "Gym")
	require.NoError(t, repo.CreateSong(ctx, newSong("a", "A"), reserved.ID))
	require.NoError(t, repo.CreateSong(ctx, newSong("b", "B"), reserved.ID))

	added, err := repo.AddMemberships(ctx, gym.ID, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	added, err = repo.AddMemberships(ctx, gym.ID, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	assert.Equal(t, []string{"a", "b"}, memberIDs(t, repo, gym.ID))
}

func TestRepository_ConcurrentAddsDoNotLoseUpdates(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	reserved, _ := repo.EnsurePlaylist(ctx, "default")
	gym, _ := repo.EnsurePlaylist(ctx, "Gym")
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		require.NoError(t, repo.CreateSong(ctx, newSong(id, id), reserved.ID))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := repo.AddMemberships(ctx, gym.ID, []string{id})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.ElementsMatch(t, ids, memberIDs(t, repo, gym.ID))
}

func TestRepository_PurgeSongRemovesEveryReference(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	reserved, _ := repo.EnsurePlaylist(ctx, "default")
	gym, _ := repo.EnsurePlaylist(ctx, "Gym")
	require.NoError(t, repo.CreateSong(ctx, newSong("a", "A"), reserved.ID))
	_, err := repo.AddMemberships(ctx, gym.ID, []string{"a"})
	require.NoError(t, err)

	song, err := repo.PurgeSong(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "blob-a", song.BlobKey)

	assert.Empty(t, memberIDs(t, repo, reserved.ID))
	assert.Empty(t, memberIDs(t, repo, gym.ID))

	_, err = repo.GetSong(ctx, "a")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	_, err = repo.PurgeSong(ctx, "a")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepository_RemoveMembershipIsTolerant(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	gym, _ := repo.EnsurePlaylist(ctx, "Gym")
	removed, err := repo.RemoveMembership(ctx, gym.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestRepository_RenameSongUnknown(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)

	err := repo.RenameSong(context.Background(), "nope", "X")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepository_MoveMembership(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	reserved, _ := repo.EnsurePlaylist(ctx, "default")
	gym, _ := repo.EnsurePlaylist(ctx, "Gym")
	chill, _ := repo.EnsurePlaylist(ctx, "Chill")
	require.NoError(t, repo.CreateSong(ctx, newSong("a", "A"), reserved.ID))
	_, err := repo.AddMemberships(ctx, gym.ID, []string{"a"})
	require.NoError(t, err)

	require.NoError(t, repo.MoveMembership(ctx, "a", gym.ID, chill.ID, false))
	assert.Empty(t, memberIDs(t, repo, gym.ID))
	assert.Equal(t, []string{"a"}, memberIDs(t, repo, chill.ID))

	require.NoError(t, repo.MoveMembership(ctx, "a", reserved.ID, gym.ID, true))
	assert.Equal(t, []string{"a"}, memberIDs(t, repo, reserved.ID))
	assert.Equal(t, []string{"a"}, memberIDs(t, repo, gym.ID))
}

func TestRepository_DeletePlaylistKeepsSongs(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	reserved, _ := repo.EnsurePlaylist(ctx, "default")
	gym, _ := repo.EnsurePlaylist(ctx, "Gym")
	require.NoError(t, repo.CreateSong(ctx, newSong("a", "A"), reserved.ID))
	_, err := repo.AddMemberships(ctx, gym.ID, []string{"a"})
	require.NoError(t, err)

	require.NoError(t, repo.DeletePlaylist(ctx, gym.ID))

	_, err = repo.GetPlaylistByName(ctx, "Gym")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Equal(t, []string{"a"}, memberIDs(t, repo, reserved.ID))

	_, err = repo.GetSong(ctx, "a")
	assert.NoError(t, err)
}

func TestRepository_PruneDanglingMemberships(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	reserved, _ := repo.EnsurePlaylist(ctx, "default")
	require.NoError(t, repo.CreateSong(ctx, newSong("a", "A"), reserved.ID))
	require.NoError(t, db.Create(&models.PlaylistSong{PlaylistID: reserved.ID, SongID: "ghost"}).Error)

	pruned, err := repo.PruneDanglingMemberships(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
	assert.Equal(t, []string{"a"}, memberIDs(t, repo, reserved.ID))
}

func TestRepository_OrphanBlobLedger(t *testing.T) {
	db, tearDown := test.GetTestDB(t)
	defer tearDown()
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.RecordOrphanBlobs(ctx, []string{"k1", "k2"}, "timeout"))
	require.NoError(t, repo.RecordOrphanBlobs(ctx, []string{"k1"}, "still down"))

	rows, err := repo.ListOrphanBlobs(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "still down", rows[0].LastError)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkOrphanAttempt(ctx, rows[0].ID, "again"))
	}
	require.NoError(t, repo.DeleteOrphanBlob(ctx, rows[1].ID))

	rows, err = repo.ListOrphanBlobs(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
