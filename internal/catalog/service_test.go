package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicbox/internal/events"
	"musicbox/internal/media"
	"musicbox/internal/models"
	"musicbox/internal/services"
	"musicbox/internal/storage"
	"musicbox/internal/test"
)

// flakyStore wraps a MemoryStore and fails Put or Delete for chosen keys.
type flakyStore struct {
	*storage.MemoryStore
	failPut    func(key string) bool
	failDelete func(key string) bool
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.failPut != nil && f.failPut(key) {
		return "", errors.New("bucket unavailable")
	}
	return f.MemoryStore.Put(ctx, key, data, contentType)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete != nil && f.failDelete(key) {
		return errors.New("bucket unavailable")
	}
	return f.MemoryStore.Delete(ctx, key)
}

type stubCovers struct {
	cover *media.Cover
	err   error
	panic bool
}

func (s stubCovers) ExtractCover([]byte) (*media.Cover, error) {
	if s.panic {
		panic("corrupt frame")
	}
	return s.cover, s.err
}

type stubProber struct{ d time.Duration }

func (s stubProber) Probe(string, []byte) (time.Duration, error) { return s.d, nil }

type recordingReaper struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingReaper) Reap(_ context.Context, keys []string, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc   *Service
	repo  *services.Repository
	store *flakyStore
	reap  *recordingReaper
	pub   *recordingPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, tearDown := test.GetTestDB(t)
	t.Cleanup(tearDown)

	f := &fixture{
		repo:  services.NewRepository(db),
		store: &flakyStore{MemoryStore: storage.NewMemoryStore("http://media.test")},
		reap:  &recordingReaper{},
		pub:   &recordingPublisher{},
	}
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithCoverExtractor(stubCovers{}),
		WithDurationProber(stubProber{d: 3 * time.Second}),
		WithReaper(f.reap),
		WithPublisher(f.pub),
	}
	f.svc = New(f.repo, f.store, append(base, opts...)...)
	return f
}

func (f *fixture) upload(t *testing.T, fileName string) *SongView {
	t.Helper()
	song, err := f.svc.AddSong(context.Background(), Upload{
		FileName: fileName,
		Data:     []byte("audio bytes of " + fileName),
	})
	require.NoError(t, err)
	return song
}

func (f *fixture) snapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := f.svc.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func ids(views []SongView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.ID)
	}
	return out
}

func TestSnapshot_CreatesReservedPlaylist(t *testing.T) {
	f := newFixture(t)

	snap := f.snapshot(t)

	require.Contains(t, snap.Playlists, "default")
	assert.Empty(t, snap.Playlists["default"])
	assert.Equal(t, []string{"default"}, snap.Order)
}

func TestAddSong_AppearsInReservedPlaylist(t *testing.T) {
	f := newFixture(t)

	song := f.upload(t, "Blue in Green.mp3")

	assert.Equal(t, "Blue in Green", song.Name)
	assert.Equal(t, int64(3000), song.DurationMs)
	assert.True(t, strings.HasPrefix(song.URL, "http://media.test/"))

	snap := f.snapshot(t)
	require.Len(t, snap.Songs("default"), 1)
	assert.Equal(t, song.ID, snap.Songs("default")[0].ID)
	assert.Equal(t, song.URL, snap.Songs("default")[0].URL)

	keys := f.store.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasSuffix(keys[0], "-Blue_in_Green.mp3"))
	assert.Equal(t, []events.Type{events.SongAdded}, f.pub.types())
}

func TestAddSong_DisplayNameOverride(t *testing.T) {
	f := newFixture(t)

	song, err := f.svc.AddSong(context.Background(), Upload{
		FileName:    "track01.mp3",
		DisplayName: "  So What  ",
		Data:        []byte("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, "So What", song.Name)
}

func TestAddSong_KeysAreUniqueWithinOneMillisecond(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	f := newFixture(t, WithClock(func() time.Time { return at }))

	a := f.upload(t, "same.mp3")
	b := f.upload(t, "same.mp3")

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.URL, b.URL)
	assert.Len(t, f.store.Keys(), 2)
}

func TestAddSong_ValidationHappensBeforeAnyWrite(t *testing.T) {
	f := newFixture(t, WithUploadPolicy(media.UploadPolicy{MaxBytes: 8, AllowedFormats: []string{".mp3"}}))
	ctx := context.Background()

	tests := []struct {
		name string
		up   Upload
		want error
	}{
		{"too large", Upload{FileName: "big.mp3", Data: make([]byte, 9)}, ErrPayloadTooLarge},
		{"format", Upload{FileName: "doc.pdf", Data: []byte("x")}, ErrUnsupportedFormat},
		{"empty payload", Upload{FileName: "a.mp3"}, ErrEmptyUpload},
		{"no file name", Upload{FileName: "  ", Data: []byte("x")}, ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddSong(ctx, tt.up)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	assert.Empty(t, f.store.Keys())
	assert.Empty(t, f.snapshot(t).Songs("default"))
}

func TestAddSong_BlobFailureCreatesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.store.failPut = func(string) bool { return true }

	_, err := f.svc.AddSong(context.Background(), Upload{FileName: "a.mp3", Data: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))

	songs, err := f.repo.ListSongs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, songs)
}

func TestAddSong_RecordFailureDiscardsBlobs(t *testing.T) {
	f := newFixture(t,
		WithIDGenerator(func() (string, error) { return "0190a1b2-0000-7000-8000-00000000abcd", nil }),
		WithCoverExtractor(stubCovers{cover: &media.Cover{Data: []byte{1}, MIMEType: "image/png", Ext: "png"}}),
	)

	first := f.upload(t, "first.mp3")
	require.Len(t, f.store.Keys(), 2)

	// Same ID again: the record insert conflicts after the blobs are written.
	_, err := f.svc.AddSong(context.Background(), Upload{FileName: "second.mp3", Data: []byte("y")})
	require.Error(t, err)
	assert.Equal(t, KindStorage, KindOf(err))

	keys := f.store.Keys()
	assert.Len(t, keys, 2)
	for _, k := range keys {
		assert.NotContains(t, k, "second")
	}
	assert.Equal(t, []string{first.ID}, ids(f.snapshot(t).Songs("default")))
}

func TestAddSong_DiscardFailureGoesToReaper(t *testing.T) {
	f := newFixture(t, WithIDGenerator(func() (string, error) { return "0190a1b2-0000-7000-8000-00000000abcd", nil }))
	f.upload(t, "first.mp3")
	f.store.failDelete = func(string) bool { return true }

	_, err := f.svc.AddSong(context.Background(), Upload{FileName: "second.mp3", Data: []byte("y")})
	require.Error(t, err)

	require.Len(t, f.reap.keys, 1)
	assert.Contains(t, f.reap.keys[0], "second.mp3")
}

func TestAddSong_Cover(t *testing.T) {
	t.Run("stored", func(t *testing.T) {
		f := newFixture(t, WithCoverExtractor(stubCovers{cover: &media.Cover{Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg", Ext: "jpg"}}))
		song := f.upload(t, "art.mp3")

		require.NotEmpty(t, song.CoverURL)
		assert.Contains(t, song.CoverURL, "/covers/")
		assert.True(t, strings.HasSuffix(song.CoverURL, "-art.jpg"))
		assert.Equal(t, song.CoverURL, f.snapshot(t).Songs("default")[0].CoverURL)
	})

	t.Run("extraction error is not fatal", func(t *testing.T) {
		f := newFixture(t, WithCoverExtractor(stubCovers{err: errors.New("bad tag")}))
		song := f.upload(t, "art.mp3")
		assert.Empty(t, song.CoverURL)
	})

	t.Run("extractor panic is not fatal", func(t *testing.T) {
		f := newFixture(t, WithCoverExtractor(stubCovers{panic: true}))
		song := f.upload(t, "art.mp3")
		assert.Empty(t, song.CoverURL)
	})

	t.Run("cover put failure is not fatal", func(t *testing.T) {
		f := newFixture(t, WithCoverExtractor(stubCovers{cover: &media.Cover{Data: []byte{1}, MIMEType: "image/png", Ext: "png"}}))
		f.store.failPut = func(key string) bool { return strings.HasPrefix(key, "covers/") }
		song := f.upload(t, "art.mp3")
		assert.Empty(t, song.CoverURL)
		assert.Len(t, f.store.Keys(), 1)
	})
}

func TestDeleteSong_PurgeRemovesEverywhere(t *testing.T) {
	f := newFixture(t, WithCoverExtractor(stubCovers{cover: &media.Cover{Data: []byte{1}, MIMEType: "image/png", Ext: "png"}}))
	ctx := context.Background()

	a := f.upload(t, "a.mp3")
	b := f.upload(t, "b.mp3")
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Gym", []string{a.ID, b.ID}))
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Chill", []string{a.ID}))

	outcome, err := f.svc.DeleteSong(ctx, a.ID, "default")
	require.NoError(t, err)
	assert.Equal(t, OutcomePurged, outcome)

	snap := f.snapshot(t)
	for name, songs := range snap.Playlists {
		assert.NotContains(t, ids(songs), a.ID, name)
	}
	assert.Equal(t, []string{b.ID}, ids(snap.Songs("Gym")))
	assert.Empty(t, snap.Songs("Chill"))

	for _, key := range f.store.Keys() {
		assert.NotContains(t, key, "-a.")
	}
	_, err = f.store.Open(ctx, strings.TrimPrefix(a.URL, "http://media.test/"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSong_PurgeUnknownSong(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.DeleteSong(context.Background(), "missing", "default")
	assert.ErrorIs(t, err, ErrSongNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Empty(t, outcome)
}

func TestDeleteSong_PurgeBlobFailureIsHandedToReaper(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "a.mp3")
	f.store.failDelete = func(string) bool { return true }

	outcome, err := f.svc.DeleteSong(context.Background(), a.ID, "default")
	require.NoError(t, err)
	assert.Equal(t, OutcomePurged, outcome)

	assert.Empty(t, f.snapshot(t).Songs("default"))
	require.Len(t, f.reap.keys, 1)
	assert.True(t, strings.HasSuffix(f.reap.keys[0], "-a.mp3"))
}

func TestDeleteSong_UnlinkKeepsSong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Gym", []string{a.ID}))

	outcome, err := f.svc.DeleteSong(ctx, a.ID, "Gym")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlinked, outcome)

	snap := f.snapshot(t)
	assert.Empty(t, snap.Songs("Gym"))
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("default")))
	assert.Len(t, f.store.Keys(), 1)

	// Already absent is a no-op success.
	outcome, err = f.svc.DeleteSong(ctx, a.ID, "Gym")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlinked, outcome)
}

func TestDeleteSong_UnknownPlaylist(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "a.mp3")

	_, err := f.svc.DeleteSong(context.Background(), a.ID, "nope")
	assert.ErrorIs(t, err, ErrPlaylistNotFound)

	_, err = f.svc.DeleteSong(context.Background(), a.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestAddSongsToPlaylist_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")
	b := f.upload(t, "b.mp3")

	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "p", []string{a.ID}))
	once := ids(f.snapshot(t).Songs("p"))
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "p", []string{a.ID}))
	assert.Equal(t, once, ids(f.snapshot(t).Songs("p")))

	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "p", []string{b.ID, a.ID, b.ID}))
	assert.Equal(t, []string{a.ID, b.ID}, ids(f.snapshot(t).Songs("p")))
}

func TestAddSongsToPlaylist_UnknownIDHasNoEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")

	err := f.svc.AddSongsToPlaylist(ctx, "p", []string{a.ID, "ghost"})
	assert.ErrorIs(t, err, ErrSongNotFound)
	assert.Contains(t, err.Error(), "ghost")

	_, exists := f.snapshot(t).Playlists["p"]
	assert.False(t, exists)
}

func TestReservedPlaylistCannotBeTouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.CreatePlaylist(ctx, "Gym"))

	assert.ErrorIs(t, f.svc.CreatePlaylist(ctx, "default"), ErrReservedName)
	assert.ErrorIs(t, f.svc.DeletePlaylist(ctx, "default"), ErrReservedName)
	for _, target := range []string{"x", "Gym", "default", ""} {
		assert.ErrorIs(t, f.svc.RenamePlaylist(ctx, "default", target), ErrReservedName, target)
	}
	assert.ErrorIs(t, f.svc.RenamePlaylist(ctx, "Gym", "default"), ErrReservedName)

	assert.Contains(t, f.snapshot(t).Playlists, "default")
}

func TestCreatePlaylist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.CreatePlaylist(ctx, "Gym"))
	assert.ErrorIs(t, f.svc.CreatePlaylist(ctx, "Gym"), ErrDuplicateName)
	assert.Equal(t, KindValidation, KindOf(f.svc.CreatePlaylist(ctx, "Gym")))
	require.NoError(t, f.svc.CreatePlaylist(ctx, "gym"))
	assert.ErrorIs(t, f.svc.CreatePlaylist(ctx, "   "), ErrInvalidName)

	snap := f.snapshot(t)
	assert.Equal(t, []string{"default", "Gym", "gym"}, snap.Order)
	assert.NotNil(t, snap.Playlists["Gym"])
}

func TestRenamePlaylist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Gym", []string{a.ID}))
	require.NoError(t, f.svc.CreatePlaylist(ctx, "Chill"))

	assert.ErrorIs(t, f.svc.RenamePlaylist(ctx, "Gym", "Chill"), ErrDuplicateName)
	assert.ErrorIs(t, f.svc.RenamePlaylist(ctx, "Nope", "Other"), ErrPlaylistNotFound)
	assert.ErrorIs(t, f.svc.RenamePlaylist(ctx, "Gym", "Gym"), ErrDuplicateName)

	require.NoError(t, f.svc.RenamePlaylist(ctx, "Gym", "Workout"))
	snap := f.snapshot(t)
	assert.NotContains(t, snap.Playlists, "Gym")
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("Workout")))
}

func TestDeletePlaylist_KeepsSongs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")

	require.NoError(t, f.svc.CreatePlaylist(ctx, "Gym"))
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Gym", []string{a.ID}))
	require.NoError(t, f.svc.DeletePlaylist(ctx, "Gym"))

	snap := f.snapshot(t)
	assert.NotContains(t, snap.Playlists, "Gym")
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("default")))
	assert.NotEmpty(t, snap.Songs("default")[0].URL)

	assert.ErrorIs(t, f.svc.DeletePlaylist(ctx, "Gym"), ErrPlaylistNotFound)
}

func TestRenameSong_VisibleInEveryPlaylist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Gym", []string{a.ID}))
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Chill", []string{a.ID}))

	require.NoError(t, f.svc.RenameSong(ctx, a.ID, "X"))

	for name, songs := range f.snapshot(t).Playlists {
		require.Len(t, songs, 1, name)
		assert.Equal(t, "X", songs[0].Name, name)
	}
}

func TestRenameSong_Errors(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "a.mp3")

	assert.ErrorIs(t, f.svc.RenameSong(context.Background(), "missing", "X"), ErrSongNotFound)
	assert.ErrorIs(t, f.svc.RenameSong(context.Background(), a.ID, " \t"), ErrInvalidName)
}

func TestMoveSong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")

	// Out of the reserved playlist the song is copied.
	require.NoError(t, f.svc.MoveSong(ctx, a.ID, "default", "Gym"))
	snap := f.snapshot(t)
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("default")))
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("Gym")))

	require.NoError(t, f.svc.MoveSong(ctx, a.ID, "Gym", "Chill"))
	snap = f.snapshot(t)
	assert.Empty(t, snap.Songs("Gym"))
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("Chill")))
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("default")))

	assert.ErrorIs(t, f.svc.MoveSong(ctx, "ghost", "Chill", "Gym"), ErrSongNotFound)
	assert.ErrorIs(t, f.svc.MoveSong(ctx, a.ID, "Nope", "Gym"), ErrPlaylistNotFound)
}

func TestSnapshot_DropsDanglingReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.mp3")
	gym, err := f.repo.EnsurePlaylist(ctx, "Gym")
	require.NoError(t, err)

	require.NoError(t, f.repo.DB().Create(&models.PlaylistSong{PlaylistID: gym.ID, SongID: "ghost", CreatedAt: time.Now()}).Error)
	_, err = f.repo.AddMemberships(ctx, gym.ID, []string{a.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{a.ID}, ids(f.snapshot(t).Songs("Gym")))
}

func TestScenario_GymPlaylistLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.upload(t, "A.mp3")
	require.NoError(t, f.svc.CreatePlaylist(ctx, "Gym"))
	require.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Gym", []string{a.ID}))
	require.NoError(t, f.svc.DeletePlaylist(ctx, "Gym"))

	assert.Equal(t, []string{a.ID}, ids(f.snapshot(t).Songs("default")))
	assert.Equal(t, []events.Type{
		events.SongAdded,
		events.PlaylistCreated,
		events.PlaylistSongsAdded,
		events.PlaylistDeleted,
	}, f.pub.types())
}

func TestCustomReservedPlaylist(t *testing.T) {
	f := newFixture(t, WithReservedPlaylist("All Songs"))
	a := f.upload(t, "a.mp3")

	snap := f.snapshot(t)
	assert.Equal(t, []string{a.ID}, ids(snap.Songs("All Songs")))
	assert.NotContains(t, snap.Playlists, "default")
	assert.ErrorIs(t, f.svc.DeletePlaylist(context.Background(), "All Songs"), ErrReservedName)
}

func TestConcurrentAddsToOnePlaylist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var songIDs []string
	for i := 0; i < 6; i++ {
		songIDs = append(songIDs, f.upload(t, fmt.Sprintf("s%d.mp3", i)).ID)
	}

	var wg sync.WaitGroup
	for _, id := range songIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.svc.AddSongsToPlaylist(ctx, "Party", []string{id}))
		}(id)
	}
	wg.Wait()

	assert.ElementsMatch(t, songIDs, ids(f.snapshot(t).Songs("Party")))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("wrap: %w", ErrDuplicateName)))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrap: %w", ErrPlaylistNotFound)))
	assert.Equal(t, KindStorage, KindOf(storageErr("put", errors.New("boom"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("other")))

	var se *StorageError
	require.ErrorAs(t, storageErr("put", errors.New("boom")), &se)
	assert.Equal(t, "put", se.Op)
}

func TestRecordStoreFailuresAreStorageErrors(t *testing.T) {
	db, mock := test.GetMockDB(t)
	mock.MatchExpectationsInOrder(false)
	down := errors.New("connection reset by peer")
	for i := 0; i < 4; i++ {
		mock.ExpectQuery(".*").WillReturnError(down)
		mock.ExpectExec(".*").WillReturnError(down)
	}

	svc := New(services.NewRepository(db), storage.NewMemoryStore("http://media.test"), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	_, err := svc.Snapshot(ctx)
	assert.Equal(t, KindStorage, KindOf(err))

	err = svc.CreatePlaylist(ctx, "Gym")
	assert.Equal(t, KindStorage, KindOf(err))
	assert.ErrorIs(t, err, down)

	err = svc.RenameSong(ctx, "song-1", "New name")
	assert.Equal(t, KindStorage, KindOf(err))

	// Validation still runs first and never reaches the store.
	assert.ErrorIs(t, svc.CreatePlaylist(ctx, "  "), ErrInvalidName)
}
