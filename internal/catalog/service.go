// Package catalog owns the canonical song records and the named playlists
// that reference them.
//
// Songs live independently of playlists. Every upload lands in the reserved
// playlist, which always exists and can be neither renamed nor deleted.
// Deleting a song from the reserved playlist purges it everywhere; deleting
// it from any other playlist only unlinks it there.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"musicbox/internal/config"
	"musicbox/internal/events"
	"musicbox/internal/logging"
	"musicbox/internal/media"
	"musicbox/internal/metrics"
	"musicbox/internal/models"
	"musicbox/internal/services"
	"musicbox/internal/storage"
)

const instrumentationName = "musicbox/catalog"

// DeleteOutcome tells whether DeleteSong purged or unlinked the song.
type DeleteOutcome string

const (
	OutcomePurged   DeleteOutcome = "purged"
	OutcomeUnlinked DeleteOutcome = "unlinked"
)

// SongView is a song as clients see it. URLs are derived from blob keys.
type SongView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	CoverURL   string    `json:"coverUrl,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Snapshot maps every playlist to its resolved songs. Order lists playlist
// names for display: the reserved playlist first, then by creation time.
type Snapshot struct {
	Playlists map[string][]SongView `json:"playlists"`
	Order     []string              `json:"order"`
}

// Songs returns the songs of the named playlist, or nil.
func (s *Snapshot) Songs(name string) []SongView {
	return s.Playlists[name]
}

// Upload is one audio file handed to AddSong.
type Upload struct {
	FileName    string
	DisplayName string
	ContentType string
	Data        []byte
}

// BlobReaper takes over blob deletes that failed so they can be retried.
type BlobReaper interface {
	Reap(ctx context.Context, keys []string, cause error) error
}

// Service implements the catalog operations on top of a record repository
// and a blob store.
type Service struct {
	repo     *services.Repository
	blobs    storage.BlobStore
	reserved string
	policy   media.UploadPolicy
	covers   media.CoverExtractor
	prober   media.DurationProber
	reaper   BlobReaper
	events   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() (string, error)
	tracer   trace.Tracer
	ops      metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

func WithReservedPlaylist(name string) Option {
	return func(s *Service) { s.reserved = name }
}

func WithUploadPolicy(p media.UploadPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithCoverExtractor(c media.CoverExtractor) Option {
	return func(s *Service) { s.covers = c }
}

func WithDurationProber(p media.DurationProber) Option {
	return func(s *Service) { s.prober = p }
}

func WithReaper(r BlobReaper) Option {
	return func(s *Service) { s.reaper = r }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newID = gen }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.ops = newOpsCounter(m) }
}

// New creates a catalog service.
func New(repo *services.Repository, blobs storage.BlobStore, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		blobs:    blobs,
		reserved: config.DefaultReservedPlaylist,
		policy:   media.DefaultUploadPolicy(),
		covers:   media.TagCoverExtractor{},
		prober:   media.AudioProber{},
		events:   events.NopPublisher{},
		logger:   logging.WithModule("catalog"),
		now:      time.Now,
		newID:    newSongID,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ops == nil {
		s.ops = newOpsCounter(otel.Meter(instrumentationName))
	}
	return s
}

// ReservedPlaylist returns the name of the playlist every upload joins.
func (s *Service) ReservedPlaylist() string {
	return s.reserved
}

func newSongID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func newOpsCounter(m metric.Meter) metric.Int64Counter {
	c, err := m.Int64Counter(metrics.CatalogOpsInstrument,
		metric.WithDescription("Catalog operations by result"))
	if err != nil {
		c, _ = noop.Meter{}.Int64Counter(metrics.CatalogOpsInstrument)
	}
	return c
}

// begin opens a span for op. The returned func records the result and ends it.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "catalog."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		result := "ok"
		if err != nil {
			result = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.ops.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("result", result),
		))
		span.End()
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ev.At = s.now().UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to publish catalog event")
	}
}

func (s *Service) view(song models.Song) SongView {
	v := SongView{
		ID:         song.ID,
		Name:       song.Name,
		URL:        s.blobs.URL(song.BlobKey),
		DurationMs: song.DurationMs,
		UploadedAt: song.UploadedAt,
	}
	if song.CoverKey != "" {
		v.CoverURL = s.blobs.URL(song.CoverKey)
	}
	return v
}

// Snapshot resolves every playlist against the song table. The reserved
// playlist is created if missing. IDs that no longer resolve are dropped.
func (s *Service) Snapshot(ctx context.Context) (snap *Snapshot, err error) {
	ctx, end := s.begin(ctx, "Snapshot")
	defer func() { end(err) }()

	if _, err := s.repo.EnsurePlaylist(ctx, s.reserved); err != nil {
		return nil, storageErr("ensure reserved playlist", err)
	}
	playlists, err := s.repo.ListPlaylists(ctx)
	if err != nil {
		return nil, storageErr("list playlists", err)
	}
	songs, err := s.repo.ListSongs(ctx)
	if err != nil {
		return nil, storageErr("list songs", err)
	}
	members, err := s.repo.ListMemberships(ctx)
	if err != nil {
		return nil, storageErr("list playlist members", err)
	}

	byID := lo.KeyBy(songs, func(song models.Song) string { return song.ID })
	byPlaylist := lo.GroupBy(members, func(m models.PlaylistSong) int64 { return m.PlaylistID })

	snap = &Snapshot{
		Playlists: make(map[string][]SongView, len(playlists)),
		Order:     make([]string, 0, len(playlists)),
	}
	snap.Order = append(snap.Order, s.reserved)

	dropped := 0
	for _, p := range playlists {
		views := make([]SongView, 0, len(byPlaylist[p.ID]))
		for _, m := range byPlaylist[p.ID] {
			song, ok := byID[m.SongID]
			if !ok {
				dropped++
				continue
			}
			views = append(views, s.view(song))
		}
		snap.Playlists[p.Name] = views
		if p.Name != s.reserved {
			snap.Order = append(snap.Order, p.Name)
		}
	}
	if _, ok := snap.Playlists[s.reserved]; !ok {
		snap.Playlists[s.reserved] = []SongView{}
	}
	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("Snapshot skipped unresolved song references")
	}

	return snap, nil
}

// AddSong stores the audio blob, then the record, and appends the song to
// the reserved playlist. Validation happens before any write.
func (s *Service) AddSong(ctx context.Context, up Upload) (view *SongView, err error) {
	ctx, end := s.begin(ctx, "AddSong",
		attribute.String("file_name", up.FileName),
		attribute.Int("size_bytes", len(up.Data)),
	)
	defer func() { end(err) }()

	name := strings.TrimSpace(up.DisplayName)
	if name == "" {
		name = media.DisplayName(up.FileName)
	}
	if strings.TrimSpace(up.FileName) == "" || name == "" {
		return nil, ErrInvalidName
	}
	if len(up.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if !s.policy.Fits(int64(len(up.Data))) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(up.Data), s.policy.MaxBytes)
	}
	if !s.policy.Allows(up.FileName) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, media.Ext(up.FileName))
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate song id: %w", err)
	}
	uploadedAt := s.now().UTC()
	key := media.BlobKey(uploadedAt, keySuffix(id), up.FileName)
	contentType := media.ContentType(up.FileName, up.ContentType)

	if _, err := s.blobs.Put(ctx, key, up.Data, contentType); err != nil {
		s.logger.Error().Err(err).Str("blob_key", key).Msg("Failed to store audio blob")
		return nil, storageErr("put audio blob", err)
	}
	written := []string{key}

	song := &models.Song{
		ID:          id,
		Name:        name,
		BlobKey:     key,
		ContentType: contentType,
		SizeBytes:   int64(len(up.Data)),
		UploadedAt:  uploadedAt,
	}
	if coverKey := s.storeCover(ctx, key, up.Data); coverKey != "" {
		song.CoverKey = coverKey
		written = append(written, coverKey)
	}
	if s.prober != nil {
		if d, err := s.prober.Probe(up.FileName, up.Data); err != nil {
			s.logger.Warn().Err(err).Str("blob_key", key).Msg("Could not determine duration")
		} else {
			song.DurationMs = d.Milliseconds()
		}
	}

	reserved, err := s.repo.EnsurePlaylist(ctx, s.reserved)
	if err == nil {
		err = s.repo.CreateSong(ctx, song, reserved.ID)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("song_id", id).Msg("Failed to create song record, discarding blobs")
		s.discardBlobs(context.WithoutCancel(ctx), written, err)
		return nil, storageErr("create song record", err)
	}

	s.logger.Info().Str("song_id", id).Str("blob_key", key).Bool("cover", song.CoverKey != "").Msg("Song added")
	s.publish(ctx, events.Event{Type: events.SongAdded, SongID: id, Playlist: s.reserved})

	v := s.view(*song)
	return &v, nil
}

// keySuffix takes the random tail of a UUIDv7 so keys stay unique within
// the same millisecond.
func keySuffix(id string) string {
	hex := strings.ReplaceAll(id, "-", "")
	if len(hex) <= 8 {
		return hex
	}
	return hex[len(hex)-8:]
}

// storeCover extracts and stores embedded art. Any failure leaves the song
// without a cover.
func (s *Service) storeCover(ctx context.Context, blobKey string, data []byte) (key string) {
	if s.covers == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().Interface("panic", r).Str("blob_key", blobKey).Msg("Cover extraction panicked")
			key = ""
		}
	}()

	cover, err := s.covers.ExtractCover(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("blob_key", blobKey).Msg("Cover extraction failed")
		return ""
	}
	if cover == nil || len(cover.Data) == 0 {
		return ""
	}

	key = media.CoverKey(blobKey, cover.Ext)
	if _, err := s.blobs.Put(ctx, key, cover.Data, cover.MIMEType); err != nil {
		s.logger.Warn().Err(err).Str("cover_key", key).Msg("Failed to store cover")
		return ""
	}
	return key
}

// discardBlobs deletes blobs written for an upload whose record failed.
func (s *Service) discardBlobs(ctx context.Context, keys []string, cause error) {
	var failed []string
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("blob_key", key).Msg("Failed to delete blob")
			failed = append(failed, key)
		}
	}
	s.reap(ctx, failed, cause)
}

func (s *Service) reap(ctx context.Context, keys []string, cause error) {
	if len(keys) == 0 {
		return
	}
	if s.reaper == nil {
		s.logger.Error().Strs("blob_keys", keys).Msg("Blobs left behind with no reaper configured")
		return
	}
	if err := s.reaper.Reap(ctx, keys, cause); err != nil {
		s.logger.Error().Err(err).Strs("blob_keys", keys).Msg("Failed to hand blobs to reaper")
	}
}

// RenameSong changes a song's display name. The name lives on the song, so
// every playlist sees it.
func (s *Service) RenameSong(ctx context.Context, songID, newName string) (err error) {
	ctx, end := s.begin(ctx, "RenameSong", attribute.String("song_id", songID))
	defer func() { end(err) }()

	name := strings.TrimSpace(newName)
	if name == "" {
		return ErrInvalidName
	}

	if err := s.repo.RenameSong(ctx, songID, name); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrSongNotFound, songID)
		}
		return storageErr("rename song", err)
	}

	s.publish(ctx, events.Event{Type: events.SongRenamed, SongID: songID})
	return nil
}

// DeleteSong purges the song when playlistName is the reserved playlist and
// unlinks it from playlistName otherwise.
func (s *Service) DeleteSong(ctx context.Context, songID, playlistName string) (outcome DeleteOutcome, err error) {
	ctx, end := s.begin(ctx, "DeleteSong",
		attribute.String("song_id", songID),
		attribute.String("playlist", playlistName),
	)
	defer func() { end(err) }()

	playlistName = strings.TrimSpace(playlistName)
	if playlistName == "" {
		return "", ErrInvalidName
	}
	if playlistName == s.reserved {
		if err := s.purge(ctx, songID); err != nil {
			return "", err
		}
		return OutcomePurged, nil
	}

	playlist, err := s.repo.GetPlaylistByName(ctx, playlistName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistName)
		}
		return "", storageErr("find playlist", err)
	}
	removed, err := s.repo.RemoveMembership(ctx, playlist.ID, songID)
	if err != nil {
		return "", storageErr("unlink song", err)
	}

	s.logger.Info().Str("song_id", songID).Str("playlist", playlistName).Int64("removed", removed).Msg("Song unlinked")
	s.publish(ctx, events.Event{Type: events.SongUnlinked, SongID: songID, Playlist: playlistName})
	return OutcomeUnlinked, nil
}

func (s *Service) purge(ctx context.Context, songID string) error {
	song, err := s.repo.PurgeSong(ctx, songID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrSongNotFound, songID)
		}
		return storageErr("purge song", err)
	}

	// The record is gone. Blob failures from here on are left to the reaper.
	var (
		failed  []string
		lastErr error
	)
	cleanupCtx := context.WithoutCancel(ctx)
	for _, key := range lo.Compact([]string{song.BlobKey, song.CoverKey}) {
		if err := s.blobs.Delete(cleanupCtx, key); err != nil {
			s.logger.Warn().Err(err).Str("blob_key", key).Msg("Failed to delete blob of purged song")
			failed = append(failed, key)
			lastErr = err
		}
	}
	s.reap(cleanupCtx, failed, lastErr)

	s.logger.Info().Str("song_id", songID).Msg("Song purged")
	s.publish(ctx, events.Event{Type: events.SongPurged, SongID: songID, Playlist: s.reserved})
	return nil
}

// AddSongsToPlaylist adds each song at most once, creating the playlist if
// needed. Unknown IDs reject the whole call.
func (s *Service) AddSongsToPlaylist(ctx context.Context, playlistName string, songIDs []string) (err error) {
	ctx, end := s.begin(ctx, "AddSongsToPlaylist",
		attribute.String("playlist", playlistName),
		attribute.Int("songs", len(songIDs)),
	)
	defer func() { end(err) }()

	playlistName = strings.TrimSpace(playlistName)
	if playlistName == "" {
		return ErrInvalidName
	}

	ids := lo.Uniq(lo.Compact(songIDs))
	found, err := s.repo.ExistingSongIDs(ctx, ids)
	if err != nil {
		return storageErr("resolve songs", err)
	}
	if missing := lo.Without(ids, found...); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrSongNotFound, strings.Join(missing, ", "))
	}

	playlist, err := s.repo.EnsurePlaylist(ctx, playlistName)
	if err != nil {
		return storageErr("ensure playlist", err)
	}
	added, err := s.repo.AddMemberships(ctx, playlist.ID, ids)
	if err != nil {
		return storageErr("add songs", err)
	}

	s.logger.Info().Str("playlist", playlistName).Int64("added", added).Int("requested", len(ids)).Msg("Songs added to playlist")
	s.publish(ctx, events.Event{Type: events.PlaylistSongsAdded, Playlist: playlistName, Count: int(added)})
	return nil
}

// checkPlaylistName trims name and rejects empty or reserved names.
func (s *Service) checkPlaylistName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if name == s.reserved {
		return "", fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	return name, nil
}

func (s *Service) playlistExists(ctx context.Context, name string) (bool, error) {
	_, err := s.repo.GetPlaylistByName(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("find playlist", err)
	}
	return true, nil
}

// CreatePlaylist creates an empty playlist. Names are case-sensitive.
func (s *Service) CreatePlaylist(ctx context.Context, name string) (err error) {
	ctx, end := s.begin(ctx, "CreatePlaylist", attribute.String("playlist", name))
	defer func() { end(err) }()

	name, err = s.checkPlaylistName(name)
	if err != nil {
		return err
	}
	exists, err := s.playlistExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	if _, err := s.repo.CreatePlaylist(ctx, name); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		return storageErr("create playlist", err)
	}

	s.publish(ctx, events.Event{Type: events.PlaylistCreated, Playlist: name})
	return nil
}

// RenamePlaylist renames a non-reserved playlist. Membership is kept.
func (s *Service) RenamePlaylist(ctx context.Context, oldName, newName string) (err error) {
	ctx, end := s.begin(ctx, "RenamePlaylist",
		attribute.String("playlist", oldName),
		attribute.String("new_name", newName),
	)
	defer func() { end(err) }()

	oldName, err = s.checkPlaylistName(oldName)
	if err != nil {
		return err
	}
	newName, err = s.checkPlaylistName(newName)
	if err != nil {
		return err
	}

	playlist, err := s.repo.GetPlaylistByName(ctx, oldName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrPlaylistNotFound, oldName)
		}
		return storageErr("find playlist", err)
	}
	// oldName itself counts as taken.
	exists, err := s.playlistExists(ctx, newName)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, newName)
	}

	if err := s.repo.RenamePlaylist(ctx, playlist.ID, newName); err != nil {
		switch {
		case errors.Is(err, gorm.ErrDuplicatedKey):
			return fmt.Errorf("%w: %s", ErrDuplicateName, newName)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("%w: %s", ErrPlaylistNotFound, oldName)
		}
		return storageErr("rename playlist", err)
	}

	s.publish(ctx, events.Event{Type: events.PlaylistRenamed, Playlist: oldName, Target: newName})
	return nil
}

// DeletePlaylist removes a non-reserved playlist and its membership list.
// Songs stay in the catalog.
func (s *Service) DeletePlaylist(ctx context.Context, name string) (err error) {
	ctx, end := s.begin(ctx, "DeletePlaylist", attribute.String("playlist", name))
	defer func() { end(err) }()

	name, err = s.checkPlaylistName(name)
	if err != nil {
		return err
	}
	playlist, err := s.repo.GetPlaylistByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrPlaylistNotFound, name)
		}
		return storageErr("find playlist", err)
	}
	if err := s.repo.DeletePlaylist(ctx, playlist.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrPlaylistNotFound, name)
		}
		return storageErr("delete playlist", err)
	}

	s.logger.Info().Str("playlist", name).Msg("Playlist deleted")
	s.publish(ctx, events.Event{Type: events.PlaylistDeleted, Playlist: name})
	return nil
}

// MoveSong links the song into toPlaylist and unlinks it from fromPlaylist
// in one transaction. Moving out of the reserved playlist copies instead.
// The target playlist is created if needed.
func (s *Service) MoveSong(ctx context.Context, songID, fromPlaylist, toPlaylist string) (err error) {
	ctx, end := s.begin(ctx, "MoveSong",
		attribute.String("song_id", songID),
		attribute.String("playlist", fromPlaylist),
		attribute.String("target", toPlaylist),
	)
	defer func() { end(err) }()

	fromPlaylist = strings.TrimSpace(fromPlaylist)
	toPlaylist = strings.TrimSpace(toPlaylist)
	if fromPlaylist == "" || toPlaylist == "" {
		return ErrInvalidName
	}

	if _, err := s.repo.GetSong(ctx, songID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrSongNotFound, songID)
		}
		return storageErr("find song", err)
	}
	from, err := s.repo.GetPlaylistByName(ctx, fromPlaylist)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrPlaylistNotFound, fromPlaylist)
		}
		return storageErr("find playlist", err)
	}
	if fromPlaylist == toPlaylist {
		return nil
	}
	to, err := s.repo.EnsurePlaylist(ctx, toPlaylist)
	if err != nil {
		return storageErr("ensure playlist", err)
	}

	keepSource := fromPlaylist == s.reserved
	if err := s.repo.MoveMembership(ctx, songID, from.ID, to.ID, keepSource); err != nil {
		return storageErr("move song", err)
	}

	s.logger.Info().Str("song_id", songID).Str("from", fromPlaylist).Str("to", toPlaylist).Bool("copied", keepSource).Msg("Song moved")
	s.publish(ctx, events.Event{Type: events.SongMoved, SongID: songID, Playlist: fromPlaylist, Target: toPlaylist})
	return nil
}
