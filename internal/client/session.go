package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"musicbox/internal/logging"
	"musicbox/internal/player"
)

// ErrUnknownPlaylist is returned when switching to a playlist the server
// does not have.
var ErrUnknownPlaylist = errors.New("unknown playlist")

// Session is the client-side state: the latest snapshot, the active
// playlist and the controller playing it. Local state only changes after
// the server has confirmed a mutation and a fresh snapshot was fetched.
type Session struct {
	api    *Client
	ctrl   *player.Controller
	logger zerolog.Logger

	mu     sync.Mutex
	snap   *Snapshot
	active string
}

// NewSession creates a session. Call Refresh before use.
func NewSession(api *Client, ctrl *player.Controller) *Session {
	return &Session{
		api:    api,
		ctrl:   ctrl,
		logger: logging.WithModule("session"),
	}
}

// Controller returns the playback controller.
func (s *Session) Controller() *player.Controller {
	return s.ctrl
}

// Active returns the active playlist name.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Reserved returns the reserved playlist name. The server lists it first.
func (s *Session) Reserved() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved()
}

func (s *Session) reserved() string {
	if s.snap == nil || len(s.snap.Order) == 0 {
		return ""
	}
	return s.snap.Order[0]
}

// Playlists returns playlist names in display order.
func (s *Session) Playlists() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil
	}
	return append([]string(nil), s.snap.Order...)
}

// Songs returns the songs of the active playlist.
func (s *Session) Songs() []Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Song(nil), s.snap.Songs(s.active)...)
}

// Snapshot returns the latest snapshot.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Refresh re-fetches the snapshot. If the active playlist disappeared the
// session falls back to the reserved playlist and playback stops;
// otherwise the controller keeps playing the current track.
func (s *Session) Refresh(ctx context.Context) error {
	snap, err := s.api.Snapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snap = snap
	switched := false
	if !snap.Has(s.active) {
		s.active = s.reserved()
		switched = true
	}
	tracks := s.tracks()
	s.mu.Unlock()

	if switched {
		s.ctrl.Load(tracks)
	} else {
		s.ctrl.Update(tracks)
	}
	return nil
}

// Switch makes name the active playlist. The current track is stopped
// before the new list is loaded.
func (s *Session) Switch(ctx context.Context, name string) error {
	snap, err := s.api.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !snap.Has(name) {
		return errors.Wrap(ErrUnknownPlaylist, name)
	}

	s.ctrl.Stop()

	s.mu.Lock()
	s.snap = snap
	s.active = name
	tracks := s.tracks()
	s.mu.Unlock()

	s.ctrl.Load(tracks)
	s.logger.Debug().Str("playlist", name).Int("songs", len(tracks)).Msg("Switched playlist")
	return nil
}

// Upload sends files to the server. A single file goes through the plain
// upload route, several through the bulk route.
func (s *Session) Upload(ctx context.Context, paths []string) (*BulkReport, error) {
	var report *BulkReport
	err := s.mutate(ctx, func() error {
		if len(paths) == 1 {
			song, err := s.api.Upload(ctx, paths[0], "")
			if err != nil {
				return err
			}
			report = &BulkReport{Uploaded: 1, Results: []BulkResult{{FileName: paths[0], Success: true, Song: song}}}
			return nil
		}
		var err error
		report, err = s.api.UploadBulk(ctx, paths)
		return err
	})
	return report, err
}

// RenameSong renames a song everywhere.
func (s *Session) RenameSong(ctx context.Context, songID, newName string) error {
	return s.mutate(ctx, func() error {
		return s.api.RenameSong(ctx, songID, newName)
	})
}

// DeleteSong removes a song from the active playlist, which purges it when
// the active playlist is the reserved one.
func (s *Session) DeleteSong(ctx context.Context, songID string) (string, error) {
	var outcome string
	err := s.mutate(ctx, func() error {
		var err error
		outcome, err = s.api.DeleteSong(ctx, songID, s.Active())
		return err
	})
	return outcome, err
}

// MoveSong moves a song from the active playlist to another.
func (s *Session) MoveSong(ctx context.Context, songID, to string) error {
	return s.mutate(ctx, func() error {
		return s.api.MoveSong(ctx, songID, s.Active(), to)
	})
}

// AddSongs adds songs to a playlist.
func (s *Session) AddSongs(ctx context.Context, playlist string, songIDs []string) error {
	return s.mutate(ctx, func() error {
		return s.api.AddSongs(ctx, playlist, songIDs)
	})
}

// CreatePlaylist creates a playlist and switches to it.
func (s *Session) CreatePlaylist(ctx context.Context, name string) error {
	if err := s.api.CreatePlaylist(ctx, name); err != nil {
		return err
	}
	return s.Switch(ctx, name)
}

// RenamePlaylist renames a playlist, following it if it is active.
func (s *Session) RenamePlaylist(ctx context.Context, oldName, newName string) error {
	if err := s.api.RenamePlaylist(ctx, oldName, newName); err != nil {
		return err
	}
	s.mu.Lock()
	if s.active == oldName {
		s.active = newName
	}
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// DeletePlaylist deletes a playlist. Deleting the active one falls back to
// the reserved playlist.
func (s *Session) DeletePlaylist(ctx context.Context, name string) error {
	return s.mutate(ctx, func() error {
		return s.api.DeletePlaylist(ctx, name)
	})
}

func (s *Session) mutate(ctx context.Context, op func() error) error {
	if err := op(); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Session) tracks() []player.Track {
	songs := s.snap.Songs(s.active)
	out := make([]player.Track, 0, len(songs))
	for _, song := range songs {
		out = append(out, player.Track{
			ID:       song.ID,
			Name:     song.Name,
			URL:      s.api.Resolve(song.URL),
			CoverURL: s.api.Resolve(song.CoverURL),
			Duration: time.Duration(song.DurationMs) * time.Millisecond,
		})
	}
	return out
}
