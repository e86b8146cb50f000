// Package player sequences playback of one playlist: shuffle without
// repetition, repeat modes, history-based previous and reconciliation with
// a media element that can fail at any point.
package player

import (
	"errors"
	"fmt"
	"time"
)

// Track is one playable song.
type Track struct {
	ID       string
	Name     string
	URL      string
	CoverURL string
	Duration time.Duration
}

// Callbacks receive asynchronous element events. An element must never
// invoke them from inside one of its own methods.
type Callbacks struct {
	// Ended fires when the source plays to its end.
	Ended func()
	// Failed fires on decode or network errors during playback.
	Failed func(error)
	// Interrupted fires when playback pauses without being asked to.
	Interrupted func()
}

// MediaElement is the platform audio output the controller drives.
type MediaElement interface {
	// Load replaces the current source. Nothing plays until Play. Load runs
	// under the controller lock, so elements that fetch over the network
	// return at once and report fetch errors through Callbacks.Failed.
	Load(track Track, cb Callbacks) error
	Play() error
	Pause() error
	// Stop halts output synchronously and releases the source.
	Stop() error
	Seek(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
}

// NoticeLevel grades a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeWarn:
		return "warn"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a short message for the user.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Notice texts.
const (
	MsgNothingToPlay = "Nothing to play"
	MsgReshuffle     = "Played everything, reshuffling"
)

// ErrIndexOutOfRange is returned when a track index does not exist.
var ErrIndexOutOfRange = errors.New("track index out of range")

// PlaybackError reports that the element refused to load or play a track.
// It is recoverable: the user can retry.
type PlaybackError struct {
	Index int
	Track string
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("cannot play %q: %v", e.Track, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}
