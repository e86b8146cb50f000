// Package audio provides media elements for the terminal player.
package audio

import (
	"errors"
	"sync"
	"time"

	"musicbox/internal/player"
)

// ErrNotLoaded is returned by Play when no track is loaded.
var ErrNotLoaded = errors.New("no track loaded")

// SilentElement keeps time like a real element but produces no sound. It
// is used where no audio device is available.
type SilentElement struct {
	mu        sync.Mutex
	now       func() time.Time
	track     player.Track
	cb        player.Callbacks
	loaded    bool
	playing   bool
	offset    time.Duration
	startedAt time.Time
	timer     *time.Timer
	gen       uint64
}

// NewSilentElement creates a silent element.
func NewSilentElement() *SilentElement {
	return &SilentElement{now: time.Now}
}

func (e *SilentElement) Load(track player.Track, cb player.Callbacks) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.track = track
	e.cb = cb
	e.loaded = true
	return nil
}

func (e *SilentElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return ErrNotLoaded
	}
	if e.playing {
		return nil
	}
	if e.track.Duration > 0 && e.offset >= e.track.Duration {
		e.offset = 0
	}
	e.playing = true
	e.startedAt = e.now()
	e.scheduleLocked()
	return nil
}

func (e *SilentElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return nil
	}
	e.offset = e.positionLocked()
	e.playing = false
	e.cancelLocked()
	return nil
}

func (e *SilentElement) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *SilentElement) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offset = pos
	if e.playing {
		e.startedAt = e.now()
		e.scheduleLocked()
	}
	return nil
}

func (e *SilentElement) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *SilentElement) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.track.Duration
}

func (e *SilentElement) positionLocked() time.Duration {
	pos := e.offset
	if e.playing {
		pos += e.now().Sub(e.startedAt)
	}
	if d := e.track.Duration; d > 0 && pos > d {
		pos = d
	}
	return pos
}

// scheduleLocked arms the end-of-track timer. Tracks without a known
// duration never end on their own.
func (e *SilentElement) scheduleLocked() {
	e.cancelLocked()
	if e.track.Duration <= 0 {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(e.track.Duration-e.offset, func() { e.finish(gen) })
}

func (e *SilentElement) cancelLocked() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *SilentElement) stopLocked() {
	e.cancelLocked()
	e.loaded = false
	e.playing = false
	e.offset = 0
}

func (e *SilentElement) finish(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	e.offset = e.track.Duration
	e.timer = nil
	ended := e.cb.Ended
	e.mu.Unlock()

	if ended != nil {
		ended()
	}
}
