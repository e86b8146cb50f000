//go:build (linux && cgo) || windows || darwin

package audio

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	"github.com/pkg/errors"

	"musicbox/internal/player"
)

// Available reports whether this build can play sound.
const Available = true

const sampleRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(sampleRate, sampleRate.N(time.Second/10))
	})
	return speakerErr
}

// NewElement returns the best element this build supports.
func NewElement(open Opener) player.MediaElement {
	return NewBeepElement(open)
}

// BeepElement plays tracks through the system speaker.
type BeepElement struct {
	mu   sync.Mutex
	open Opener

	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	cb       player.Callbacks

	// A pending fetch: cancel aborts it, ready closes when it settles and
	// wantPlay starts the source as soon as it arrives.
	cancel   context.CancelFunc
	ready    chan struct{}
	loading  bool
	wantPlay bool

	// token changes on every load and stop so the callbacks of a replaced
	// fetch or stream do nothing.
	token uint64
}

// NewBeepElement creates an element that fetches sources through open.
func NewBeepElement(open Opener) *BeepElement {
	return &BeepElement{open: open}
}

// Load starts fetching the track in the background and returns at once.
// Fetch and decode errors arrive through cb.Failed.
func (p *BeepElement) Load(track player.Track, cb player.Callbacks) error {
	format := FormatOf(track.URL)
	if !decodable(format) {
		return errors.Wrap(ErrUnsupported, format)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	p.cancel = cancel
	p.ready = ready
	p.loading = true
	p.cb = cb
	go p.fetch(ctx, p.token, track.URL, format, ready)
	return nil
}

func (p *BeepElement) fetch(ctx context.Context, token uint64, url, format string, ready chan struct{}) {
	defer close(ready)
	streamer, f, err := p.download(ctx, url, format)

	p.mu.Lock()
	if token != p.token {
		p.mu.Unlock()
		if streamer != nil {
			_ = streamer.Close()
		}
		return
	}
	p.loading = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if err == nil {
		p.streamer = streamer
		p.format = f
		if p.wantPlay {
			p.wantPlay = false
			p.startLocked()
		}
	}
	failed := p.cb.Failed
	p.mu.Unlock()

	if err != nil && failed != nil {
		failed(err)
	}
}

func (p *BeepElement) download(ctx context.Context, url, format string) (beep.StreamSeekCloser, beep.Format, error) {
	rc, err := p.open(ctx, url)
	if err != nil {
		return nil, beep.Format{}, err
	}
	defer rc.Close()

	// Decoders only seek on a seekable source.
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, beep.Format{}, errors.Wrap(err, "failed to read track")
	}
	return decode(format, data)
}

// pending returns a channel closed once the last Load has settled.
func (p *BeepElement) pending() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return p.ready
}

func decodable(ext string) bool {
	switch ext {
	case ".mp3", ".wav", ".flac":
		return true
	}
	return false
}

func decode(ext string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	r := bytes.NewReader(data)
	switch ext {
	case ".mp3":
		return mp3.Decode(io.NopCloser(r))
	case ".wav":
		return wav.Decode(r)
	case ".flac":
		return flac.Decode(r)
	}
	return nil, beep.Format{}, errors.Wrap(ErrUnsupported, ext)
}

// Play starts or resumes output. While the source is still arriving it
// only records that playback was asked for.
func (p *BeepElement) Play() error {
	if err := initSpeaker(); err != nil {
		return errors.Wrap(err, "failed to open audio device")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loading {
		p.wantPlay = true
		return nil
	}
	if p.streamer == nil {
		return ErrNotLoaded
	}
	p.startLocked()
	return nil
}

func (p *BeepElement) startLocked() {
	if p.ctrl != nil {
		speaker.Lock()
		p.ctrl.Paused = false
		speaker.Unlock()
		return
	}

	token := p.token
	resampled := beep.Resample(4, p.format.SampleRate, sampleRate, p.streamer)
	p.ctrl = &beep.Ctrl{Streamer: resampled}
	speaker.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		// The speaker goroutine holds its lock here.
		go p.finish(token)
	})))
}

func (p *BeepElement) finish(token uint64) {
	p.mu.Lock()
	if token != p.token || p.streamer == nil {
		p.mu.Unlock()
		return
	}
	err := p.streamer.Err()
	cb := p.cb
	p.ctrl = nil
	p.mu.Unlock()

	if err != nil {
		if cb.Failed != nil {
			cb.Failed(err)
		}
		return
	}
	if cb.Ended != nil {
		cb.Ended()
	}
}

func (p *BeepElement) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wantPlay = false
	if p.ctrl != nil {
		speaker.Lock()
		p.ctrl.Paused = true
		speaker.Unlock()
	}
	return nil
}

func (p *BeepElement) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *BeepElement) stopLocked() {
	p.token++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.ready = nil
	p.loading = false
	p.wantPlay = false
	if p.ctrl != nil {
		speaker.Lock()
		p.ctrl.Paused = true
		p.ctrl.Streamer = nil
		speaker.Unlock()
	}
	if p.streamer != nil {
		_ = p.streamer.Close()
		p.streamer = nil
	}
	p.ctrl = nil
}

func (p *BeepElement) Seek(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil || p.streamer.Len() == 0 {
		return nil
	}
	n := min(max(p.format.SampleRate.N(d), 0), p.streamer.Len()-1)

	speaker.Lock()
	defer speaker.Unlock()
	return p.streamer.Seek(n)
}

func (p *BeepElement) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := p.streamer.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos)
}

func (p *BeepElement) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamer == nil {
		return 0
	}
	return p.format.SampleRate.D(p.streamer.Len())
}
