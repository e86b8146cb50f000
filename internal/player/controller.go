package player

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"musicbox/internal/logging"
)

// State is the coarse playback state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// RepeatMode cycles off, one, all.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "off"
	}
}

// Next returns the following mode in the cycle.
func (m RepeatMode) Next() RepeatMode {
	return (m + 1) % 3
}

// Status is a point-in-time copy of the controller state.
type Status struct {
	State    State
	Index    int
	Track    *Track
	Count    int
	Shuffle  bool
	Repeat   RepeatMode
	Position time.Duration
	Duration time.Duration
	// History and Pool are the shuffle cycle bookkeeping, in draw order and
	// ascending order respectively.
	History []int
	Pool    []int
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets where user-visible notices go.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithRand sets the random source for shuffle draws.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) {
		if r != nil {
			c.rng = r
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns the playback state of one loaded playlist. All methods
// are safe for concurrent use; element callbacks may arrive on any
// goroutine.
type Controller struct {
	mu       sync.Mutex
	el       MediaElement
	notifier Notifier
	rng      *rand.Rand
	logger   zerolog.Logger

	songs   []Track
	current int
	state   State
	shuffle bool
	repeat  RepeatMode
	history []int
	pool    []int

	// generation identifies the current load; callbacks carrying an older
	// value are ignored.
	generation uint64
	resumed    bool

	pending []Notice
}

// NewController creates a controller driving el.
func NewController(el MediaElement, opts ...Option) *Controller {
	c := &Controller{
		el:       el,
		notifier: NotifierFunc(func(Notice) {}),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		logger:   logging.WithModule("player"),
		current:  -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lock and unlock bracket every public method. Notices queued under the
// lock are delivered after it is released so a notifier may call back in.
func (c *Controller) lock() {
	c.mu.Lock()
}

func (c *Controller) unlock() {
	notes := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, n := range notes {
		c.notifier.Notify(n)
	}
}

func (c *Controller) notice(level NoticeLevel, msg string) {
	c.pending = append(c.pending, Notice{Level: level, Message: msg})
}

// Load replaces the song list. Playback stops and the shuffle cycle starts
// over; shuffle and repeat modes are kept.
func (c *Controller) Load(songs []Track) {
	c.lock()
	defer c.unlock()
	c.load(songs)
}

// Update swaps in a refreshed song list. If the current track is still in
// it, playback carries on at the track's new position and a fresh shuffle
// cycle starts from it. Otherwise Update behaves like Load.
func (c *Controller) Update(songs []Track) {
	c.lock()
	defer c.unlock()

	idx := -1
	if c.current >= 0 {
		id := c.songs[c.current].ID
		idx = slices.IndexFunc(songs, func(t Track) bool { return t.ID == id })
	}
	if idx < 0 {
		c.load(songs)
		return
	}

	c.songs = slices.Clone(songs)
	c.current = idx
	if c.shuffle {
		c.pool = removeSorted(lo.Range(len(c.songs)), idx)
		c.history = []int{idx}
	}
}

func (c *Controller) load(songs []Track) {
	c.stopElement()
	c.songs = slices.Clone(songs)
	c.current = -1
	c.state = Stopped
	c.history = nil
	c.pool = nil
	if c.shuffle {
		c.pool = lo.Range(len(c.songs))
	}
}

// Songs returns the loaded song list.
func (c *Controller) Songs() []Track {
	c.lock()
	defer c.unlock()
	return slices.Clone(c.songs)
}

// Play starts the track at index.
func (c *Controller) Play(index int) error {
	c.lock()
	defer c.unlock()
	if c.empty() {
		return nil
	}
	return c.play(index)
}

// Select starts the track at index as a direct pick. With shuffle on the
// pick counts as a draw so previous and next stay consistent.
func (c *Controller) Select(index int) error {
	c.lock()
	defer c.unlock()
	if c.empty() {
		return nil
	}
	if index < 0 || index >= len(c.songs) {
		return ErrIndexOutOfRange
	}
	if c.shuffle {
		c.pool = removeSorted(c.pool, index)
		c.history = append(slices.DeleteFunc(c.history, func(i int) bool { return i == index }), index)
	}
	return c.play(index)
}

// Toggle starts playback when nothing is loaded and otherwise flips
// between playing and paused.
func (c *Controller) Toggle() error {
	c.lock()
	defer c.unlock()
	if c.empty() {
		return nil
	}

	switch {
	case c.current < 0:
		start := 0
		if c.shuffle {
			start = c.drawShuffleIndex()
		}
		return c.play(start)
	case c.state == Playing:
		if err := c.el.Pause(); err != nil {
			return c.playbackFailed(err, c.state)
		}
		c.state = Paused
		return nil
	case c.state == Paused:
		if err := c.el.Play(); err != nil {
			return c.playbackFailed(err, Paused)
		}
		c.state = Playing
		return nil
	default:
		// Stopped after the end of the list or an element error: reload.
		return c.play(c.current)
	}
}

// Next advances to the following track, or a fresh draw in shuffle mode.
func (c *Controller) Next() error {
	c.lock()
	defer c.unlock()
	if c.empty() {
		return nil
	}
	return c.next()
}

func (c *Controller) next() error {
	if c.shuffle {
		return c.play(c.drawShuffleIndex())
	}
	return c.play((c.current + 1) % len(c.songs))
}

// Previous goes back through the shuffle history, or one track back in
// sequential mode.
func (c *Controller) Previous() error {
	c.lock()
	defer c.unlock()
	if c.empty() {
		return nil
	}

	if c.shuffle {
		if len(c.history) > 1 {
			left := c.history[len(c.history)-1]
			c.history = c.history[:len(c.history)-1]
			c.pool = insertSorted(c.pool, left)
			return c.play(c.history[len(c.history)-1])
		}
		return c.play(c.drawShuffleIndex())
	}

	n := len(c.songs)
	return c.play((max(c.current, 0) - 1 + n) % n)
}

// ToggleShuffle flips shuffle and reports the new setting. Enabling it
// starts a fresh cycle seeded with the current track and clears repeat-one.
func (c *Controller) ToggleShuffle() bool {
	c.lock()
	defer c.unlock()

	c.shuffle = !c.shuffle
	c.history = nil
	c.pool = nil
	if !c.shuffle {
		return false
	}

	c.pool = lo.Range(len(c.songs))
	if c.current >= 0 {
		c.history = []int{c.current}
		c.pool = removeSorted(c.pool, c.current)
	}
	if c.repeat == RepeatOne {
		c.repeat = RepeatOff
	}
	return true
}

// ToggleRepeat advances the repeat mode and reports it. Entering repeat-one
// turns shuffle off.
func (c *Controller) ToggleRepeat() RepeatMode {
	c.lock()
	defer c.unlock()

	c.repeat = c.repeat.Next()
	if c.repeat == RepeatOne && c.shuffle {
		c.shuffle = false
		c.history = nil
		c.pool = nil
	}
	return c.repeat
}

// Stop halts playback and keeps the current index.
func (c *Controller) Stop() {
	c.lock()
	defer c.unlock()
	c.stopElement()
	c.state = Stopped
}

// Seek moves within the current track.
func (c *Controller) Seek(pos time.Duration) error {
	c.lock()
	defer c.unlock()
	if c.empty() {
		return nil
	}
	if c.current < 0 || c.state == Stopped {
		return nil
	}
	if pos < 0 {
		pos = 0
	}
	if d := c.el.Duration(); d > 0 && pos > d {
		pos = d
	}
	return c.el.Seek(pos)
}

// SeekFraction seeks to a fraction in [0, 1] of the current track.
func (c *Controller) SeekFraction(f float64) error {
	c.lock()
	d := c.el.Duration()
	c.unlock()
	if d <= 0 {
		return nil
	}
	f = min(max(f, 0), 1)
	return c.Seek(time.Duration(float64(d) * f))
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.lock()
	defer c.unlock()

	st := Status{
		State:   c.state,
		Index:   c.current,
		Count:   len(c.songs),
		Shuffle: c.shuffle,
		Repeat:  c.repeat,
		History: slices.Clone(c.history),
		Pool:    slices.Clone(c.pool),
	}
	if c.current >= 0 && c.current < len(c.songs) {
		t := c.songs[c.current]
		st.Track = &t
		if c.state != Stopped {
			st.Position = c.el.Position()
			st.Duration = c.el.Duration()
		}
		if st.Duration == 0 {
			st.Duration = t.Duration
		}
	}
	return st
}

func (c *Controller) empty() bool {
	if len(c.songs) > 0 {
		return false
	}
	c.notice(NoticeInfo, MsgNothingToPlay)
	return true
}

// play loads and starts songs[index]. The previous source is stopped first
// so two tracks never overlap.
func (c *Controller) play(index int) error {
	if index < 0 || index >= len(c.songs) {
		return ErrIndexOutOfRange
	}

	c.stopElement()
	c.current = index
	c.generation++
	c.resumed = false
	gen := c.generation
	track := c.songs[index]

	cb := Callbacks{
		Ended:       func() { c.trackEnded(gen) },
		Failed:      func(err error) { c.trackFailed(gen, err) },
		Interrupted: func() { c.trackInterrupted(gen) },
	}
	if err := c.el.Load(track, cb); err != nil {
		return c.playbackFailed(err, Stopped)
	}
	if err := c.el.Play(); err != nil {
		return c.playbackFailed(err, Paused)
	}
	c.state = Playing
	c.logger.Debug().Int("index", index).Str("song_id", track.ID).Msg("Playing track")
	return nil
}

func (c *Controller) playbackFailed(err error, state State) error {
	c.state = state
	name := ""
	if c.current >= 0 && c.current < len(c.songs) {
		name = c.songs[c.current].Name
	}
	perr := &PlaybackError{Index: c.current, Track: name, Err: err}
	c.logger.Warn().Err(err).Int("index", c.current).Msg("Playback request rejected")
	c.notice(NoticeError, perr.Error())
	return perr
}

func (c *Controller) stopElement() {
	if c.current < 0 && c.state == Stopped {
		return
	}
	c.generation++
	if err := c.el.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to stop media element")
	}
}

// drawShuffleIndex takes a random index from the pool, refilling it when a
// cycle is complete.
func (c *Controller) drawShuffleIndex() int {
	n := len(c.songs)
	if len(c.pool) == 0 {
		c.pool = lo.Range(n)
		c.history = nil
		if n > 1 && c.current >= 0 {
			c.pool = removeSorted(c.pool, c.current)
		}
		c.notice(NoticeInfo, MsgReshuffle)
	}

	i := c.rng.IntN(len(c.pool))
	index := c.pool[i]
	c.pool = slices.Delete(c.pool, i, i+1)
	c.history = append(c.history, index)
	return index
}

func (c *Controller) trackEnded(gen uint64) {
	c.lock()
	defer c.unlock()
	if gen != c.generation || c.state != Playing {
		return
	}

	var err error
	switch {
	case c.repeat == RepeatOne:
		err = c.restart()
	case c.repeat == RepeatAll:
		err = c.next()
	case c.hasNaturalNext():
		err = c.next()
	default:
		c.state = Stopped
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to continue after track end")
	}
}

func (c *Controller) hasNaturalNext() bool {
	if c.shuffle {
		return len(c.pool) > 0 || len(c.songs) > 1
	}
	return c.current < len(c.songs)-1
}

func (c *Controller) restart() error {
	c.resumed = false
	if err := c.el.Seek(0); err != nil {
		return c.playbackFailed(err, Paused)
	}
	if err := c.el.Play(); err != nil {
		return c.playbackFailed(err, Paused)
	}
	c.state = Playing
	return nil
}

func (c *Controller) trackFailed(gen uint64, err error) {
	c.lock()
	defer c.unlock()
	if gen != c.generation {
		return
	}
	if err == nil {
		err = errors.New("media error")
	}
	c.playbackFailed(err, Stopped)
}

// trackInterrupted handles a pause nobody asked for. Playback is resumed
// once per track; after that the controller settles into paused.
func (c *Controller) trackInterrupted(gen uint64) {
	c.lock()
	defer c.unlock()
	if gen != c.generation || c.state != Playing {
		return
	}

	if !c.resumed {
		c.resumed = true
		if err := c.el.Play(); err == nil {
			c.logger.Info().Int("index", c.current).Msg("Resumed after interruption")
			return
		}
	}
	c.state = Paused
	c.notice(NoticeWarn, "Playback paused")
}

func removeSorted(s []int, v int) []int {
	if i, ok := slices.BinarySearch(s, v); ok {
		return slices.Delete(s, i, i+1)
	}
	return s
}

func insertSorted(s []int, v int) []int {
	i, ok := slices.BinarySearch(s, v)
	if ok {
		return s
	}
	return slices.Insert(s, i, v)
}
