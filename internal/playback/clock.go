package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source says what drives the playhead.
type Source int

const (
	SourceNone Source = iota
	SourceAudio
	SourceSynthetic
)

func (s Source) String() string {
	switch s {
	case SourceAudio:
		return "audio"
	case SourceSynthetic:
		return "synthetic-clock"
	default:
		return "none"
	}
}

// PlayheadState is a snapshot of the clock.
type PlayheadState struct {
	PlayheadMs float64
	Source     Source
	Generation uint64
	// Ticking is true while a frame callback is advancing the playhead.
	Ticking bool
}

// Clock owns the playhead for one avatar. Each Play call starts a new
// generation; callbacks captured under an older generation do nothing.
type Clock struct {
	mu     sync.Mutex
	logger zerolog.Logger
	sched  FrameScheduler
	audio  AudioElement

	gen        uint64
	audioGen   uint64
	source     Source
	playheadMs float64

	frame    FrameID
	hasFrame bool

	synthTotalMs float64
	synthLast    time.Time

	onFinished []func(gen uint64)
}

// NewClock binds a clock to a scheduler and its audio element. audio may be
// nil, in which case PlayURL always reports ErrPlayerUnavailable.
func NewClock(sched FrameScheduler, audio AudioElement, logger zerolog.Logger) *Clock {
	c := &Clock{
		logger: logger.With().Str("component", "clock").Logger(),
		sched:  sched,
		audio:  audio,
	}
	if audio != nil {
		audio.OnPlaying(c.handlePlaying)
		audio.OnEnded(c.handleEnded)
	}
	return c
}

// OnFinished registers fn to run when a generation reaches its natural end.
// Stopped or superseded generations do not report.
func (c *Clock) OnFinished(fn func(gen uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFinished = append(c.onFinished, fn)
}

// Generation returns the current generation.
func (c *Clock) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Playhead returns the current state.
func (c *Clock) Playhead() PlayheadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PlayheadState{
		PlayheadMs: c.playheadMs,
		Source:     c.source,
		Generation: c.gen,
		Ticking:    c.hasFrame,
	}
}

// PlayURL stops whatever is playing and starts the audio at url. The
// playhead starts moving once the element reports "playing". A rejected Play
// is logged and otherwise ignored, except when there is no player at all:
// then the clock stays stopped and ErrPlayerUnavailable is returned so the
// caller can drive the timeline another way.
func (c *Clock) PlayURL(url string) (uint64, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.stopLocked()
	audio := c.audio
	if audio != nil {
		c.source = SourceAudio
		c.audioGen = gen
	}
	c.mu.Unlock()

	if audio == nil {
		return gen, ErrPlayerUnavailable
	}

	audio.SetSource(url)
	if err := audio.Play(); err != nil {
		if errors.Is(err, ErrPlayerUnavailable) {
			c.mu.Lock()
			if c.gen == gen {
				c.source = SourceNone
			}
			c.mu.Unlock()
			return gen, err
		}
		c.logger.Debug().Err(err).Uint64("generation", gen).Msg("Audio play rejected")
	}
	return gen, nil
}

// PlaySynthetic stops whatever is playing and advances the playhead by
// wall-clock frame deltas until it reaches totalMs.
func (c *Clock) PlaySynthetic(totalMs float64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	gen := c.gen
	c.stopLocked()
	c.source = SourceSynthetic
	c.synthTotalMs = totalMs
	c.synthLast = time.Time{}
	c.scheduleLocked(func(now time.Time) { c.syntheticTick(gen, now) })
	return gen
}

// Stop halts playback and resets the playhead. Late events from the stopped
// generation are ignored.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stopLocked()
}

func (c *Clock) stopLocked() {
	if c.audio != nil && c.source == SourceAudio {
		c.audio.Pause()
		c.audio.Rewind()
	}
	c.cancelFrameLocked()
	c.playheadMs = 0
	c.source = SourceNone
}

func (c *Clock) cancelFrameLocked() {
	if c.hasFrame {
		c.sched.CancelFrame(c.frame)
		c.hasFrame = false
	}
}

func (c *Clock) scheduleLocked(fn func(now time.Time)) {
	c.frame = c.sched.RequestFrame(fn)
	c.hasFrame = true
}

func (c *Clock) syntheticTick(gen uint64, now time.Time) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.hasFrame = false

	if !c.synthLast.IsZero() {
		c.playheadMs += float64(now.Sub(c.synthLast)) / float64(time.Millisecond)
	}
	c.synthLast = now

	done := c.playheadMs >= c.synthTotalMs
	if !done {
		c.scheduleLocked(func(now time.Time) { c.syntheticTick(gen, now) })
		c.mu.Unlock()
		return
	}

	c.playheadMs = 0
	c.source = SourceNone
	callbacks := c.onFinished
	c.mu.Unlock()

	c.logger.Debug().Uint64("generation", gen).Msg("Synthetic playback finished")
	for _, fn := range callbacks {
		fn(gen)
	}
}

func (c *Clock) handlePlaying() {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.audioGen
	if gen != c.gen || c.source != SourceAudio {
		return
	}
	c.cancelFrameLocked()
	c.scheduleLocked(func(now time.Time) { c.audioTick(gen) })
}

func (c *Clock) audioTick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.source != SourceAudio {
		return
	}
	c.hasFrame = false
	c.playheadMs = float64(c.audio.Position()) / float64(time.Millisecond)
	c.scheduleLocked(func(now time.Time) { c.audioTick(gen) })
}

func (c *Clock) handleEnded() {
	c.mu.Lock()
	gen := c.audioGen
	if gen != c.gen || c.source != SourceAudio {
		c.mu.Unlock()
		return
	}
	c.cancelFrameLocked()
	c.playheadMs = 0
	c.source = SourceNone
	callbacks := c.onFinished
	c.mu.Unlock()

	c.logger.Debug().Uint64("generation", gen).Msg("Audio playback finished")
	for _, fn := range callbacks {
		fn(gen)
	}
}
