package speak

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/speakavatar/internal/bus"
	"github.com/normanking/speakavatar/internal/metrics"
	"github.com/normanking/speakavatar/internal/playback"
	"github.com/normanking/speakavatar/internal/viseme"
)

// State is the playback state of the current session.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StatePlaying    State = "playing"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

var allStates = []string{
	string(StateIdle), string(StateRequesting), string(StatePlaying),
	string(StateEnded), string(StateFailed),
}

// Backend is the part of Client the controller needs.
type Backend interface {
	SpeakText(ctx context.Context, text, currentLang, targetLang string, opts Options) (*SpeakResponse, error)
	SpeakVoiceS3(ctx context.Context, bucket, key, currentLang, targetLang string, opts Options) (*SpeakResponse, error)
}

// Player is the part of playback.Clock the controller needs. The controller
// calls it with its own lock held, so implementations must not call back into
// the controller synchronously.
type Player interface {
	PlayURL(url string) (uint64, error)
	PlaySynthetic(totalMs float64) uint64
	Stop()
	Playhead() playback.PlayheadState
	OnFinished(fn func(gen uint64))
}

// ControllerConfig holds the per-request settings.
type ControllerConfig struct {
	CurrentLang     string
	TargetLang      string
	Request         Options
	SpeakingRateWPM float64 // local mode only
}

// Snapshot is what a viewer needs to show the current session.
type Snapshot struct {
	Session        uint64  `json:"session"`
	Generation     uint64  `json:"generation"`
	State          State   `json:"state"`
	Source         string  `json:"source"`
	PlayheadMs     float64 `json:"playhead_ms"`
	Mouth          float64 `json:"mouth"`
	Smile          float64 `json:"smile"`
	Label          string  `json:"label,omitempty"`
	Idle           bool    `json:"idle"`
	Transcript     string  `json:"transcript,omitempty"`
	SourceText     string  `json:"source_text,omitempty"`
	TranslatedText string  `json:"translated_text,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Controller runs speak sessions. Only the newest session may touch the
// timeline or the clock; older responses are dropped when they arrive.
type Controller struct {
	mu      sync.Mutex
	backend Backend
	player  Player
	bus     *bus.EventBus
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  ControllerConfig

	session  uint64
	clockGen uint64
	state    State
	frames   []viseme.Keyframe
	resp     SpeakResponse
	lastErr  string
}

// NewController wires a controller to its player. A nil backend runs every
// session locally from the text. eventBus and m may be nil.
func NewController(backend Backend, player Player, cfg ControllerConfig, eventBus *bus.EventBus, m *metrics.Metrics, logger zerolog.Logger) *Controller {
	c := &Controller{
		backend: backend,
		player:  player,
		bus:     eventBus,
		metrics: m,
		logger:  logger.With().Str("component", "speak").Logger(),
		config:  cfg,
		state:   StateIdle,
	}
	player.OnFinished(c.handleFinished)
	c.recordState()
	return c
}

// Local reports whether sessions are generated from text without a backend.
func (c *Controller) Local() bool {
	return c.backend == nil
}

// SetConfig replaces the request settings used by later sessions.
func (c *Controller) SetConfig(cfg ControllerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
}

// Speak starts a session for text. It blocks while the backend answers and
// returns ErrSuperseded if another session started meanwhile.
func (c *Controller) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	id, cfg := c.begin()

	if c.backend == nil {
		frames := viseme.FromText(text, viseme.EstimateDuration(text, cfg.SpeakingRateWPM))
		return c.start(id, frames, SpeakResponse{SourceText: text})
	}

	resp, err := c.backend.SpeakText(ctx, text, cfg.CurrentLang, cfg.TargetLang, cfg.Request)
	return c.finishRequest(id, resp, err)
}

// SpeakVoiceS3 starts a session from a recording in object storage.
func (c *Controller) SpeakVoiceS3(ctx context.Context, bucket, key string) error {
	if c.backend == nil {
		return ErrNoBackend
	}

	id, cfg := c.begin()
	resp, err := c.backend.SpeakVoiceS3(ctx, bucket, key, cfg.CurrentLang, cfg.TargetLang, cfg.Request)
	return c.finishRequest(id, resp, err)
}

// Stop ends the current session from any state. An in-flight request is not
// aborted; its response will be dropped.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.session++
	id := c.session
	wasIdle := c.state == StateIdle
	c.toIdleLocked()
	c.player.Stop()
	c.mu.Unlock()

	if !wasIdle {
		c.publish(bus.EventTypeSessionStopped, map[string]any{"session": id})
		c.logger.Info().Uint64("session", id).Msg("Session stopped")
	}
}

// Sample returns the timeline value at the current playhead and whether the
// avatar should fall back to idle motion.
func (c *Controller) Sample() (viseme.Sampled, bool) {
	ph := c.player.Playhead()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying || len(c.frames) == 0 {
		return viseme.Sampled{}, true
	}
	return viseme.Sample(c.frames, ph.PlayheadMs), false
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the session state together with the current sample.
func (c *Controller) Snapshot() Snapshot {
	ph := c.player.Playhead()
	s, idle := c.Sample()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Session:        c.session,
		Generation:     ph.Generation,
		State:          c.state,
		Source:         ph.Source.String(),
		PlayheadMs:     ph.PlayheadMs,
		Mouth:          s.Mouth,
		Smile:          s.Smile,
		Label:          s.Label,
		Idle:           idle,
		Transcript:     c.resp.Transcript,
		SourceText:     c.resp.SourceText,
		TranslatedText: c.resp.TranslatedText,
		Error:          c.lastErr,
	}
}

func (c *Controller) begin() (uint64, ControllerConfig) {
	c.mu.Lock()
	c.session++
	id := c.session
	c.frames = nil
	c.resp = SpeakResponse{}
	c.lastErr = ""
	c.state = StateRequesting
	cfg := c.config
	c.player.Stop()
	c.mu.Unlock()

	c.recordState()
	c.publish(bus.EventTypeSessionRequesting, map[string]any{"session": id})
	return id, cfg
}

func (c *Controller) finishRequest(id uint64, resp *SpeakResponse, err error) error {
	c.mu.Lock()
	if id != c.session {
		c.mu.Unlock()
		c.logger.Debug().Uint64("session", id).Msg("Dropping stale response")
		if c.metrics != nil {
			c.metrics.StaleResponses.Inc()
		}
		c.publish(bus.EventTypeSessionDropped, map[string]any{"session": id})
		return ErrSuperseded
	}

	if err != nil {
		c.state = StateFailed
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.recordState()

		c.logger.Error().Err(err).Uint64("session", id).Msg("Speak request failed")
		c.publish(bus.EventTypeSessionFailed, map[string]any{"session": id, "error": err.Error()})

		c.mu.Lock()
		if id == c.session && c.state == StateFailed {
			c.toIdleLocked()
		}
		c.mu.Unlock()
		c.recordState()
		return fmt.Errorf("speak session %d: %w", id, err)
	}
	c.mu.Unlock()

	return c.start(id, viseme.FromBackend(resp.VisemesMapped), *resp)
}

// start installs the timeline and starts the clock in one step under the
// lock, so a session stopped or superseded meanwhile never reaches playback.
// Without an audio URL, or without a player to play it, the synthetic clock
// runs over the timeline instead.
func (c *Controller) start(id uint64, frames []viseme.Keyframe, resp SpeakResponse) error {
	c.mu.Lock()
	if id != c.session {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.frames = frames
	c.resp = resp
	c.state = StatePlaying

	source := playback.SourceSynthetic
	var gen uint64
	if resp.S3URL != "" {
		var err error
		if gen, err = c.player.PlayURL(resp.S3URL); err == nil {
			source = playback.SourceAudio
		} else {
			c.logger.Warn().Err(err).Uint64("session", id).Msg("Cannot play audio, using synthetic clock")
		}
	}
	if source == playback.SourceSynthetic {
		gen = c.player.PlaySynthetic(viseme.Duration(frames))
	}
	c.clockGen = gen
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Sessions.WithLabelValues(source.String()).Inc()
	}
	c.recordState()

	c.logger.Info().
		Uint64("session", id).
		Str("source", source.String()).
		Int("keyframes", len(frames)).
		Float64("duration_ms", viseme.Duration(frames)).
		Msg("Session playing")
	c.publish(bus.EventTypeSessionPlaying, map[string]any{
		"session":  id,
		"source":   source.String(),
		"duration": viseme.Duration(frames),
	})
	if resp.Transcript != "" || resp.TranslatedText != "" {
		c.publish(bus.EventTypeTranscript, map[string]any{
			"session":         id,
			"transcript":      resp.Transcript,
			"source_text":     resp.SourceText,
			"translated_text": resp.TranslatedText,
		})
	}
	return nil
}

func (c *Controller) handleFinished(gen uint64) {
	c.mu.Lock()
	if gen != c.clockGen || c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	id := c.session
	c.state = StateEnded
	c.mu.Unlock()
	c.recordState()

	c.publish(bus.EventTypeSessionEnded, map[string]any{"session": id})

	c.mu.Lock()
	if id == c.session && c.state == StateEnded {
		c.toIdleLocked()
	}
	c.mu.Unlock()
	c.recordState()
}

func (c *Controller) toIdleLocked() {
	c.state = StateIdle
	c.frames = nil
}

func (c *Controller) recordState() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetState(string(c.State()), allStates)
}

func (c *Controller) publish(t bus.EventType, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Type: t, Data: data})
}
