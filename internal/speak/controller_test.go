package speak

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/speakavatar/internal/bus"
	"github.com/normanking/speakavatar/internal/metrics"
	"github.com/normanking/speakavatar/internal/playback"
	"github.com/normanking/speakavatar/internal/viseme"
)

// fakeBackend answers by text. Texts listed in gates block until the gate
// is closed.
type fakeBackend struct {
	mu      sync.Mutex
	replies map[string]*SpeakResponse
	errs    map[string]error
	gates   map[string]chan struct{}
	calls   chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		replies: make(map[string]*SpeakResponse),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		calls:   make(chan string, 16),
	}
}

func (f *fakeBackend) answer(ctx context.Context, key string) (*SpeakResponse, error) {
	f.calls <- key

	f.mu.Lock()
	gate := f.gates[key]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.replies[key], nil
}

func (f *fakeBackend) SpeakText(ctx context.Context, text, _, _ string, _ Options) (*SpeakResponse, error) {
	return f.answer(ctx, text)
}

func (f *fakeBackend) SpeakVoiceS3(ctx context.Context, bucket, key, _, _ string, _ Options) (*SpeakResponse, error) {
	return f.answer(ctx, bucket+"/"+key)
}

// testAudio is an audio element that never produces sound.
type testAudio struct {
	mu      sync.Mutex
	playErr error
	plays   int
	pauses  int
}

func (a *testAudio) SetSource(string)        {}
func (a *testAudio) Rewind()                 {}
func (a *testAudio) Position() time.Duration { return 0 }
func (a *testAudio) OnPlaying(func())        {}
func (a *testAudio) OnEnded(func())          {}

func (a *testAudio) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plays++
	return a.playErr
}

func (a *testAudio) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pauses++
}

func (a *testAudio) counts() (plays, pauses int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plays, a.pauses
}

type harness struct {
	loop  *playback.FrameLoop
	audio *testAudio
	clock *playback.Clock
	bus   *bus.EventBus
	m     *metrics.Metrics
	now   time.Time
}

func newHarness() *harness {
	loop := playback.NewFrameLoop()
	audio := &testAudio{}
	return &harness{
		loop:  loop,
		audio: audio,
		clock: playback.NewClock(loop, audio, zerolog.Nop()),
		bus:   bus.NewEventBus(),
		m:     metrics.New("test"),
		now:   time.Unix(1700000000, 0),
	}
}

func (h *harness) controller(backend Backend) *Controller {
	return h.controllerWith(backend, h.clock)
}

func (h *harness) controllerWith(backend Backend, player Player) *Controller {
	cfg := ControllerConfig{CurrentLang: "en", TargetLang: "es", SpeakingRateWPM: 175}
	return NewController(backend, player, cfg, h.bus, h.m, zerolog.Nop())
}

// orderedPlayer records the calls reaching the clock. When interrupt is set,
// PlayURL fires it on another goroutine and gives it time to run before
// playing.
type orderedPlayer struct {
	*playback.Clock
	interrupt func()
	done      chan struct{}

	mu    sync.Mutex
	calls []string
}

func (p *orderedPlayer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *orderedPlayer) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *orderedPlayer) PlayURL(url string) (uint64, error) {
	if p.interrupt != nil {
		go func() {
			p.interrupt()
			close(p.done)
		}()
		time.Sleep(20 * time.Millisecond)
	}
	p.record("play")
	return p.Clock.PlayURL(url)
}

func (p *orderedPlayer) Stop() {
	p.record("stop")
	p.Clock.Stop()
}

func (h *harness) tick(d time.Duration) {
	h.loop.Tick(h.now)
	h.now = h.now.Add(d)
}

func (h *harness) runUntilIdle(t *testing.T, c *Controller) {
	t.Helper()
	for i := 0; i < 2000 && c.State() != StateIdle; i++ {
		h.tick(16 * time.Millisecond)
	}
	require.Equal(t, StateIdle, c.State())
}

func (h *harness) events(types ...bus.EventType) <-chan bus.Event {
	ch := make(chan bus.Event, 32)
	h.bus.SubscribeMultiple(types, func(e bus.Event) { ch <- e })
	return ch
}

func waitEvent(t *testing.T, ch <-chan bus.Event, want bus.EventType) bus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
			return bus.Event{}
		}
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	h := newHarness()
	c := h.controller(nil)

	assert.ErrorIs(t, c.Speak(context.Background(), "   "), ErrEmptyText)
	assert.Equal(t, StateIdle, c.State())
}

func TestSpeak_LocalRunsSyntheticClock(t *testing.T) {
	h := newHarness()
	c := h.controller(nil)
	require.True(t, c.Local())
	ended := h.events(bus.EventTypeSessionEnded)

	require.NoError(t, c.Speak(context.Background(), "hello world"))
	assert.Equal(t, StatePlaying, c.State())

	h.tick(16 * time.Millisecond)
	s, idle := c.Sample()
	assert.False(t, idle)
	assert.Equal(t, viseme.LabelL, s.Label)
	assert.InDelta(t, 0.55, s.Mouth, 1e-9)

	snap := c.Snapshot()
	assert.Equal(t, "synthetic-clock", snap.Source)
	assert.Equal(t, "hello world", snap.SourceText)
	assert.Equal(t, uint64(1), snap.Session)

	h.runUntilIdle(t, c)
	waitEvent(t, ended, bus.EventTypeSessionEnded)

	s, idle = c.Sample()
	assert.True(t, idle)
	assert.Equal(t, viseme.Sampled{}, s)
	assert.Equal(t, 0.0, c.Snapshot().PlayheadMs)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Sessions.WithLabelValues("synthetic-clock")))
}

func TestSpeak_BackendAudio(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	fb.replies["hi"] = &SpeakResponse{
		S3URL:         "https://bucket.example/hi.mp3",
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "PP"}, {TimeMs: 200, Shape: "AA"}},
		Transcript:    "hola",
	}
	c := h.controller(fb)
	transcripts := h.events(bus.EventTypeTranscript)

	require.NoError(t, c.Speak(context.Background(), "hi"))

	snap := c.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, "audio", snap.Source)
	assert.Equal(t, viseme.LabelMBP, snap.Label)
	assert.Equal(t, 1.0, snap.Mouth)
	assert.Equal(t, "hola", snap.Transcript)

	e := waitEvent(t, transcripts, bus.EventTypeTranscript)
	assert.Equal(t, "hola", e.Data["transcript"])
}

func TestSpeak_BackendWithoutAudioUsesTimeline(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	fb.replies["hi"] = &SpeakResponse{
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "AA"}, {TimeMs: 100, Shape: "SS"}},
	}
	c := h.controller(fb)

	require.NoError(t, c.Speak(context.Background(), "hi"))
	assert.Equal(t, "synthetic-clock", c.Snapshot().Source)
	h.runUntilIdle(t, c)
}

func TestSpeak_StaleResponseDropped(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	fb.gates["first"] = make(chan struct{})
	fb.replies["first"] = &SpeakResponse{
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "PP"}},
	}
	fb.replies["second"] = &SpeakResponse{
		S3URL:         "https://bucket.example/2.mp3",
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "UW"}, {TimeMs: 300, Shape: "AA"}},
	}
	c := h.controller(fb)
	dropped := h.events(bus.EventTypeSessionDropped)

	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Speak(context.Background(), "first") }()
	require.Equal(t, "first", <-fb.calls)

	require.NoError(t, c.Speak(context.Background(), "second"))
	require.Equal(t, "second", <-fb.calls)

	close(fb.gates["first"])
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	snap := c.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, uint64(2), snap.Session)
	assert.Equal(t, viseme.LabelUW, snap.Label)
	assert.Equal(t, "audio", snap.Source)

	e := waitEvent(t, dropped, bus.EventTypeSessionDropped)
	assert.Equal(t, uint64(1), e.Data["session"])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.StaleResponses))
}

func TestSpeak_Failure(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	boom := errors.New("backend exploded")
	fb.errs["hi"] = boom
	c := h.controller(fb)
	failed := h.events(bus.EventTypeSessionFailed)

	err := c.Speak(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "backend exploded", c.Snapshot().Error)

	e := waitEvent(t, failed, bus.EventTypeSessionFailed)
	assert.Equal(t, "backend exploded", e.Data["error"])
}

func TestStop_DuringRequest(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	fb.gates["slow"] = make(chan struct{})
	fb.replies["slow"] = &SpeakResponse{VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "AA"}}}
	c := h.controller(fb)
	stopped := h.events(bus.EventTypeSessionStopped)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Speak(context.Background(), "slow") }()
	<-fb.calls
	assert.Equal(t, StateRequesting, c.State())

	c.Stop()
	waitEvent(t, stopped, bus.EventTypeSessionStopped)
	assert.Equal(t, StateIdle, c.State())

	close(fb.gates["slow"])
	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.Equal(t, StateIdle, c.State())
	_, idle := c.Sample()
	assert.True(t, idle)
}

func TestStop_DuringPlayback(t *testing.T) {
	h := newHarness()
	c := h.controller(nil)

	require.NoError(t, c.Speak(context.Background(), "a long sentence to say"))
	h.tick(16 * time.Millisecond)
	h.tick(16 * time.Millisecond)
	require.Greater(t, c.Snapshot().PlayheadMs, 0.0)

	c.Stop()
	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 0.0, snap.PlayheadMs)
	assert.Equal(t, "none", snap.Source)
	assert.Equal(t, 0, h.loop.Pending())
}

func TestSpeakVoiceS3(t *testing.T) {
	h := newHarness()
	assert.ErrorIs(t, h.controller(nil).SpeakVoiceS3(context.Background(), "b", "k"), ErrNoBackend)

	fb := newFakeBackend()
	fb.replies["b/k"] = &SpeakResponse{
		S3URL:         "https://bucket.example/k.mp3",
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "EE"}},
	}
	c := h.controller(fb)
	require.NoError(t, c.SpeakVoiceS3(context.Background(), "b", "k"))
	assert.Equal(t, viseme.LabelIY, c.Snapshot().Label)
}

func TestSpeak_MissingPlayerUsesTimeline(t *testing.T) {
	h := newHarness()
	h.audio.playErr = fmt.Errorf("%w: ffplay", playback.ErrPlayerUnavailable)
	fb := newFakeBackend()
	fb.replies["hi"] = &SpeakResponse{
		S3URL:         "https://bucket.example/hi.mp3",
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "PP"}, {TimeMs: 200, Shape: "AA"}},
	}
	c := h.controller(fb)
	ended := h.events(bus.EventTypeSessionEnded)

	require.NoError(t, c.Speak(context.Background(), "hi"))
	snap := c.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, "synthetic-clock", snap.Source)

	h.tick(16 * time.Millisecond)
	h.tick(100 * time.Millisecond)
	assert.Greater(t, c.Snapshot().PlayheadMs, 0.0)

	h.runUntilIdle(t, c)
	waitEvent(t, ended, bus.EventTypeSessionEnded)
	_, idle := c.Sample()
	assert.True(t, idle)

	plays, _ := h.audio.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Sessions.WithLabelValues("synthetic-clock")))
	assert.Zero(t, testutil.ToFloat64(h.m.Sessions.WithLabelValues("audio")))
}

func TestSpeak_StopWaitsForPlaybackStart(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	fb.replies["hi"] = &SpeakResponse{
		S3URL:         "https://bucket.example/hi.mp3",
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "PP"}},
	}
	player := &orderedPlayer{Clock: h.clock, done: make(chan struct{})}
	c := h.controllerWith(fb, player)
	player.interrupt = c.Stop

	require.NoError(t, c.Speak(context.Background(), "hi"))
	select {
	case <-player.done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop never returned")
	}

	// begin's stop, the session's play, then the interrupting stop.
	assert.Equal(t, []string{"stop", "play", "stop"}, player.recorded())
	assert.Equal(t, StateIdle, c.State())

	state := h.clock.Playhead()
	assert.Equal(t, playback.SourceNone, state.Source)
	assert.Equal(t, 0, h.loop.Pending())

	plays, pauses := h.audio.counts()
	assert.Equal(t, 1, plays)
	assert.Equal(t, 1, pauses)
}

func TestSpeak_SupersededBeforePlaybackNeverPlays(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	fb.gates["first"] = make(chan struct{})
	fb.replies["first"] = &SpeakResponse{
		S3URL:         "https://bucket.example/1.mp3",
		VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "PP"}},
	}
	c := h.controller(fb)

	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Speak(context.Background(), "first") }()
	require.Equal(t, "first", <-fb.calls)

	c.Stop()
	close(fb.gates["first"])
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	plays, _ := h.audio.counts()
	assert.Zero(t, plays)
	assert.Equal(t, playback.SourceNone, h.clock.Playhead().Source)
}

func TestSpeak_EmptyTimelineEndsOnFirstFrame(t *testing.T) {
	h := newHarness()
	fb := newFakeBackend()
	fb.replies["hi"] = &SpeakResponse{VisemesMapped: []viseme.RawEvent{{TimeMs: 0, Shape: "AA"}}}
	c := h.controller(fb)

	require.NoError(t, c.Speak(context.Background(), "hi"))
	assert.Equal(t, StatePlaying, c.State())

	h.tick(16 * time.Millisecond)
	assert.Equal(t, StateIdle, c.State())
}
