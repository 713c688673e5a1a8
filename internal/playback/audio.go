package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoSource is returned by Play when no source has been set.
var ErrNoSource = errors.New("audio source not set")

// ErrPlayerUnavailable is returned by Play when the player binary is missing.
var ErrPlayerUnavailable = errors.New("audio player not available")

// AudioElement is a single reusable audio output. Event handlers may be
// called from any goroutine.
type AudioElement interface {
	SetSource(url string)
	Play() error
	Pause()
	Rewind()
	Position() time.Duration
	OnPlaying(fn func())
	OnEnded(fn func())
}

// DefaultPlayerCommand returns the player used when none is configured.
func DefaultPlayerCommand() []string {
	if runtime.GOOS == "darwin" {
		return []string{"afplay"}
	}
	return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}
}

// CommandAudio plays a source through an external player process. Remote
// sources are downloaded to a temp file first. Position is wall time since
// the player process started.
type CommandAudio struct {
	mu     sync.Mutex
	logger zerolog.Logger
	client *http.Client
	argv   []string

	src       string
	run       uint64
	cancel    context.CancelFunc
	startedAt time.Time
	offset    time.Duration

	onPlaying func()
	onEnded   func()
}

// NewCommandAudio creates an element that runs argv[0] argv[1:]... <file>.
// An empty argv selects DefaultPlayerCommand.
func NewCommandAudio(argv []string, client *http.Client, logger zerolog.Logger) *CommandAudio {
	if len(argv) == 0 {
		argv = DefaultPlayerCommand()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CommandAudio{
		logger: logger.With().Str("component", "audio").Logger(),
		client: client,
		argv:   argv,
	}
}

// Available reports whether the player binary can be found.
func (a *CommandAudio) Available() bool {
	_, err := exec.LookPath(a.argv[0])
	return err == nil
}

func (a *CommandAudio) SetSource(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.src = url
}

func (a *CommandAudio) OnPlaying(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPlaying = fn
}

func (a *CommandAudio) OnEnded(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEnded = fn
}

// Play starts playback in the background. Like a browser audio element it
// returns before any sound is produced; "playing" fires once the player
// process is running.
func (a *CommandAudio) Play() error {
	if !a.Available() {
		return fmt.Errorf("%w: %s", ErrPlayerUnavailable, a.argv[0])
	}

	a.mu.Lock()
	if a.src == "" {
		a.mu.Unlock()
		return ErrNoSource
	}
	a.stopLocked()
	a.run++
	run := a.run
	src := a.src
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	go a.playback(ctx, run, src)
	return nil
}

// Pause kills the player process and keeps the position reached so far.
func (a *CommandAudio) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.startedAt.IsZero() {
		a.offset += time.Since(a.startedAt)
	}
	a.stopLocked()
}

func (a *CommandAudio) Rewind() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offset = 0
	if !a.startedAt.IsZero() {
		a.startedAt = time.Now()
	}
}

func (a *CommandAudio) Position() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startedAt.IsZero() {
		return a.offset
	}
	return a.offset + time.Since(a.startedAt)
}

func (a *CommandAudio) stopLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.run++
	a.startedAt = time.Time{}
}

func (a *CommandAudio) playback(ctx context.Context, run uint64, src string) {
	path, cleanup, err := a.fetch(ctx, src)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn().Err(err).Str("src", src).Msg("Audio fetch failed")
		}
		a.abandon(run)
		return
	}
	defer cleanup()

	args := append(append([]string{}, a.argv[1:]...), path)
	cmd := exec.CommandContext(ctx, a.argv[0], args...)
	if err := cmd.Start(); err != nil {
		a.logger.Warn().Err(err).Str("player", a.argv[0]).Msg("Audio player failed to start")
		a.abandon(run)
		return
	}

	a.mu.Lock()
	if a.run != run {
		a.mu.Unlock()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}
	a.offset = 0
	a.startedAt = time.Now()
	onPlaying := a.onPlaying
	a.mu.Unlock()

	if onPlaying != nil && a.current(run) {
		onPlaying()
	}

	err = cmd.Wait()

	a.mu.Lock()
	current := a.run == run
	if current {
		a.offset += time.Since(a.startedAt)
		a.startedAt = time.Time{}
		a.cancel = nil
	}
	onEnded := a.onEnded
	a.mu.Unlock()

	if !current {
		return
	}
	if err != nil {
		a.logger.Debug().Err(err).Msg("Audio player exited with error")
	}
	if onEnded != nil {
		onEnded()
	}
}

func (a *CommandAudio) current(run uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run == run
}

// abandon ends run without sound. The element reports "ended" so a session
// waiting on it does not hang.
func (a *CommandAudio) abandon(run uint64) {
	a.mu.Lock()
	current := a.run == run
	if current && a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	onEnded := a.onEnded
	a.mu.Unlock()

	if current && onEnded != nil {
		onEnded()
	}
}

// fetch returns a local file path for src. Remote sources are downloaded.
func (a *CommandAudio) fetch(ctx context.Context, src string) (string, func(), error) {
	noop := func() {}
	if strings.HasPrefix(src, "file://") {
		return strings.TrimPrefix(src, "file://"), noop, nil
	}
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return src, noop, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", noop, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", noop, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "speakavatar-*"+extensionOf(src))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func extensionOf(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	slash := strings.LastIndex(src, "/")
	dot := strings.LastIndex(src, ".")
	if dot <= slash || len(src)-dot > 6 {
		return ".mp3"
	}
	return src[dot:]
}
