package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rs/zerolog"

	"github.com/normanking/speakavatar/internal/bus"
	"github.com/normanking/speakavatar/internal/config"
	"github.com/normanking/speakavatar/internal/logging"
	"github.com/normanking/speakavatar/internal/metrics"
	"github.com/normanking/speakavatar/internal/playback"
	"github.com/normanking/speakavatar/internal/renderer"
	"github.com/normanking/speakavatar/internal/speak"
	"github.com/normanking/speakavatar/internal/stream"
)

// GL and glfw calls must stay on the main thread.
func init() {
	runtime.LockOSThread()
}

const headlessFrameInterval = time.Second / 60

type flags struct {
	configDir string
	local     bool
	stream    bool
	headless  bool
	showFPS   bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configDir, "config", "", "Config directory (default ~/.speakavatar)")
	flag.BoolVar(&f.local, "local", false, "Generate visemes from text without the backend")
	flag.BoolVar(&f.stream, "stream", false, "Serve snapshots over websocket")
	flag.BoolVar(&f.headless, "headless", false, "Run without a window")
	flag.BoolVar(&f.showFPS, "fps", false, "Log frame rate once per second")
	flag.Parse()
	return f
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "avatar3d: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	var (
		cfg *config.Config
		err error
	)
	if f.configDir != "" {
		cfg, err = config.LoadFrom(f.configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "avatar3d: config: %v (using defaults)\n", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	logCfg.Console = cfg.Logging.Console
	logCfg.File = cfg.Logging.File
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Close()
	zl := logger.Zerolog()
	log := logger.Component("main")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New("speakavatar")
	eventBus := bus.NewEventBus()

	frames := playback.NewFrameLoop()
	audio := playback.NewCommandAudio(cfg.Playback.AudioPlayer, nil, zl)
	if !audio.Available() {
		log.Warn().Strs("player", cfg.Playback.AudioPlayer).Msg("audio player not found, backend sessions will run on the synthetic clock")
	}
	clock := playback.NewClock(frames, audio, zl)

	var (
		backend speak.Backend
		client  *speak.Client
	)
	if !f.local && cfg.Backend.BaseURL != "" {
		client = speak.NewClient(&speak.ClientConfig{
			BaseURL:   cfg.Backend.BaseURL,
			Timeout:   cfg.Backend.Timeout,
			AuthToken: cfg.Backend.AuthToken,
		}, m, zl)
		backend = client
	}
	controller := speak.NewController(backend, clock, controllerConfig(cfg), eventBus, m, zl)

	config.Watch(func(next *config.Config) {
		controller.SetConfig(controllerConfig(next))
		log.Info().Msg("config reloaded")
		eventBus.Publish(bus.Event{Type: bus.EventTypeConfigReloaded})
	})

	if f.stream || cfg.Stream.Enabled {
		srv := stream.New(stream.Config{
			Addr:           cfg.Stream.Addr,
			AllowedOrigins: cfg.Stream.AllowedOrigins,
			Interval:       cfg.Stream.Interval,
		}, controller, logger, eventBus, m, zl)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("stream server stopped")
			}
		}()
	}

	loaded := loadHead(cfg, eventBus, m, zl)

	cmds := &commands{
		controller: controller,
		client:     client,
		logger:     log,
	}
	go cmds.readLoop(ctx, os.Stdin)

	mode := "backend"
	if controller.Local() {
		mode = "local"
	}
	log.Info().
		Str("mode", mode).
		Bool("fallback_head", loaded.fallback != "").
		Msg("avatar ready; type text to speak, /stop, /s3 <bucket> <key>, /langs")

	step := func(now time.Time, dt time.Duration) {
		frames.Tick(now)
		start := time.Now()
		sampled, idle := controller.Sample()
		loaded.head.frame(dt, sampled, idle && cfg.Avatar.IdleAnimation)
		m.ObserveFrame(time.Since(start))
	}

	if f.headless {
		runHeadless(ctx, step)
	} else if err := runWindow(ctx, cfg.Window, loaded, step, f.showFPS, zl); err != nil {
		return err
	}

	controller.Stop()
	log.Info().Msg("avatar stopped")
	return nil
}

// runWindow drives the frame loop from the display refresh until the window
// closes or ctx ends.
func runWindow(ctx context.Context, cfg config.WindowConfig, loaded loadedHead, step func(time.Time, time.Duration), showFPS bool, logger zerolog.Logger) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("init glfw: %w", err)
	}
	defer glfw.Terminate()

	rend, err := renderer.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	defer rend.Shutdown()

	if loaded.framing != nil {
		rend.Camera().ApplyFraming(*loaded.framing)
	}
	loaded.head.upload()
	defer loaded.head.delete()

	last := time.Now()
	frameCount := 0
	fpsTimer := last

	for !rend.ShouldClose() {
		if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		step(now, now.Sub(last))
		last = now

		rend.BeginFrame()
		rend.DrawModel(loaded.head)
		rend.Present()

		frameCount++
		if showFPS && time.Since(fpsTimer) >= time.Second {
			draws, tris := rend.GetStats()
			logger.Info().Int("fps", frameCount).Int("draws", draws).Int("triangles", tris).Msg("frame stats")
			frameCount = 0
			fpsTimer = time.Now()
		}
	}
	return nil
}

// runHeadless ticks at a fixed rate; useful with --stream on machines without
// a display.
func runHeadless(ctx context.Context, step func(time.Time, time.Duration)) {
	ticker := time.NewTicker(headlessFrameInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			step(now, now.Sub(last))
			last = now
		}
	}
}

// controllerConfig maps the backend section to session settings. Optional
// fields are only sent when set, so the endpoints keep their own defaults.
func controllerConfig(cfg *config.Config) speak.ControllerConfig {
	b := cfg.Backend
	opts := speak.Options{Style: b.Style}
	if b.NeuralOnly {
		v := true
		opts.NeuralOnly = &v
	}
	if b.SampleRateHz > 0 {
		v := b.SampleRateHz
		opts.SampleRateHz = &v
	}
	if b.ReturnTranscript {
		v := true
		opts.ReturnTranscript = &v
	}
	return speak.ControllerConfig{
		CurrentLang:     b.CurrentLang,
		TargetLang:      b.TargetLang,
		Request:         opts,
		SpeakingRateWPM: cfg.Playback.SpeakingRateWPM,
	}
}

type commandKind int

const (
	cmdNone commandKind = iota
	cmdSpeak
	cmdStop
	cmdVoiceS3
	cmdLanguages
	cmdUnknown
)

type command struct {
	kind commandKind
	args []string
	text string
}

// parseCommand reads one stdin line. Lines starting with "/" are commands,
// anything else is text to speak.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSpeak, text: line}
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/stop":
		return command{kind: cmdStop}
	case "/s3":
		return command{kind: cmdVoiceS3, args: fields[1:]}
	case "/langs":
		return command{kind: cmdLanguages}
	default:
		return command{kind: cmdUnknown, text: fields[0]}
	}
}

type commands struct {
	controller *speak.Controller
	client     *speak.Client
	logger     zerolog.Logger
}

func (c *commands) readLoop(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		c.handle(ctx, parseCommand(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("stdin closed")
	}
}

// handle runs one command. Requests run in their own goroutine so a slow
// backend never stalls input; a newer request supersedes an older one.
func (c *commands) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdNone:
	case cmdSpeak:
		text := cmd.text
		go func() { c.report("speak", c.controller.Speak(ctx, text)) }()
	case cmdStop:
		c.controller.Stop()
	case cmdVoiceS3:
		if len(cmd.args) != 2 {
			c.logger.Warn().Msg("usage: /s3 <bucket> <key>")
			return
		}
		bucket, key := cmd.args[0], cmd.args[1]
		go func() { c.report("voice-s3", c.controller.SpeakVoiceS3(ctx, bucket, key)) }()
	case cmdLanguages:
		if c.client == nil {
			c.logger.Warn().Msg("languages need a backend")
			return
		}
		go func() {
			cur := c.client.CurrentLanguages(ctx)
			tgt := c.client.TargetLanguages(ctx)
			c.logger.Info().
				Str("current", languageCodes(cur)).
				Str("target", languageCodes(tgt)).
				Msg("languages")
		}()
	case cmdUnknown:
		c.logger.Warn().Str("command", cmd.text).Msg("unknown command")
	}
}

func (c *commands) report(op string, err error) {
	if err == nil || errors.Is(err, speak.ErrSuperseded) || errors.Is(err, context.Canceled) {
		return
	}
	c.logger.Error().Err(err).Str("op", op).Msg("request failed")
}

func languageCodes(langs []speak.Language) string {
	codes := make([]string, len(langs))
	for i, l := range langs {
		codes[i] = l.Code
	}
	return strings.Join(codes, ",")
}
