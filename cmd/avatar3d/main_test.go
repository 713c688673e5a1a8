package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/speakavatar/internal/bus"
	"github.com/normanking/speakavatar/internal/config"
	"github.com/normanking/speakavatar/internal/metrics"
	"github.com/normanking/speakavatar/internal/playback"
	"github.com/normanking/speakavatar/internal/speak"
	"github.com/normanking/speakavatar/internal/viseme"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{kind: cmdNone}},
		{"   ", command{kind: cmdNone}},
		{"hello there", command{kind: cmdSpeak, text: "hello there"}},
		{"  /stop ", command{kind: cmdStop}},
		{"/STOP", command{kind: cmdStop}},
		{"/s3 my-bucket voice/a.wav", command{kind: cmdVoiceS3, args: []string{"my-bucket", "voice/a.wav"}}},
		{"/s3", command{kind: cmdVoiceS3, args: []string{}}},
		{"/langs", command{kind: cmdLanguages}},
		{"/dance now", command{kind: cmdUnknown, text: "/dance"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCommand(tt.line))
		})
	}
}

func TestControllerConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	cc := controllerConfig(cfg)
	assert.Equal(t, "en", cc.CurrentLang)
	assert.Equal(t, "en", cc.TargetLang)
	assert.Equal(t, float64(175), cc.SpeakingRateWPM)
	assert.Nil(t, cc.Request.NeuralOnly)
	assert.Nil(t, cc.Request.SampleRateHz)
	assert.Nil(t, cc.Request.ReturnTranscript)

	cfg.Backend.Style = "cheerful"
	cfg.Backend.NeuralOnly = true
	cfg.Backend.SampleRateHz = 24000
	cfg.Backend.ReturnTranscript = true
	cc = controllerConfig(cfg)
	assert.Equal(t, "cheerful", cc.Request.Style)
	require.NotNil(t, cc.Request.NeuralOnly)
	assert.True(t, *cc.Request.NeuralOnly)
	require.NotNil(t, cc.Request.SampleRateHz)
	assert.Equal(t, 24000, *cc.Request.SampleRateHz)
	require.NotNil(t, cc.Request.ReturnTranscript)
	assert.True(t, *cc.Request.ReturnTranscript)
}

func TestLoadHead_FallbackReasons(t *testing.T) {
	cfg := config.DefaultConfig()
	m := metrics.New("test")
	b := bus.NewEventBus()

	events := make(chan bus.Event, 4)
	b.Subscribe(bus.EventTypeAssetFallback, func(e bus.Event) { events <- e })

	cfg.Avatar.FemaleModel = ""
	loaded := loadHead(cfg, b, m, zerolog.Nop())
	assert.Equal(t, fallbackNoModel, loaded.fallback)
	assert.Nil(t, loaded.framing)
	_, ok := loaded.head.(*proceduralHead)
	assert.True(t, ok)

	cfg.Avatar.FemaleModel = filepath.Join(t.TempDir(), "missing.glb")
	loaded = loadHead(cfg, b, m, zerolog.Nop())
	assert.Equal(t, fallbackLoadFailed, loaded.fallback)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverFallback.WithLabelValues(fallbackNoModel)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverFallback.WithLabelValues(fallbackLoadFailed)))

	select {
	case e := <-events:
		assert.Contains(t, []any{fallbackNoModel, fallbackLoadFailed}, e.Data["reason"])
	case <-time.After(2 * time.Second):
		t.Fatal("no fallback event")
	}
}

// writeFaceAsset saves a two-triangle face with viseme and blink targets.
func writeFaceAsset(t *testing.T, withTargets bool) string {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{-0.1, 1.5, 0}, {0.1, 1.5, 0}, {0, 1.7, 0}, {0, 1.4, 0}})
	idx := modeler.WriteIndices(doc, []uint16{0, 1, 2, 0, 3, 1})

	prim := &gltf.Primitive{
		Attributes: gltf.Attribute{gltf.POSITION: pos},
		Indices:    gltf.Index(idx),
	}
	mesh := &gltf.Mesh{Name: "Wolf3D_Head", Primitives: []*gltf.Primitive{prim}}
	if withTargets {
		open := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, -0.05, 0}})
		blink := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {0, 0, 0}, {0, -0.01, 0}, {0, 0, 0}})
		prim.Targets = []gltf.Attribute{{gltf.POSITION: open}, {gltf.POSITION: blink}}
		mesh.Extras = map[string]interface{}{"targetNames": []interface{}{"viseme_aa", "eyeBlinkLeft"}}
	}
	doc.Meshes = []*gltf.Mesh{mesh}
	doc.Nodes = []*gltf.Node{{Name: "Head", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = []int{0}

	path := filepath.Join(t.TempDir(), "face.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	return path
}

func TestLoadHead_BindsMorphMesh(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Avatar.FemaleModel = writeFaceAsset(t, true)
	cfg.Avatar.RandomSeed = 7
	m := metrics.New("test")

	loaded := loadHead(cfg, bus.NewEventBus(), m, zerolog.Nop())
	require.Empty(t, loaded.fallback)
	require.NotNil(t, loaded.framing)
	assert.InDelta(t, 0.42, loaded.framing.Distance, 1e-5)

	h, ok := loaded.head.(*morphHead)
	require.True(t, ok)

	h.frame(16*time.Millisecond, viseme.Sampled{Label: "AA", Mouth: 0.8}, false)
	w := h.model.Weights()
	require.Len(t, w, 2)
	assert.InDelta(t, 0.8, w[0], 1e-5)
	assert.Zero(t, w[1])
}

func TestLoadHead_NoMorphTargets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Avatar.FemaleModel = writeFaceAsset(t, false)
	m := metrics.New("test")

	loaded := loadHead(cfg, bus.NewEventBus(), m, zerolog.Nop())
	assert.Equal(t, fallbackNoMorphs, loaded.fallback)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolverFallback.WithLabelValues(fallbackNoMorphs)))
}

func TestProceduralHead_CapsDelta(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Avatar.FemaleModel = ""
	loaded := loadHead(cfg, bus.NewEventBus(), metrics.New("test"), zerolog.Nop())
	h := loaded.head.(*proceduralHead)

	h.frame(time.Hour, viseme.Sampled{Mouth: 1}, true)
	pose := h.head.Pose()
	assert.InDelta(t, 1.45, pose.MouthScaleY, 1e-5)
	assert.InDelta(t, -0.25, pose.MouthY, 1e-5)
}

func TestCommands_LocalSpeakAndStop(t *testing.T) {
	frames := playback.NewFrameLoop()
	clock := playback.NewClock(frames, nil, zerolog.Nop())
	ctrl := speak.NewController(nil, clock, controllerConfig(config.DefaultConfig()), bus.NewEventBus(), metrics.New("test"), zerolog.Nop())
	cmds := &commands{controller: ctrl, logger: zerolog.Nop()}
	ctx := context.Background()

	cmds.handle(ctx, parseCommand("hello world"))
	require.Eventually(t, func() bool { return ctrl.State() == speak.StatePlaying }, 2*time.Second, 5*time.Millisecond)

	cmds.handle(ctx, parseCommand("/stop"))
	assert.Equal(t, speak.StateIdle, ctrl.State())

	// Backend-only commands are refused in local mode without panicking.
	cmds.handle(ctx, parseCommand("/langs"))
	cmds.handle(ctx, parseCommand("/s3 only-bucket"))
}
