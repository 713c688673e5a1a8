package avatar3d

import (
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/speakavatar/internal/morph"
	"github.com/normanking/speakavatar/internal/viseme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHead struct {
	weights   []float32
	transform mgl32.Mat4
	frames    int
}

func (h *recordingHead) ApplyMorphWeights(w []float32) {
	h.weights = append(h.weights[:0], w...)
	h.frames++
}

func (h *recordingHead) SetTransform(m mgl32.Mat4) { h.transform = m }

func testBinding(channels ...string) *morph.Binding {
	b, ok := morph.Resolve([]morph.MeshCandidate{{Name: "Head", Channels: channels}}, "")
	if !ok {
		panic("no binding")
	}
	return b
}

const frameDt = 16 * time.Millisecond

func TestIdleLayer_BlinkCadence(t *testing.T) {
	const seed = 42
	expect := rand.New(rand.NewSource(seed))
	firstAt := firstBlinkMinMs + expect.Float64()*firstBlinkSpanMs

	layer := NewIdleLayer(rand.New(rand.NewSource(seed)))
	assert.InDelta(t, firstAt, layer.State().NextBlinkAtMs, 1e-9)

	elapsed := 0.0
	for !layer.State().Blinking {
		v := layer.Blink(16, true)
		elapsed += 16
		if layer.State().Blinking {
			assert.InDelta(t, 0.384, v, 1e-9)
			break
		}
		assert.Equal(t, 0.0, v)
		require.Less(t, elapsed, 10000.0)
	}
	assert.GreaterOrEqual(t, elapsed, firstAt)
	assert.Less(t, elapsed, firstAt+16)

	// 12 phase units per second at 16ms per frame: six frames per blink.
	want := []float64{0.768, 0.848, 0.464, 0.08, 0}
	for _, w := range want {
		assert.InDelta(t, w, layer.Blink(16, true), 1e-9)
	}
	st := layer.State()
	assert.False(t, st.Blinking)
	assert.Equal(t, 0.0, st.BlinkPhase)

	next := blinkMinMs + expect.Float64()*blinkSpanMs
	assert.InDelta(t, next, st.NextBlinkAtMs, 1e-9)
	assert.GreaterOrEqual(t, st.NextBlinkAtMs, 2000.0)
	assert.Less(t, st.NextBlinkAtMs, 6000.0)
}

func TestIdleLayer_IntervalsStayInRange(t *testing.T) {
	layer := NewIdleLayer(rand.New(rand.NewSource(3)))

	lastStart := 0.0
	now := 0.0
	blinks := 0
	wasBlinking := false
	for now < 120000 {
		layer.Blink(10, true)
		now += 10
		st := layer.State()
		if st.Blinking && !wasBlinking {
			if blinks > 0 {
				gap := now - lastStart
				assert.GreaterOrEqual(t, gap, 2000.0)
				assert.Less(t, gap, 6000.0+200)
			}
			lastStart = now
			blinks++
		}
		wasBlinking = st.Blinking
	}
	assert.Greater(t, blinks, 15)
}

func TestIdleLayer_InactiveDoesNotAdvance(t *testing.T) {
	layer := NewIdleLayer(rand.New(rand.NewSource(1)))
	for i := 0; i < 1000; i++ {
		assert.Equal(t, 0.0, layer.Blink(16, false))
	}
	assert.Equal(t, 0.0, layer.State().AccumMs)
}

func TestSwayAt(t *testing.T) {
	assert.True(t, SwayAt(0).ApproxEqual(mgl32.Ident4()))

	m := SwayAt(1)
	p := mgl32.TransformCoordinate(mgl32.Vec3{0, 0, 0}, m)
	assert.InDelta(t, 0.005*0.8414709848, p.Y(), 1e-6)
}

func TestAvatar_DrivesLabelChannel(t *testing.T) {
	head := &recordingHead{}
	// "viseme_*" names all contain "m", so plain names keep MBP off channel 0.
	a := NewAvatar(testBinding("aa", "PP", "blink"), head, NewIdleLayer(rand.New(rand.NewSource(1))))

	a.Frame(frameDt, viseme.Sampled{Mouth: 0.9, Label: viseme.LabelMBP}, false)

	require.Len(t, head.weights, 3)
	assert.Equal(t, float32(0), head.weights[0])
	assert.InDelta(t, 0.9, head.weights[1], 1e-6)
	assert.Equal(t, float32(0), head.weights[2])

	// Next frame clears the previous label.
	a.Frame(frameDt, viseme.Sampled{Mouth: 0.5, Label: viseme.LabelAA}, false)
	assert.InDelta(t, 0.5, head.weights[0], 1e-6)
	assert.Equal(t, float32(0), head.weights[1])
}

func TestAvatar_FallbackOrderForUnboundLabel(t *testing.T) {
	head := &recordingHead{}
	a := NewAvatar(testBinding("mouthOpen", "eyeBlinkLeft"), head, NewIdleLayer(rand.New(rand.NewSource(1))))

	a.Frame(frameDt, viseme.Sampled{Mouth: 0.7, Label: viseme.LabelR}, false)
	assert.InDelta(t, 0.7, head.weights[0], 1e-6)

	a.Frame(frameDt, viseme.Sampled{Mouth: 1.4, Label: ""}, false)
	assert.Equal(t, float32(1), head.weights[0])
}

func TestAvatar_BlinkOverlaysWithMax(t *testing.T) {
	head := &recordingHead{}
	idle := NewIdleLayer(rand.New(rand.NewSource(9)))
	a := NewAvatar(testBinding("mouthOpen", "eyeBlinkLeft"), head, idle)

	sawBlink := false
	for i := 0; i < 600; i++ {
		a.Frame(frameDt, viseme.Sampled{}, true)
		if head.weights[1] > 0 {
			sawBlink = true
			break
		}
	}
	assert.True(t, sawBlink)
	assert.Equal(t, float32(0), head.weights[0])
}

func TestAvatar_NoBlinkWhileMouthOpen(t *testing.T) {
	head := &recordingHead{}
	idle := NewIdleLayer(rand.New(rand.NewSource(9)))
	a := NewAvatar(testBinding("mouthOpen", "eyeBlinkLeft"), head, idle)

	for i := 0; i < 600; i++ {
		a.Frame(frameDt, viseme.Sampled{Mouth: 0.6, Label: viseme.LabelAA}, false)
		assert.Equal(t, float32(0), head.weights[1])
	}
	assert.Equal(t, 0.0, idle.State().AccumMs)
}

func TestAvatar_SwayOnlyWhileIdle(t *testing.T) {
	head := &recordingHead{}
	a := NewAvatar(testBinding("mouthOpen"), head, nil)

	a.Frame(500*time.Millisecond, viseme.Sampled{}, true)
	swayed := head.transform
	assert.False(t, swayed.ApproxEqual(mgl32.Ident4()))

	a.Frame(500*time.Millisecond, viseme.Sampled{Mouth: 0.5}, false)
	assert.Equal(t, swayed, head.transform)
	assert.Equal(t, swayed, a.Transform())
}

func TestAvatar_MaxDelta(t *testing.T) {
	idle := NewIdleLayer(rand.New(rand.NewSource(1)))
	a := NewAvatar(testBinding("mouthOpen", "eyeBlinkLeft"), nil, idle)
	a.SetMaxDelta(50 * time.Millisecond)

	a.Frame(10*time.Second, viseme.Sampled{}, true)
	assert.InDelta(t, 50.0, idle.State().AccumMs, 1e-9)
	assert.InDelta(t, 0.05, idle.State().ElapsedS, 1e-9)
}

func TestAvatar_NilBinding(t *testing.T) {
	a := NewAvatar(nil, nil, nil)
	require.NotPanics(t, func() {
		a.Frame(frameDt, viseme.Sampled{Mouth: 1, Label: viseme.LabelAA}, true)
	})
	assert.Empty(t, a.Weights())
}

func TestWeights(t *testing.T) {
	w := NewWeights(2)
	w.Set(0, 1.5)
	w.Set(5, 1)
	w.Max(1, 0.3)
	w.Max(1, 0.1)

	assert.Equal(t, Weights{1, 0.3}, w)
	assert.Equal(t, float32(0), w.Get(-1))
	assert.Equal(t, float32(0), w.Get(2))
	assert.Equal(t, float32(0.3), w.Get(1))
	assert.Empty(t, NewWeights(-3))

	c := w.Clone()
	w.Reset()
	assert.Equal(t, Weights{0, 0}, w)
	assert.Equal(t, Weights{1, 0.3}, c)
}

func TestFrameFace(t *testing.T) {
	f := FrameFace(morph.Bounds{Min: mgl32.Vec3{-0.3, 0, -0.2}, Max: mgl32.Vec3{0.3, 1.8, 0.2}})

	assert.InDelta(t, 1.8-1.8*0.12, f.Target.Y(), 1e-5)
	assert.InDelta(t, 0.0, f.Target.X(), 1e-6)
	assert.InDelta(t, 1.8*0.46, f.Distance, 1e-5)
	assert.InDelta(t, f.Target.Z()+f.Distance, f.Eye.Z(), 1e-5)

	small := FrameFace(morph.Bounds{Max: mgl32.Vec3{0.2, 0.3, 0.2}})
	assert.InDelta(t, 0.42, small.Distance, 1e-6)
}

func TestFallbackHead(t *testing.T) {
	h := NewFallbackHead(ParseGender("MALE"))
	assert.Equal(t, GenderMale, h.Gender)
	assert.Equal(t, GenderFemale, ParseGender("other"))

	pose := h.Frame(time.Second, viseme.Sampled{Mouth: 0.5}, false)
	assert.InDelta(t, 1.15, pose.MouthScaleY, 1e-6)
	assert.InDelta(t, -0.225, pose.MouthY, 1e-6)
	assert.Equal(t, float32(0), pose.EyeYaw)

	rest := mgl32.TransformCoordinate(mgl32.Vec3{}, pose.Group)
	assert.InDelta(t, 1.6, rest.Y(), 1e-6)

	pose = h.Frame(time.Second, viseme.Sampled{Mouth: 2}, true)
	assert.InDelta(t, 1.45, pose.MouthScaleY, 1e-6)
	assert.InDelta(t, 0.05*0.9995736030, pose.EyeYaw, 1e-5)
	assert.Equal(t, pose, h.Pose())
}

func TestSkinColor(t *testing.T) {
	m := SkinColor(GenderMale)
	assert.InDelta(t, 240.0/255, m.X(), 1e-6)
	assert.NotEqual(t, m, SkinColor(GenderFemale))
}
