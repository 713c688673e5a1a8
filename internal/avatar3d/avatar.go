package avatar3d

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/speakavatar/internal/morph"
	"github.com/normanking/speakavatar/internal/viseme"
)

// Head is the drawable the avatar drives: a morph mesh plus its parent
// transform.
type Head interface {
	ApplyMorphWeights(weights []float32)
	SetTransform(m mgl32.Mat4)
}

// Avatar binds sampled visemes and the idle layer to one morph mesh.
type Avatar struct {
	mu sync.RWMutex

	channels morph.ChannelMap
	weights  Weights
	idle     *IdleLayer
	head     Head

	transform mgl32.Mat4
	maxDelta  time.Duration
}

// NewAvatar creates a binding for the resolved mesh. head may be nil when
// nothing is drawn (tests, headless streaming).
func NewAvatar(binding *morph.Binding, head Head, idle *IdleLayer) *Avatar {
	if idle == nil {
		idle = NewIdleLayer(nil)
	}
	a := &Avatar{
		idle:      idle,
		head:      head,
		transform: mgl32.Ident4(),
	}
	if binding != nil {
		a.channels = binding.Channels
		a.weights = NewWeights(binding.ChannelCount())
	}
	return a
}

// SetMaxDelta caps the frame delta fed to the idle layer, so a stalled
// window does not fire a burst of blinks. Zero disables the cap.
func (a *Avatar) SetMaxDelta(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxDelta = d
}

// Frame computes this frame's weights and transform and pushes them to the
// head. Order: all channels cleared, the sampled label driven, the blink
// laid over with max.
func (a *Avatar) Frame(dt time.Duration, s viseme.Sampled, idle bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxDelta > 0 && dt > a.maxDelta {
		dt = a.maxDelta
	}
	a.idle.Advance(dt)

	if idle {
		a.transform = a.idle.Sway()
	}

	a.weights.Reset()

	weight := clamp01(s.Mouth)
	if idx, ok := a.drivenChannel(s.Label); ok {
		a.weights.Set(idx, weight)
	}

	if idle || weight < BlinkMouthThreshold {
		blink := a.idle.Blink(float64(dt)/float64(time.Millisecond), true)
		if idx, ok := a.channels.Lookup(viseme.LabelBlink); ok {
			a.weights.Max(idx, float32(blink))
		}
	}

	if a.head != nil {
		a.head.ApplyMorphWeights(a.weights)
		a.head.SetTransform(a.transform)
	}
}

// drivenChannel is the channel for label, or the first bound label of the
// fallback order when label itself is unbound.
func (a *Avatar) drivenChannel(label string) (int, bool) {
	if label != "" {
		if idx, ok := a.channels.Lookup(label); ok {
			return idx, true
		}
	}
	for _, l := range morph.DrivenFallbackOrder {
		if idx, ok := a.channels.Lookup(l); ok {
			return idx, true
		}
	}
	return -1, false
}

// Weights returns a copy of the last computed weights.
func (a *Avatar) Weights() Weights {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.weights.Clone()
}

// Transform returns the last head transform.
func (a *Avatar) Transform() mgl32.Mat4 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transform
}

// Idle exposes the idle layer.
func (a *Avatar) Idle() *IdleLayer {
	return a.idle
}
