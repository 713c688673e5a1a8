package avatar3d

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// blinkRate is how fast the blink phase runs, in phase units per second.
	blinkRate = 12.0

	firstBlinkMinMs  = 2000
	firstBlinkSpanMs = 3000
	blinkMinMs       = 2000
	blinkSpanMs      = 4000

	// BlinkMouthThreshold is the driven mouth weight below which blinking
	// continues while speaking.
	BlinkMouthThreshold = 0.2
)

// IdlePhaseState is the idle layer's state between frames.
type IdlePhaseState struct {
	AccumMs       float64
	NextBlinkAtMs float64
	Blinking      bool
	BlinkPhase    float64
	ElapsedS      float64
}

// IdleLayer adds blinking and a gentle head sway on top of the driven
// weights. All randomness comes from the injected source.
type IdleLayer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	state IdlePhaseState
}

// NewIdleLayer creates a layer; a nil rng seeds one from the wall clock.
func NewIdleLayer(rng *rand.Rand) *IdleLayer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	l := &IdleLayer{rng: rng}
	l.state.NextBlinkAtMs = firstBlinkMinMs + rng.Float64()*firstBlinkSpanMs
	return l
}

// Blink advances the blink timer by dtMs when active and returns the blink
// weight for this frame (0 when not blinking or not active).
func (l *IdleLayer) Blink(dtMs float64, active bool) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !active || dtMs < 0 {
		return 0
	}

	s := &l.state
	s.AccumMs += dtMs
	if !s.Blinking && s.AccumMs >= s.NextBlinkAtMs {
		s.Blinking = true
		s.AccumMs = 0
		s.NextBlinkAtMs = blinkMinMs + l.rng.Float64()*blinkSpanMs
		s.BlinkPhase = 0
	}
	if !s.Blinking {
		return 0
	}

	s.BlinkPhase += dtMs / 1000 * blinkRate
	v := triangle(s.BlinkPhase)
	if s.BlinkPhase >= 1 {
		s.Blinking = false
		s.BlinkPhase = 0
	}
	return v
}

// Advance moves the sway clock forward.
func (l *IdleLayer) Advance(dt time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if dt > 0 {
		l.state.ElapsedS += dt.Seconds()
	}
}

// Sway returns the idle head transform at the current sway time.
func (l *IdleLayer) Sway() mgl32.Mat4 {
	l.mu.Lock()
	t := l.state.ElapsedS
	l.mu.Unlock()
	return SwayAt(t)
}

// State returns a copy of the current phase state.
func (l *IdleLayer) State() IdlePhaseState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SwayAt is the idle head transform t seconds after start.
func SwayAt(t float64) mgl32.Mat4 {
	rx := float32(0.012 * math.Sin(0.9*t))
	ry := float32(0.025 * math.Sin(0.7*t))
	py := float32(0.005 * math.Sin(t))

	return mgl32.Translate3D(0, py, 0).
		Mul4(mgl32.HomogRotate3DX(rx)).
		Mul4(mgl32.HomogRotate3DY(ry))
}

func triangle(p float64) float64 {
	var v float64
	if p <= 0.5 {
		v = p * 2
	} else {
		v = 1 - (p-0.5)*2
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
