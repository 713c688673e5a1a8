package avatar3d

import "math"

// Weights is the influence array of one morph mesh, indexed by channel.
type Weights []float32

// NewWeights returns count zeroed channels. A negative count yields none.
func NewWeights(count int) Weights {
	if count < 0 {
		count = 0
	}
	return make(Weights, count)
}

// Set stores value clamped to [0,1]. Out-of-range indices are ignored.
func (w Weights) Set(idx int, value float32) {
	if idx < 0 || idx >= len(w) {
		return
	}
	w[idx] = clamp(value, 0, 1)
}

// Get returns the channel value, or 0 for an index outside the array.
func (w Weights) Get(idx int) float32 {
	if idx < 0 || idx >= len(w) {
		return 0
	}
	return w[idx]
}

// Max raises the channel to value if it is currently lower.
func (w Weights) Max(idx int, value float32) {
	if idx < 0 || idx >= len(w) {
		return
	}
	if v := clamp(value, 0, 1); v > w[idx] {
		w[idx] = v
	}
}

// Reset zeroes every channel in place.
func (w Weights) Reset() {
	for i := range w {
		w[i] = 0
	}
}

// Clone returns a copy safe to hand to another goroutine.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	copy(out, w)
	return out
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clamp01(v float64) float32 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return float32(v)
}
