package viseme

import "sort"

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Sample returns the interpolated mouth/smile values at playheadMs.
//
// Before the first keyframe the first keyframe is returned verbatim, after the
// last one the last keyframe. In between, values blend linearly while the
// label switches from the earlier to the later keyframe at the midpoint.
func Sample(frames []Keyframe, playheadMs float64) Sampled {
	if len(frames) == 0 {
		return Sampled{}
	}

	first := frames[0]
	if playheadMs <= first.T {
		return Sampled{Mouth: first.Mouth, Smile: first.Smile, Label: first.Label}
	}
	last := frames[len(frames)-1]
	if playheadMs >= last.T {
		return Sampled{Mouth: last.Mouth, Smile: last.Smile, Label: last.Label}
	}

	// First keyframe strictly after the playhead; its predecessor brackets it.
	i := sort.Search(len(frames), func(i int) bool { return frames[i].T > playheadMs })
	a, b := frames[i-1], frames[i]

	span := b.T - a.T
	if span < 1 {
		span = 1
	}
	frac := (playheadMs - a.T) / span

	label := a.Label
	if frac >= 0.5 {
		label = b.Label
	}
	return Sampled{
		Mouth: lerp(a.Mouth, b.Mouth, frac),
		Smile: lerp(a.Smile, b.Smile, frac),
		Label: label,
	}
}
