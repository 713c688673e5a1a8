// Package viseme turns backend viseme events (or plain text, in local demo
// mode) into an animation timeline and samples that timeline at a playhead.
package viseme

// RawEvent is one viseme event as returned by the speak endpoints.
type RawEvent struct {
	TimeMs float64 `json:"time_ms"` // ms since start of utterance
	Shape  string  `json:"shape"`   // e.g. "AA", "PP", "SS", "UW", "AX"
}

// RawVisemeLabel is the alternate backend encoding carried in visemes_raw.
type RawVisemeLabel struct {
	TimeMs float64 `json:"time_ms"`
	Viseme string  `json:"viseme"`
}

// Keyframe is one interpolation anchor on the canonical timeline.
type Keyframe struct {
	T     float64 `json:"t"`               // ms since start, non-decreasing
	Label string  `json:"label,omitempty"` // morph label (AA, MBP, S, T, K, IY, UW, ...)
	Mouth float64 `json:"mouth"`           // 0..1
	Smile float64 `json:"smile,omitempty"` // 0..1, reserved
}

// Sampled is the instantaneous value of a timeline at one playhead position.
type Sampled struct {
	Mouth float64 `json:"mouth"`
	Smile float64 `json:"smile"`
	Label string  `json:"label,omitempty"`
}

// Canonical morph labels.
const (
	LabelAA    = "AA"
	LabelAE    = "AE"
	LabelAH    = "AH"
	LabelAO    = "AO"
	LabelEH    = "EH"
	LabelER    = "ER"
	LabelIY    = "IY"
	LabelUW    = "UW"
	LabelOH    = "OH"
	LabelFV    = "FV"
	LabelL     = "L"
	LabelMBP   = "MBP"
	LabelTH    = "TH"
	LabelCH    = "CH"
	LabelR     = "R"
	LabelS     = "S"
	LabelT     = "T"
	LabelK     = "K"
	LabelBlink = "BLINK"
	LabelRest  = "rest"
)

// Duration returns the time of the last keyframe, or 0 for an empty timeline.
func Duration(frames []Keyframe) float64 {
	if len(frames) == 0 {
		return 0
	}
	return frames[len(frames)-1].T
}
