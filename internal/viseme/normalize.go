package viseme

import (
	"math"
	"strings"
)

type labelMouth struct {
	label string
	mouth float64
}

// shapeTable maps backend shape codes to a morph label and baseline intensity.
var shapeTable = map[string]labelMouth{
	"PP": {LabelMBP, 1.0},
	"DD": {LabelT, 0.85},
	"KK": {LabelK, 0.9},
	"SS": {LabelS, 0.85},
	"FV": {LabelFV, 0.8},
	"TH": {LabelTH, 0.8},
	"EE": {LabelIY, 0.8},
	"UW": {LabelUW, 0.8},
	"AO": {LabelAO, 0.85},
	"OH": {LabelOH, 0.85},
	"AE": {LabelAE, 0.8},
	"AH": {LabelAH, 0.85},
	"ER": {LabelER, 0.7},
	"AX": {LabelAA, 0.35},
}

// unknownShape is used for any code missing from shapeTable.
var unknownShape = labelMouth{LabelAA, 0.3}

// LookupShape resolves a backend shape code. Unknown codes resolve to a
// low-intensity open mouth and ok is false.
func LookupShape(shape string) (label string, mouth float64, ok bool) {
	lm, ok := shapeTable[strings.ToUpper(strings.TrimSpace(shape))]
	if !ok {
		lm = unknownShape
	}
	return lm.label, lm.mouth, ok
}

// FromBackend converts backend events into keyframes. Output times never
// regress: each is max(raw time, previous output time), floored at 0.
func FromBackend(events []RawEvent) []Keyframe {
	frames := make([]Keyframe, 0, len(events))
	var last float64
	for _, ev := range events {
		t := ev.TimeMs
		if math.IsNaN(t) || t < last {
			t = last
		}
		last = t

		label, mouth, _ := LookupShape(ev.Shape)
		frames = append(frames, Keyframe{T: t, Label: label, Mouth: mouth})
	}
	return frames
}
