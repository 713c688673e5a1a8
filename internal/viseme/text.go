package viseme

import (
	"math"
	"regexp"
	"strings"
)

// DefaultSpeakingRate is the assumed speaking rate in words per minute.
const DefaultSpeakingRate = 175

const (
	minTextStepMs   = 70
	articulationGap = 20
	restMouth       = 0.05
	emptyTimelineMs = 400
)

var tokenPattern = regexp.MustCompile(`[A-Za-z']+|[.,!?;:]+|\s+`)

// textClass is one entry of the letter-class priority list used by FromText.
type textClass struct {
	pattern *regexp.Regexp
	label   string
	mouth   float64
}

// textClasses is checked top to bottom; the first match wins.
var textClasses = []textClass{
	{regexp.MustCompile(`^\s+$`), LabelRest, 0.0},
	{regexp.MustCompile(`[,.!?;:]`), LabelMBP, 0.1},
	{regexp.MustCompile(`[pbm]`), LabelMBP, 0.2},
	{regexp.MustCompile(`[fv]`), LabelFV, 0.6},
	{regexp.MustCompile(`l`), LabelL, 0.55},
	{regexp.MustCompile(`[iy]`), LabelIY, 0.7},
	{regexp.MustCompile(`[uwo]`), LabelUW, 0.75},
	{regexp.MustCompile(`a`), LabelAA, 0.85},
	{regexp.MustCompile(`e`), LabelEH, 0.65},
	{regexp.MustCompile(`[tcdkgrszh]`), LabelT, 0.45},
}

var defaultTextClass = labelMouth{LabelAA, 0.5}

// EstimateDuration estimates speech duration in ms for text spoken at wpm
// words per minute. At least one word is assumed.
func EstimateDuration(text string, wpm float64) float64 {
	if wpm <= 0 {
		wpm = DefaultSpeakingRate
	}
	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}
	return math.Ceil(float64(words) / wpm * 60000)
}

// classifyToken picks the label and intensity for one text run.
func classifyToken(tok string) labelMouth {
	s := strings.ToLower(tok)
	for _, c := range textClasses {
		if c.pattern.MatchString(s) {
			return labelMouth{c.label, c.mouth}
		}
	}
	return defaultTextClass
}

// FromText builds a rough timeline from text when no backend timeline exists.
// Every driven keyframe is followed by a near-closed rest keyframe so the
// mouth articulates between runs.
func FromText(text string, totalMs float64) []Keyframe {
	if strings.TrimSpace(text) == "" {
		return []Keyframe{
			{T: 0, Label: LabelRest, Mouth: 0},
			{T: emptyTimelineMs, Label: LabelRest, Mouth: 0},
		}
	}

	tokens := tokenPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	classes := make([]labelMouth, len(tokens))
	for i, tok := range tokens {
		classes[i] = classifyToken(tok)
	}

	step := math.Floor(totalMs / math.Max(2, float64(len(classes))*1.2))
	if step < minTextStepMs {
		step = minTextStepMs
	}

	frames := make([]Keyframe, 0, len(classes)*2+1)
	var t float64
	for _, c := range classes {
		frames = append(frames, Keyframe{T: t, Label: c.label, Mouth: c.mouth})
		t += step
		frames = append(frames, Keyframe{T: t, Label: LabelRest, Mouth: restMouth})
		t += articulationGap
	}

	end := totalMs
	if last := frames[len(frames)-1].T; end < last {
		end = last
	}
	frames = append(frames, Keyframe{T: end, Label: LabelRest, Mouth: 0})
	return frames
}
