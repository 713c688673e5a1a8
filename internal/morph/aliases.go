// Package morph binds the canonical viseme labels to the blend-shape channels
// of an arbitrary head model.
//
// Vendors name their morph targets however they like, so binding is done by
// heuristics kept as plain data: an ordered alias list per label and a keyword
// set used to score candidate meshes. Supporting a new vendor means editing
// these tables, not the matching logic.
package morph

// LabelAliases lists the lowercase channel-name aliases for one label.
type LabelAliases struct {
	Label   string
	Aliases []string
}

// DefaultAliases is scanned in order; earlier labels claim channels first.
var DefaultAliases = []LabelAliases{
	{"AA", []string{"viseme_aa", "aa", "v_aa", "mouthopen", "jawopen"}},
	{"AE", []string{"viseme_ae", "ae"}},
	{"AH", []string{"viseme_ah", "ah"}},
	{"AO", []string{"viseme_ao", "ao"}},
	{"EH", []string{"viseme_eh", "eh", "ey", "e"}},
	{"ER", []string{"viseme_er", "er"}},
	{"IY", []string{"viseme_iy", "iy", "ee"}},
	{"UW", []string{"viseme_uw", "uw", "oo"}},
	{"OH", []string{"viseme_oh", "oh", "ou"}},
	{"FV", []string{"viseme_fv", "fv"}},
	{"L", []string{"viseme_l", "l"}},
	{"MBP", []string{"viseme_mbp", "mbp", "m", "b", "p", "shut"}},
	{"TH", []string{"viseme_th", "th"}},
	{"CH", []string{"viseme_ch", "ch", "jh", "sh"}},
	{"R", []string{"viseme_r", "r"}},
	{"S", []string{"viseme_s", "s", "z"}},
	{"T", []string{"viseme_t", "t", "d"}},
	{"K", []string{"viseme_k", "k", "g"}},
	{"BLINK", []string{"eyeblink", "blink", "blink_l", "blink_r", "eye_blink", "eyesblinking"}},
}

// DefaultKeywords are the channel-name tokens that make a mesh look like a face.
var DefaultKeywords = []string{"viseme", "mouth", "jaw", "aa", "mbp", "s", "t", "k", "iy", "uw"}

// DefaultFaceNames are mesh-name tokens worth a bonus when scoring.
var DefaultFaceNames = []string{"head", "face", "mouth", "jaw"}

// DefaultOpenFallback picks a channel for AA when no alias matched.
var DefaultOpenFallback = []string{"jaw", "open", "mouth"}

// DrivenFallbackOrder is tried when a sampled label has no channel of its own.
var DrivenFallbackOrder = []string{
	"AA", "AH", "AO", "IY", "UW", "OH", "AE", "EH", "ER",
	"MBP", "L", "TH", "CH", "R", "S", "T", "K",
}

// faceNameBonus is added once when a mesh name contains any face token.
const faceNameBonus = 2
