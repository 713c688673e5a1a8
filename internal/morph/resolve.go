package morph

import (
	"errors"
	"sort"
	"strings"
)

// ErrNoMorphTargets is returned when an asset has no mesh with blend shapes.
var ErrNoMorphTargets = errors.New("asset exposes no morph targets")

// MeshCandidate is a mesh that carries blend-shape channels. Channels holds the
// channel names in weight-array order.
type MeshCandidate struct {
	Name      string
	Channels  []string
	NodeIndex int
	MeshIndex int
}

// ChannelMap maps canonical labels to channel indices. It is immutable once
// built; the zero value maps nothing.
type ChannelMap struct {
	m map[string]int
}

// NewChannelMap copies m into a ChannelMap.
func NewChannelMap(m map[string]int) ChannelMap {
	cp := make(map[string]int, len(m))
	for k, v := range m {
		if v >= 0 {
			cp[k] = v
		}
	}
	return ChannelMap{m: cp}
}

// Lookup returns the channel index bound to label.
func (c ChannelMap) Lookup(label string) (int, bool) {
	idx, ok := c.m[label]
	return idx, ok
}

// Len returns the number of bound labels.
func (c ChannelMap) Len() int {
	return len(c.m)
}

// Labels returns the bound labels in sorted order.
func (c ChannelMap) Labels() []string {
	out := make([]string, 0, len(c.m))
	for k := range c.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Binding is the result of resolving an asset: the chosen mesh and its map.
type Binding struct {
	Mesh     MeshCandidate
	Channels ChannelMap
	// Score is the heuristic score of the chosen mesh, or -1 when it was
	// picked by name hint.
	Score int
}

// ChannelCount is the length of the chosen mesh's weight array.
func (b *Binding) ChannelCount() int {
	return len(b.Mesh.Channels)
}

// Resolver holds the heuristic tables. The zero value is not usable; use
// NewResolver or fill every field.
type Resolver struct {
	Aliases      []LabelAliases
	Keywords     []string
	FaceNames    []string
	OpenFallback []string
}

// NewResolver returns a resolver over the default tables.
func NewResolver() *Resolver {
	return &Resolver{
		Aliases:      DefaultAliases,
		Keywords:     DefaultKeywords,
		FaceNames:    DefaultFaceNames,
		OpenFallback: DefaultOpenFallback,
	}
}

// Resolve picks the face mesh among candidates and builds its channel map.
// It returns false when no candidate has any channels.
func Resolve(candidates []MeshCandidate, hint string) (*Binding, bool) {
	return NewResolver().Resolve(candidates, hint)
}

// BuildChannelMap binds labels to channel names using the default tables.
func BuildChannelMap(channels []string) ChannelMap {
	return NewResolver().BuildChannelMap(channels)
}

// ScoreMesh scores a mesh using the default tables.
func ScoreMesh(m MeshCandidate) int {
	return NewResolver().ScoreMesh(m)
}

// Resolve picks the face mesh among candidates and builds its channel map.
func (r *Resolver) Resolve(candidates []MeshCandidate, hint string) (*Binding, bool) {
	usable := make([]MeshCandidate, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Channels) > 0 {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, false
	}

	if hint != "" {
		h := strings.ToLower(hint)
		for _, c := range usable {
			if c.Name == hint || strings.Contains(strings.ToLower(c.Name), h) {
				return &Binding{Mesh: c, Channels: r.BuildChannelMap(c.Channels), Score: -1}, true
			}
		}
	}

	best, bestScore := 0, r.ScoreMesh(usable[0])
	for i := 1; i < len(usable); i++ {
		if s := r.ScoreMesh(usable[i]); s > bestScore {
			best, bestScore = i, s
		}
	}

	chosen := usable[best]
	return &Binding{Mesh: chosen, Channels: r.BuildChannelMap(chosen.Channels), Score: bestScore}, true
}

// ScoreMesh rates how likely a mesh is to be the talking face.
func (r *Resolver) ScoreMesh(m MeshCandidate) int {
	score := 0
	name := strings.ToLower(m.Name)
	if containsAny(name, r.FaceNames) {
		score += faceNameBonus
	}

	keys := lowerAll(m.Channels)
	for _, token := range r.Keywords {
		for _, k := range keys {
			if strings.Contains(k, token) {
				score++
				break
			}
		}
	}
	return score
}

// BuildChannelMap binds every label it can to a channel index. Labels
// without a match are left out.
func (r *Resolver) BuildChannelMap(channels []string) ChannelMap {
	keys := lowerAll(channels)
	out := make(map[string]int, len(r.Aliases))

	for _, la := range r.Aliases {
		if idx, ok := matchAliases(keys, la.Aliases); ok {
			out[la.Label] = idx
		}
	}

	if _, ok := out["AA"]; !ok {
		for i, k := range keys {
			if containsAny(k, r.OpenFallback) {
				out["AA"] = i
				break
			}
		}
	}

	return ChannelMap{m: out}
}

// matchAliases returns the first channel matching any alias, channels in
// order and aliases in order within each channel.
func matchAliases(keys, aliases []string) (int, bool) {
	for i, k := range keys {
		for _, a := range aliases {
			if k == a || strings.HasSuffix(k, "."+a) || strings.Contains(k, a) {
				return i, true
			}
		}
	}
	return -1, false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
