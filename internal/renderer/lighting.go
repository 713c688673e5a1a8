// internal/renderer/lighting.go
//
// Light definitions for the avatar viewer
package renderer

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxLights matches the array size in the basic shader.
const MaxLights = 4

// LightType defines the type of light source
type LightType int

const (
	LightTypePoint LightType = iota
	LightTypeDirectional
)

// Light represents a light source. Directional lights shine from Position
// toward the origin.
type Light struct {
	Type      LightType
	Position  mgl32.Vec3
	Color     mgl32.Vec3
	Intensity float32
}

// Direction is the unit vector the light travels along.
func (l Light) Direction() mgl32.Vec3 {
	if l.Position.Len() == 0 {
		return mgl32.Vec3{0, -1, 0}
	}
	return l.Position.Mul(-1).Normalize()
}

// LightingRig represents a collection of lights for a scene
type LightingRig struct {
	Lights           []Light
	AmbientColor     mgl32.Vec3
	AmbientIntensity float32
}

// NewAvatarLighting is the viewer's default: a soft ambient term, a key
// light from upper right and a dim fill from lower left.
func NewAvatarLighting() *LightingRig {
	white := mgl32.Vec3{1, 1, 1}
	return &LightingRig{
		Lights: []Light{
			{Type: LightTypeDirectional, Position: mgl32.Vec3{3, 4, 2}, Color: white, Intensity: 1.0},
			{Type: LightTypeDirectional, Position: mgl32.Vec3{-3, -2, 2}, Color: white, Intensity: 0.35},
		},
		AmbientColor:     white,
		AmbientIntensity: 0.55,
	}
}

// Ambient is the ambient term premultiplied by its intensity.
func (rig *LightingRig) Ambient() mgl32.Vec3 {
	return rig.AmbientColor.Mul(rig.AmbientIntensity)
}

// SetLightUniforms sets light uniforms on a shader
func (rig *LightingRig) SetLightUniforms(s *Shader) {
	n := len(rig.Lights)
	if n > MaxLights {
		n = MaxLights
	}
	for i, light := range rig.Lights[:n] {
		prefix := fmt.Sprintf("uLights[%d].", i)
		s.SetVec3(prefix+"position", light.Position)
		s.SetVec3(prefix+"direction", light.Direction())
		s.SetVec3(prefix+"color", light.Color)
		s.SetFloat(prefix+"intensity", light.Intensity)
		s.SetInt(prefix+"type", int32(light.Type))
	}
	s.SetInt("uLightCount", int32(n))
	s.SetVec3("uAmbientColor", rig.Ambient())
}
