// internal/renderer/camera.go
//
// Camera with perspective projection for avatar viewing
package renderer

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/speakavatar/internal/avatar3d"
)

const minZoomDistance = 0.1

// Camera represents a 3D camera
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	// Projection parameters
	FOV         float32
	AspectRatio float32
	NearPlane   float32
	FarPlane    float32

	viewMatrix       mgl32.Mat4
	projectionMatrix mgl32.Mat4
	dirty            bool
}

// NewCamera creates a new camera
func NewCamera(position, target, up mgl32.Vec3, fov, aspect, near, far float32) *Camera {
	c := &Camera{
		Position:    position,
		Target:      target,
		Up:          up,
		FOV:         fov,
		AspectRatio: aspect,
		NearPlane:   near,
		FarPlane:    far,
		dirty:       true,
	}
	c.updateMatrices()
	return c
}

// NewPortraitCamera looks at head height from just in front of the face.
// Assets that report bounds are reframed with ApplyFraming.
func NewPortraitCamera(aspect float32) *Camera {
	return NewCamera(
		mgl32.Vec3{0, 1.6, 1.1},
		mgl32.Vec3{0, 1.6, 0},
		mgl32.Vec3{0, 1, 0},
		35.0,
		aspect,
		0.01, 100.0,
	)
}

// ViewMatrix returns the view matrix
func (c *Camera) ViewMatrix() mgl32.Mat4 {
	if c.dirty {
		c.updateMatrices()
	}
	return c.viewMatrix
}

// ProjectionMatrix returns the projection matrix
func (c *Camera) ProjectionMatrix() mgl32.Mat4 {
	if c.dirty {
		c.updateMatrices()
	}
	return c.projectionMatrix
}

func (c *Camera) updateMatrices() {
	c.viewMatrix = mgl32.LookAtV(c.Position, c.Target, c.Up)
	c.projectionMatrix = mgl32.Perspective(
		mgl32.DegToRad(c.FOV),
		c.AspectRatio,
		c.NearPlane,
		c.FarPlane,
	)
	c.dirty = false
}

func (c *Camera) SetPosition(pos mgl32.Vec3) {
	c.Position = pos
	c.dirty = true
}

func (c *Camera) SetTarget(target mgl32.Vec3) {
	c.Target = target
	c.dirty = true
}

func (c *Camera) SetAspectRatio(aspect float32) {
	c.AspectRatio = aspect
	c.dirty = true
}

// ApplyFraming moves the camera to f's eye and aims it at f's target.
func (c *Camera) ApplyFraming(f avatar3d.Framing) {
	c.Position = f.Eye
	c.Target = f.Target
	c.dirty = true
}

// Zoom moves camera toward/away from target
func (c *Camera) Zoom(delta float32) {
	toTarget := c.Target.Sub(c.Position)
	dist := toTarget.Len()
	if dist == 0 {
		return
	}
	if dist-delta < minZoomDistance {
		delta = dist - minZoomDistance
	}
	c.Position = c.Position.Add(toTarget.Mul(delta / dist))
	c.dirty = true
}
