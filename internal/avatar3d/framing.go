package avatar3d

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/speakavatar/internal/morph"
)

const (
	headFromTop     = 0.12
	faceDistance    = 0.46
	minFaceDistance = 0.42
)

// Framing is a camera placement looking straight at the face.
type Framing struct {
	Eye      mgl32.Vec3
	Target   mgl32.Vec3
	Distance float32
}

// View returns the look-at matrix for the framing.
func (f Framing) View() mgl32.Mat4 {
	return mgl32.LookAtV(f.Eye, f.Target, mgl32.Vec3{0, 1, 0})
}

// FrameFace places the camera in front of the top of the model, where the
// head of a standing figure sits, at a distance that fills the view.
func FrameFace(b morph.Bounds) Framing {
	size := b.Size()
	center := b.Center()

	target := mgl32.Vec3{center.X(), b.Max.Y() - size.Y()*headFromTop, center.Z()}
	dist := size.Y() * faceDistance
	if dist < minFaceDistance {
		dist = minFaceDistance
	}

	return Framing{
		Eye:      target.Add(mgl32.Vec3{0, 0, dist}),
		Target:   target,
		Distance: dist,
	}
}
