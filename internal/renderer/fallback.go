package renderer

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/speakavatar/internal/avatar3d"
)

// Procedural head layout, in head-local units (head radius 1).
var (
	eyesOffset  = mgl32.Vec3{0, 0.15, 0.96}
	eyeSpacing  = float32(0.35)
	pupilOffset = mgl32.Vec3{0, 0, 0.08}
	noseOffset  = mgl32.Vec3{0, -0.05, 1}
	mouthZ      = float32(0.92)
)

// FallbackModel is the procedural head drawn when the asset has no usable
// morph mesh.
type FallbackModel struct {
	Head, Hair     *Part
	EyeL, EyeR     *Part
	PupilL, PupilR *Part
	Nose, Mouth    *Part
	parts          []*Part
}

// PlanFallback builds the head geometry for g without touching the GPU.
func PlanFallback(g avatar3d.Gender) *FallbackModel {
	eye := SphereGeometry(0.12, 24, 24)
	pupil := SphereGeometry(0.05, 16, 16)

	f := &FallbackModel{
		Head:   &Part{Name: "head", Geometry: SphereGeometry(1, 48, 48), Color: avatar3d.SkinColor(g)},
		Hair:   &Part{Name: "hair", Geometry: SphereGeometry(1.05, 48, 48), Color: avatar3d.HairColor},
		EyeL:   &Part{Name: "eye_l", Geometry: eye, Color: avatar3d.EyeColor},
		EyeR:   &Part{Name: "eye_r", Geometry: eye, Color: avatar3d.EyeColor},
		PupilL: &Part{Name: "pupil_l", Geometry: pupil, Color: avatar3d.PupilColor},
		PupilR: &Part{Name: "pupil_r", Geometry: pupil, Color: avatar3d.PupilColor},
		Nose:   &Part{Name: "nose", Geometry: ConeGeometry(0.08, 0.18, 20), Color: avatar3d.NoseColor},
		Mouth:  &Part{Name: "mouth", Geometry: TorusGeometry(0.18, 0.06, 24, 48), Color: avatar3d.MouthColor},
	}
	f.parts = []*Part{f.Head, f.Hair, f.EyeL, f.EyeR, f.PupilL, f.PupilR, f.Nose, f.Mouth}
	f.Apply(avatar3d.NewFallbackHead(g).Pose())
	return f
}

// Apply positions every part for pose.
func (f *FallbackModel) Apply(pose avatar3d.FallbackPose) {
	group := pose.Group
	eyes := group.Mul4(translate(eyesOffset))
	yaw := mgl32.HomogRotate3DY(pose.EyeYaw)

	f.Head.World = group
	f.Hair.World = group

	f.EyeL.World = eyes.Mul4(mgl32.Translate3D(-eyeSpacing, 0, 0)).Mul4(yaw)
	f.EyeR.World = eyes.Mul4(mgl32.Translate3D(eyeSpacing, 0, 0)).Mul4(yaw)
	f.PupilL.World = f.EyeL.World.Mul4(translate(pupilOffset))
	f.PupilR.World = f.EyeR.World.Mul4(translate(pupilOffset))

	f.Nose.World = group.Mul4(translate(noseOffset))
	f.Mouth.World = group.
		Mul4(mgl32.Translate3D(0, pose.MouthY, mouthZ)).
		Mul4(mgl32.HomogRotate3DX(math.Pi / 2)).
		Mul4(mgl32.Scale3D(1, pose.MouthScaleY, 1))
}

func (f *FallbackModel) Upload() {
	for _, p := range f.parts {
		p.Upload()
	}
}

func (f *FallbackModel) Draw(s *Shader) int {
	tris := 0
	for _, p := range f.parts {
		tris += p.draw(s, mgl32.Ident4())
	}
	return tris
}

// Delete frees GPU meshes. Eye and pupil parts share geometry but not meshes.
func (f *FallbackModel) Delete() {
	for _, p := range f.parts {
		p.delete()
	}
}

func translate(v mgl32.Vec3) mgl32.Mat4 {
	return mgl32.Translate3D(v.X(), v.Y(), v.Z())
}
