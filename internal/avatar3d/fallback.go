package avatar3d

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/speakavatar/internal/viseme"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender maps anything that is not "male" to female.
func ParseGender(s string) Gender {
	if strings.EqualFold(strings.TrimSpace(s), string(GenderMale)) {
		return GenderMale
	}
	return GenderFemale
}

// SkinColor is the fallback head tint for a gender.
func SkinColor(g Gender) mgl32.Vec3 {
	if g == GenderMale {
		return hexColor(0xf0c8a8)
	}
	return hexColor(0xf4d6bf)
}

var (
	HairColor  = hexColor(0x2b2b2b)
	EyeColor   = hexColor(0xffffff)
	PupilColor = hexColor(0x111111)
	NoseColor  = hexColor(0xe8b9a0)
	MouthColor = hexColor(0xb03030)
)

func hexColor(rgb uint32) mgl32.Vec3 {
	return mgl32.Vec3{
		float32((rgb>>16)&0xff) / 255,
		float32((rgb>>8)&0xff) / 255,
		float32(rgb&0xff) / 255,
	}
}

// FallbackHeadPosition is where the procedural head sits in the scene.
var FallbackHeadPosition = mgl32.Vec3{0, 1.6, 0}

// FallbackPose is the per-frame state of the procedural head.
type FallbackPose struct {
	// Group is the whole head's transform.
	Group       mgl32.Mat4
	EyeYaw      float32
	MouthScaleY float32
	MouthY      float32
}

// FallbackHead animates a procedural head for assets without morph targets:
// the whole head sways, the eyes drift and a torus mouth opens with the
// sampled mouth weight.
type FallbackHead struct {
	mu      sync.Mutex
	Gender  Gender
	elapsed float64
	group   mgl32.Mat4
	pose    FallbackPose
}

func NewFallbackHead(g Gender) *FallbackHead {
	group := mgl32.Translate3D(FallbackHeadPosition.X(), FallbackHeadPosition.Y(), FallbackHeadPosition.Z())
	return &FallbackHead{
		Gender: g,
		group:  group,
		pose:   FallbackPose{Group: group, MouthScaleY: 0.85, MouthY: -0.2},
	}
}

// Frame advances the head by dt and returns its pose. The group transform
// only moves while idle and otherwise holds its last value.
func (f *FallbackHead) Frame(dt time.Duration, s viseme.Sampled, idle bool) FallbackPose {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dt > 0 {
		f.elapsed += dt.Seconds()
	}
	t := f.elapsed

	if idle {
		ry := float32(0.06 * math.Sin(t*0.7))
		rx := float32(0.03 * math.Sin(t*0.9))
		py := float32(0.02 * math.Sin(t*1.2))
		f.group = mgl32.Translate3D(FallbackHeadPosition.X(), FallbackHeadPosition.Y()+py, FallbackHeadPosition.Z()).
			Mul4(mgl32.HomogRotate3DX(rx)).
			Mul4(mgl32.HomogRotate3DY(ry))
	}

	var eye float32
	if idle {
		eye = float32(0.05 * math.Sin(t*0.8))
	}

	w := clamp01(s.Mouth)
	f.pose = FallbackPose{
		Group:       f.group,
		EyeYaw:      eye,
		MouthScaleY: 0.85 + w*0.6,
		MouthY:      -0.2 - w*0.05,
	}
	return f.pose
}

// Pose returns the last computed pose.
func (f *FallbackHead) Pose() FallbackPose {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pose
}
