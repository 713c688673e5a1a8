package renderer

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// floatsPerVertex is position(3) + normal(3) + color(3).
const floatsPerVertex = 9

// minMorphWeight skips targets whose contribution is invisible.
const minMorphWeight = 0.001

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
}

// MorphTarget holds per-vertex deltas for one morph channel.
type MorphTarget struct {
	Name           string
	PositionDeltas []mgl32.Vec3
	NormalDeltas   []mgl32.Vec3
}

// Geometry is the CPU side of a mesh: base vertices, indices and morph
// targets in channel order.
type Geometry struct {
	Vertices []Vertex
	Indices  []uint32
	Targets  []MorphTarget
}

// Blend writes base + sum(weight_i * delta_i) into positions and normals,
// which must be len(Vertices) long.
func (g *Geometry) Blend(weights []float32, positions, normals []mgl32.Vec3) {
	for i, v := range g.Vertices {
		positions[i] = v.Position
		normals[i] = v.Normal
	}

	for ti, target := range g.Targets {
		if ti >= len(weights) {
			break
		}
		w := weights[ti]
		if w < minMorphWeight {
			continue
		}
		for vi, d := range target.PositionDeltas {
			if vi < len(positions) {
				positions[vi] = positions[vi].Add(d.Mul(w))
			}
		}
		for vi, d := range target.NormalDeltas {
			if vi < len(normals) {
				normals[vi] = normals[vi].Add(d.Mul(w))
			}
		}
	}
}

// interleave packs vertices for the basic shader's attribute layout.
func interleave(positions, normals []mgl32.Vec3, color mgl32.Vec3, out []float32) []float32 {
	out = out[:0]
	for i := range positions {
		p, n := positions[i], normals[i]
		out = append(out, p[0], p[1], p[2], n[0], n[1], n[2], color[0], color[1], color[2])
	}
	return out
}

// GeometryFromMesh reads every triangle primitive of mesh into one geometry.
// Primitive vertices are concatenated; morph target i of each primitive
// contributes to channel i.
func GeometryFromMesh(doc *gltf.Document, mesh *gltf.Mesh) (*Geometry, error) {
	g := &Geometry{}
	channels := 0
	for _, prim := range mesh.Primitives {
		if len(prim.Targets) > channels {
			channels = len(prim.Targets)
		}
	}
	g.Targets = make([]MorphTarget, channels)
	for i := range g.Targets {
		g.Targets[i].Name = fmt.Sprintf("target_%d", i)
	}

	for pi, prim := range mesh.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			continue
		}
		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok {
			continue
		}

		positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
		if err != nil {
			return nil, fmt.Errorf("primitive %d positions: %w", pi, err)
		}

		var normals [][3]float32
		if nIdx, ok := prim.Attributes[gltf.NORMAL]; ok {
			normals, err = modeler.ReadNormal(doc, doc.Accessors[nIdx], nil)
			if err != nil {
				return nil, fmt.Errorf("primitive %d normals: %w", pi, err)
			}
		}

		base := uint32(len(g.Vertices))
		for i, p := range positions {
			v := Vertex{Position: mgl32.Vec3(p), Normal: mgl32.Vec3{0, 0, 1}}
			if i < len(normals) {
				v.Normal = mgl32.Vec3(normals[i])
			}
			g.Vertices = append(g.Vertices, v)
		}

		if prim.Indices != nil {
			indices, err := modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
			if err != nil {
				return nil, fmt.Errorf("primitive %d indices: %w", pi, err)
			}
			for _, idx := range indices {
				g.Indices = append(g.Indices, base+idx)
			}
		} else {
			for i := range positions {
				g.Indices = append(g.Indices, base+uint32(i))
			}
		}

		for ti := range g.Targets {
			deltas := make([]mgl32.Vec3, len(positions))
			var normalDeltas []mgl32.Vec3
			if ti < len(prim.Targets) {
				target := prim.Targets[ti]
				if idx, ok := target[gltf.POSITION]; ok {
					d, err := modeler.ReadPosition(doc, doc.Accessors[idx], nil)
					if err != nil {
						return nil, fmt.Errorf("primitive %d target %d: %w", pi, ti, err)
					}
					for i := range deltas {
						if i < len(d) {
							deltas[i] = mgl32.Vec3(d[i])
						}
					}
				}
				if idx, ok := target[gltf.NORMAL]; ok {
					d, err := modeler.ReadNormal(doc, doc.Accessors[idx], nil)
					if err == nil {
						normalDeltas = make([]mgl32.Vec3, len(positions))
						for i := range normalDeltas {
							if i < len(d) {
								normalDeltas[i] = mgl32.Vec3(d[i])
							}
						}
					}
				}
			}
			g.Targets[ti].PositionDeltas = append(g.Targets[ti].PositionDeltas, deltas...)
			if normalDeltas == nil {
				normalDeltas = make([]mgl32.Vec3, len(positions))
			}
			g.Targets[ti].NormalDeltas = append(g.Targets[ti].NormalDeltas, normalDeltas...)
		}
	}

	if len(g.Vertices) == 0 {
		return nil, fmt.Errorf("mesh %q has no triangle primitives", mesh.Name)
	}
	return g, nil
}

// SphereGeometry builds a UV sphere centered on the origin.
func SphereGeometry(radius float32, segments, rings int) *Geometry {
	g := &Geometry{}
	for y := 0; y <= rings; y++ {
		v := float64(y) / float64(rings)
		phi := v * math.Pi
		for x := 0; x <= segments; x++ {
			u := float64(x) / float64(segments)
			theta := u * 2 * math.Pi

			n := mgl32.Vec3{
				float32(math.Cos(theta) * math.Sin(phi)),
				float32(math.Cos(phi)),
				float32(math.Sin(theta) * math.Sin(phi)),
			}
			g.Vertices = append(g.Vertices, Vertex{Position: n.Mul(radius), Normal: n})
		}
	}

	for y := 0; y < rings; y++ {
		for x := 0; x < segments; x++ {
			first := uint32(y*(segments+1) + x)
			second := first + uint32(segments+1)
			g.Indices = append(g.Indices, first, second, first+1, second, second+1, first+1)
		}
	}
	return g
}

// TorusGeometry builds a torus around the z axis, facing the camera.
func TorusGeometry(major, minor float32, radial, tubular int) *Geometry {
	g := &Geometry{}
	for j := 0; j <= radial; j++ {
		v := float64(j) / float64(radial) * 2 * math.Pi
		for i := 0; i <= tubular; i++ {
			u := float64(i) / float64(tubular) * 2 * math.Pi

			center := mgl32.Vec3{float32(math.Cos(u)) * major, float32(math.Sin(u)) * major, 0}
			p := mgl32.Vec3{
				(major + minor*float32(math.Cos(v))) * float32(math.Cos(u)),
				(major + minor*float32(math.Cos(v))) * float32(math.Sin(u)),
				minor * float32(math.Sin(v)),
			}
			g.Vertices = append(g.Vertices, Vertex{Position: p, Normal: p.Sub(center).Normalize()})
		}
	}

	for j := 1; j <= radial; j++ {
		for i := 1; i <= tubular; i++ {
			a := uint32((tubular+1)*j + i - 1)
			b := uint32((tubular+1)*(j-1) + i - 1)
			c := uint32((tubular+1)*(j-1) + i)
			d := uint32((tubular+1)*j + i)
			g.Indices = append(g.Indices, a, b, d, b, c, d)
		}
	}
	return g
}

// ConeGeometry builds a cone along +y centered on its mid height, with a
// base cap.
func ConeGeometry(radius, height float32, segments int) *Geometry {
	g := &Geometry{}
	half := height / 2
	slope := radius / height

	apex := mgl32.Vec3{0, half, 0}
	for i := 0; i <= segments; i++ {
		a := float64(i) / float64(segments) * 2 * math.Pi
		dir := mgl32.Vec3{float32(math.Sin(a)), 0, float32(math.Cos(a))}
		n := mgl32.Vec3{dir.X(), slope, dir.Z()}.Normalize()
		g.Vertices = append(g.Vertices,
			Vertex{Position: apex, Normal: n},
			Vertex{Position: dir.Mul(radius).Add(mgl32.Vec3{0, -half, 0}), Normal: n},
		)
	}
	for i := 0; i < segments; i++ {
		top, bottom := uint32(2*i), uint32(2*i+1)
		g.Indices = append(g.Indices, top, bottom, bottom+2)
	}

	center := uint32(len(g.Vertices))
	down := mgl32.Vec3{0, -1, 0}
	g.Vertices = append(g.Vertices, Vertex{Position: mgl32.Vec3{0, -half, 0}, Normal: down})
	for i := 0; i <= segments; i++ {
		a := float64(i) / float64(segments) * 2 * math.Pi
		p := mgl32.Vec3{float32(math.Sin(a)) * radius, -half, float32(math.Cos(a)) * radius}
		g.Vertices = append(g.Vertices, Vertex{Position: p, Normal: down})
	}
	for i := 0; i < segments; i++ {
		a := center + 1 + uint32(i)
		g.Indices = append(g.Indices, center, a+1, a)
	}
	return g
}
