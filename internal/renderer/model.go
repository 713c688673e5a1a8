package renderer

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/normanking/speakavatar/internal/morph"
)

var defaultPartColor = mgl32.Vec3{0.8, 0.8, 0.8}

// Part is one drawable piece of a model with its own world transform.
type Part struct {
	Name      string
	NodeIndex int
	Geometry  *Geometry
	Color     mgl32.Vec3
	World     mgl32.Mat4

	mesh *Mesh
}

// Upload creates the GPU mesh. Requires a current GL context.
func (p *Part) Upload() {
	if p.mesh == nil {
		p.mesh = NewMesh(p.Geometry, p.Color)
	}
}

func (p *Part) draw(s *Shader, parent mgl32.Mat4) int {
	if p.mesh == nil {
		return 0
	}
	s.SetMat4("uModel", parent.Mul4(p.World))
	p.mesh.Draw()
	return int(p.mesh.IndexCount) / 3
}

func (p *Part) delete() {
	if p.mesh != nil {
		p.mesh.Delete()
		p.mesh = nil
	}
}

// Model is a loaded glTF scene. One part may be bound to the avatar's morph
// weights; SetTransform moves the whole model.
type Model struct {
	mu        sync.Mutex
	Parts     []*Part
	morph     *Part
	transform mgl32.Mat4
	weights   []float32
}

// PlanModel reads the meshes of doc's default scene into parts without
// touching the GPU. morphNode selects the part that receives morph weights;
// -1 binds none.
func PlanModel(doc *gltf.Document, morphNode int) (*Model, error) {
	m := &Model{transform: mgl32.Ident4()}
	var firstErr error

	morph.WalkMeshes(doc, func(nodeIdx int, node *gltf.Node, mesh *gltf.Mesh, world mgl32.Mat4) {
		geom, err := GeometryFromMesh(doc, mesh)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("node %d: %w", nodeIdx, err)
			}
			return
		}
		names := morph.TargetNames(mesh)
		for i := range geom.Targets {
			if i < len(names) {
				geom.Targets[i].Name = names[i]
			}
		}

		name := node.Name
		if name == "" {
			name = mesh.Name
		}
		part := &Part{
			Name:      name,
			NodeIndex: nodeIdx,
			Geometry:  geom,
			Color:     meshColor(doc, mesh),
			World:     world,
		}
		m.Parts = append(m.Parts, part)
		if nodeIdx == morphNode {
			m.morph = part
		}
	})

	if len(m.Parts) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("scene has no drawable meshes")
	}
	return m, nil
}

// meshColor is the base color factor of the first primitive's material.
func meshColor(doc *gltf.Document, mesh *gltf.Mesh) mgl32.Vec3 {
	for _, prim := range mesh.Primitives {
		if prim.Material == nil || *prim.Material >= len(doc.Materials) {
			continue
		}
		pbr := doc.Materials[*prim.Material].PBRMetallicRoughness
		if pbr == nil || pbr.BaseColorFactor == nil {
			continue
		}
		f := pbr.BaseColorFactor
		return mgl32.Vec3{float32(f[0]), float32(f[1]), float32(f[2])}
	}
	return defaultPartColor
}

// MorphPart returns the part driven by morph weights, or nil.
func (m *Model) MorphPart() *Part {
	return m.morph
}

// Upload creates GPU meshes for every part.
func (m *Model) Upload() {
	for _, p := range m.Parts {
		p.Upload()
	}
}

// ApplyMorphWeights sends weights to the bound part.
func (m *Model) ApplyMorphWeights(weights []float32) {
	m.mu.Lock()
	m.weights = append(m.weights[:0], weights...)
	m.mu.Unlock()

	if m.morph != nil && m.morph.mesh != nil {
		m.morph.mesh.ApplyMorphWeights(weights)
	}
}

// SetTransform sets the transform applied on top of every part.
func (m *Model) SetTransform(t mgl32.Mat4) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform = t
}

// Weights returns the last weights received.
func (m *Model) Weights() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float32, len(m.weights))
	copy(out, m.weights)
	return out
}

// Draw renders every part and returns the triangle count.
func (m *Model) Draw(s *Shader) int {
	m.mu.Lock()
	t := m.transform
	m.mu.Unlock()

	tris := 0
	for _, p := range m.Parts {
		tris += p.draw(s, t)
	}
	return tris
}

func (m *Model) Delete() {
	for _, p := range m.Parts {
		p.delete()
	}
}
