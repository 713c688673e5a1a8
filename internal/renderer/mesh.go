package renderer

import (
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is a geometry uploaded to the GPU. Morph weights are blended on the
// CPU and streamed into the vertex buffer.
type Mesh struct {
	VAO        uint32
	VBO        uint32
	EBO        uint32
	IndexCount int32

	Geometry *Geometry
	Color    mgl32.Vec3

	positions []mgl32.Vec3
	normals   []mgl32.Vec3
	scratch   []float32
}

// NewMesh uploads g with a flat vertex color. Requires a current GL context.
func NewMesh(g *Geometry, color mgl32.Vec3) *Mesh {
	m := &Mesh{
		Geometry:   g,
		Color:      color,
		IndexCount: int32(len(g.Indices)),
		positions:  make([]mgl32.Vec3, len(g.Vertices)),
		normals:    make([]mgl32.Vec3, len(g.Vertices)),
	}
	g.Blend(nil, m.positions, m.normals)
	m.uploadToGPU()
	return m
}

func (m *Mesh) uploadToGPU() {
	gl.GenVertexArrays(1, &m.VAO)
	gl.GenBuffers(1, &m.VBO)

	gl.BindVertexArray(m.VAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, m.VBO)

	m.scratch = interleave(m.positions, m.normals, m.Color, m.scratch)
	usage := uint32(gl.STATIC_DRAW)
	if len(m.Geometry.Targets) > 0 {
		usage = gl.DYNAMIC_DRAW
	}
	gl.BufferData(gl.ARRAY_BUFFER, len(m.scratch)*4, gl.Ptr(m.scratch), usage)

	stride := int32(floatsPerVertex * 4)
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, stride, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 3, gl.FLOAT, false, stride, 3*4)
	gl.EnableVertexAttribArray(1)
	gl.VertexAttribPointerWithOffset(2, 3, gl.FLOAT, false, stride, 6*4)
	gl.EnableVertexAttribArray(2)

	if len(m.Geometry.Indices) > 0 {
		gl.GenBuffers(1, &m.EBO)
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, m.EBO)
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(m.Geometry.Indices)*4, gl.Ptr(m.Geometry.Indices), gl.STATIC_DRAW)
	}

	gl.BindVertexArray(0)
}

// ApplyMorphWeights blends the targets with weights (indexed by channel) and
// updates the vertex buffer.
func (m *Mesh) ApplyMorphWeights(weights []float32) {
	if len(m.Geometry.Targets) == 0 {
		return
	}
	m.Geometry.Blend(weights, m.positions, m.normals)
	m.scratch = interleave(m.positions, m.normals, m.Color, m.scratch)

	gl.BindBuffer(gl.ARRAY_BUFFER, m.VBO)
	gl.BufferSubData(gl.ARRAY_BUFFER, 0, len(m.scratch)*4, gl.Ptr(m.scratch))
}

func (m *Mesh) Draw() {
	gl.BindVertexArray(m.VAO)
	gl.DrawElements(gl.TRIANGLES, m.IndexCount, gl.UNSIGNED_INT, nil)
	gl.BindVertexArray(0)
}

func (m *Mesh) Delete() {
	gl.DeleteVertexArrays(1, &m.VAO)
	gl.DeleteBuffers(1, &m.VBO)
	if m.EBO != 0 {
		gl.DeleteBuffers(1, &m.EBO)
	}
}
