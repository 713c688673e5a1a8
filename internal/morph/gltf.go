package morph

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// Bounds is an axis-aligned box in world space.
type Bounds struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Size returns the box extent along each axis.
func (b Bounds) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Center returns the box midpoint.
func (b Bounds) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b Bounds) extend(p mgl32.Vec3) Bounds {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
	return b
}

// Scene is what the resolver needs to know about a loaded asset.
type Scene struct {
	Candidates []MeshCandidate
	Bounds     Bounds
	HasBounds  bool
	MeshCount  int
}

// LoadScene opens a .gltf/.glb file and describes its morph meshes.
func LoadScene(path string) (*Scene, *gltf.Document, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open gltf: %w", err)
	}
	return SceneFromDocument(doc), doc, nil
}

// SceneFromDocument walks the default scene graph depth first. Every node that
// references a mesh with morph targets becomes a candidate, named after the
// node (or the mesh when the node is unnamed).
func SceneFromDocument(doc *gltf.Document) *Scene {
	s := &Scene{}
	if doc == nil {
		return s
	}

	WalkMeshes(doc, func(nodeIdx int, node *gltf.Node, mesh *gltf.Mesh, world mgl32.Mat4) {
		s.MeshCount++
		s.includeBounds(doc, mesh, world)

		if names := TargetNames(mesh); len(names) > 0 {
			name := node.Name
			if name == "" {
				name = mesh.Name
			}
			s.Candidates = append(s.Candidates, MeshCandidate{
				Name:      name,
				Channels:  names,
				NodeIndex: nodeIdx,
				MeshIndex: *node.Mesh,
			})
		}
	})
	return s
}

// WalkMeshes visits every node of the default scene that references a mesh,
// depth first, with its world transform. Nodes reachable twice are visited
// once.
func WalkMeshes(doc *gltf.Document, fn func(nodeIdx int, node *gltf.Node, mesh *gltf.Mesh, world mgl32.Mat4)) {
	if doc == nil {
		return
	}
	visited := make(map[int]bool, len(doc.Nodes))

	var walk func(idx int, parent mgl32.Mat4)
	walk = func(idx int, parent mgl32.Mat4) {
		if idx < 0 || idx >= len(doc.Nodes) || visited[idx] {
			return
		}
		visited[idx] = true

		node := doc.Nodes[idx]
		world := parent.Mul4(localMatrix(node))

		if node.Mesh != nil && *node.Mesh >= 0 && *node.Mesh < len(doc.Meshes) {
			fn(idx, node, doc.Meshes[*node.Mesh], world)
		}

		for _, child := range node.Children {
			walk(child, world)
		}
	}

	for _, root := range sceneRoots(doc) {
		walk(root, mgl32.Ident4())
	}
}

// TargetNames returns the morph channel names of a mesh: extras.targetNames
// when present, otherwise target_<i>. A mesh without targets has none.
func TargetNames(mesh *gltf.Mesh) []string {
	if mesh == nil {
		return nil
	}
	count := 0
	for _, prim := range mesh.Primitives {
		if len(prim.Targets) > count {
			count = len(prim.Targets)
		}
	}
	if count == 0 {
		return nil
	}

	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("target_%d", i)
	}

	if extras, ok := mesh.Extras.(map[string]interface{}); ok {
		if targetNames, ok := extras["targetNames"].([]interface{}); ok {
			for i, n := range targetNames {
				if i >= count {
					break
				}
				if str, ok := n.(string); ok && str != "" {
					names[i] = str
				}
			}
		}
	}
	return names
}

func sceneRoots(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			idx = *doc.Scene
		}
		return doc.Scenes[idx].Nodes
	}

	// No scene: treat every node that is nobody's child as a root.
	isChild := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func (s *Scene) includeBounds(doc *gltf.Document, mesh *gltf.Mesh, world mgl32.Mat4) {
	for _, prim := range mesh.Primitives {
		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok || int(posIdx) >= len(doc.Accessors) {
			continue
		}
		acc := doc.Accessors[posIdx]
		if len(acc.Min) < 3 || len(acc.Max) < 3 {
			continue
		}

		for corner := 0; corner < 8; corner++ {
			p := mgl32.Vec3{
				pick(corner&1 != 0, acc.Min[0], acc.Max[0]),
				pick(corner&2 != 0, acc.Min[1], acc.Max[1]),
				pick(corner&4 != 0, acc.Min[2], acc.Max[2]),
			}
			wp := mgl32.TransformCoordinate(p, world)
			if !s.HasBounds {
				s.Bounds = Bounds{Min: wp, Max: wp}
				s.HasBounds = true
				continue
			}
			s.Bounds = s.Bounds.extend(wp)
		}
	}
}

func pick(max bool, lo, hi float64) float32 {
	if max {
		return float32(hi)
	}
	return float32(lo)
}

// localMatrix returns the node transform. Zero-valued TRS fields (as left by
// documents built in memory) fall back to the identity values.
func localMatrix(n *gltf.Node) mgl32.Mat4 {
	if n.Matrix != [16]float64{} && n.Matrix != identity16 {
		var m mgl32.Mat4
		for i, v := range n.Matrix {
			m[i] = float32(v)
		}
		return m
	}

	t := n.Translation
	trans := mgl32.Translate3D(float32(t[0]), float32(t[1]), float32(t[2]))

	rot := mgl32.Ident4()
	if r := n.Rotation; r != [4]float64{} {
		q := mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}
		rot = q.Normalize().Mat4()
	}

	scale := mgl32.Ident4()
	if sc := n.Scale; sc != [3]float64{} {
		scale = mgl32.Scale3D(float32(sc[0]), float32(sc[1]), float32(sc[2]))
	}

	return trans.Mul4(rot).Mul4(scale)
}

var identity16 = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
