package mesh

import (
	"github.com/unixpickle/model3d/model3d"
)

// DefaultName is the OBJ object name of revolved meshes.
const DefaultName = "lathe"

// Vec3 is a mesh vertex position; Y is the revolution axis.
type Vec3 struct {
	X, Y, Z float64
}

// Mesh is an indexed triangle mesh. Faces hold 0-based vertex indices.
type Mesh struct {
	Name     string
	Vertices []Vec3
	Faces    [][3]int
}

// ToModel3D converts the mesh to a model3d mesh, which is keyed by
// coordinates rather than indices.
func (m *Mesh) ToModel3D() *model3d.Mesh {
	out := model3d.NewMesh()
	for _, f := range m.Faces {
		out.Add(&model3d.Triangle{
			m.Vertices[f[0]].coord(),
			m.Vertices[f[1]].coord(),
			m.Vertices[f[2]].coord(),
		})
	}
	return out
}

// Watertight reports whether every edge is shared by exactly two triangles.
func (m *Mesh) Watertight() bool {
	return !m.ToModel3D().NeedsRepair()
}

// Volume is the signed enclosed volume; positive when faces point outward.
func (m *Mesh) Volume() float64 {
	return m.ToModel3D().Volume()
}

// SaveSTL writes the mesh as binary STL.
func (m *Mesh) SaveSTL(path string) error {
	return m.ToModel3D().SaveGroupedSTL(path)
}

func (v Vec3) coord() model3d.Coord3D {
	return model3d.XYZ(v.X, v.Y, v.Z)
}
