package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const objHeader = "# vizcom-trial revolved mesh"

// WriteOBJ encodes the mesh as a single Wavefront OBJ object: a header
// comment, one "o" line, vertices with six decimals, then 1-based triangles.
func WriteOBJ(w io.Writer, m *Mesh) error {
	name := m.Name
	if name == "" {
		name = DefaultName
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(objHeader + "\n")
	bw.WriteString("o " + name + "\n")
	for _, v := range m.Vertices {
		bw.WriteString("v " + formatCoord(v.X) + " " + formatCoord(v.Y) + " " + formatCoord(v.Z) + "\n")
	}
	for _, f := range m.Faces {
		bw.WriteString("f " + strconv.Itoa(f[0]+1) + " " + strconv.Itoa(f[1]+1) + " " + strconv.Itoa(f[2]+1) + "\n")
	}
	return bw.Flush()
}

// SaveOBJ writes the mesh to path.
func SaveOBJ(path string, m *Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteOBJ(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadOBJ parses vertices, faces and the object name. Texture and normal
// references in faces are ignored and polygons are fan-triangulated.
func ReadOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		switch fields[0] {
		case "o":
			if len(fields) > 1 {
				m.Name = strings.Join(fields[1:], " ")
			}
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			var c [3]float64
			for i := range c {
				v, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				c[i] = v
			}
			m.Vertices = append(m.Vertices, Vec3{X: c[0], Y: c[1], Z: c[2]})
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 vertices", line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				i, err := parseVertexRef(ref, len(m.Vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				idx = append(idx, i)
			}
			for i := 1; i+1 < len(idx); i++ {
				m.Faces = append(m.Faces, [3]int{idx[0], idx[i], idx[i+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadOBJ reads a mesh from path.
func LoadOBJ(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadOBJ(f)
}

func parseVertexRef(ref string, count int) (int, error) {
	if slash := strings.IndexByte(ref, '/'); slash >= 0 {
		ref = ref[:slash]
	}
	i, err := strconv.Atoi(ref)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += count
	default:
		return 0, fmt.Errorf("vertex index 0 is invalid")
	}
	if i < 0 || i >= count {
		return 0, fmt.Errorf("vertex index %s out of range (%d vertices)", ref, count)
	}
	return i, nil
}

func formatCoord(v float64) string {
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
