package mesh

import (
	"fmt"
	"image"
	"math"

	"github.com/adnanwahab/vizcom-trial/model"
)

// DefaultSegments is the number of angular steps used when none is given.
const DefaultSegments = 64

const axisEpsilon = 1e-9

// Point2 is a 2D point in image space.
type Point2 struct {
	X, Y float64
}

// ProfilePoint is a (radius, height) pair of a lathe profile.
type ProfilePoint struct {
	R, H float64
}

// Profile maps image points to (radius, height) around center. Image rows grow
// downwards, so height is negated to keep "up" pointing up in the mesh.
func Profile(points []image.Point, center Point2) []ProfilePoint {
	profile := make([]ProfilePoint, len(points))
	for i, p := range points {
		profile[i] = ProfilePoint{
			R: float64(p.X) - center.X,
			H: -(float64(p.Y) - center.Y),
		}
	}
	return profile
}

// Revolve sweeps the contour around the vertical axis through center and
// returns a triangulated solid of revolution.
//
// Every profile point gets a ring of exactly segments vertices, so the mesh
// always has len(points)*segments vertices. The profile is closed. Triangles
// that collapse on the axis are dropped, which closes the poles with fans.
func Revolve(contour model.Contour, center Point2, segments int) (*Mesh, error) {
	if segments <= 0 {
		segments = DefaultSegments
	}
	if segments < 3 {
		return nil, model.NewDegenerateProfileError(fmt.Sprintf("need at least 3 segments, got %d", segments))
	}

	profile := Profile(contour.Points, center)
	if err := checkProfile(profile); err != nil {
		return nil, err
	}
	if signedArea(profile) < 0 {
		reverse(profile)
	}

	n := len(profile)
	m := &Mesh{
		Name:     DefaultName,
		Vertices: make([]Vec3, 0, n*segments),
		Faces:    make([][3]int, 0, 2*n*segments),
	}

	sin := make([]float64, segments)
	cos := make([]float64, segments)
	for j := 0; j < segments; j++ {
		theta := 2 * math.Pi * float64(j) / float64(segments)
		sin[j], cos[j] = math.Sincos(theta)
	}

	for _, p := range profile {
		for j := 0; j < segments; j++ {
			m.Vertices = append(m.Vertices, Vec3{X: p.R * cos[j], Y: p.H, Z: p.R * sin[j]})
		}
	}

	ring := func(i, j int) int {
		return i*segments + j%segments
	}

	for i := 0; i < n; i++ {
		k := (i + 1) % n
		if profile[i] == profile[k] {
			continue
		}
		startOnAxis := math.Abs(profile[i].R) < axisEpsilon
		endOnAxis := math.Abs(profile[k].R) < axisEpsilon
		if startOnAxis && endOnAxis {
			continue
		}
		for j := 0; j < segments; j++ {
			a, b, c, d := ring(i, j), ring(k, j), ring(k, j+1), ring(i, j+1)
			if !endOnAxis {
				m.Faces = append(m.Faces, [3]int{a, b, c})
			}
			if !startOnAxis {
				m.Faces = append(m.Faces, [3]int{a, c, d})
			}
		}
	}

	return m, nil
}

func checkProfile(profile []ProfilePoint) error {
	distinct := make(map[ProfilePoint]struct{}, len(profile))
	positive := false
	for _, p := range profile {
		distinct[p] = struct{}{}
		if p.R > 0 {
			positive = true
		}
	}
	if len(distinct) < 3 {
		return model.NewDegenerateProfileError(fmt.Sprintf("profile has %d distinct points, need at least 3", len(distinct)))
	}
	if !positive {
		return model.NewDegenerateProfileError("all profile radii are non-positive")
	}
	return nil
}

// signedArea is the shoelace area of the closed profile in the (r, h) plane;
// positive means counter-clockwise.
func signedArea(profile []ProfilePoint) float64 {
	area := 0.0
	for i := range profile {
		a, b := profile[i], profile[(i+1)%len(profile)]
		area += a.R*b.H - b.R*a.H
	}
	return area / 2
}

func reverse(profile []ProfilePoint) {
	for i, j := 0, len(profile)-1; i < j; i, j = i+1, j-1 {
		profile[i], profile[j] = profile[j], profile[i]
	}
}
