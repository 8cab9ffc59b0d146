// Package interp computes linear interpolation weights for arbitrary points in a
// rank's local mesh. Each element is split into simplices and a point is located
// by its barycentric coordinates, so the weights are exact for linear fields.
package interp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DGCouple/mesh"
)

// DefaultTolerance is the smallest barycentric coordinate still counted as inside.
const DefaultTolerance = 1e-10

// Simplex splits of the reference element, indexed by local vertex (see mesh).
var (
	lineSimplices = [][]int{{0, 1}}
	quadSimplices = [][]int{{0, 1, 3}, {0, 3, 2}}
	hexSimplices  = [][]int{
		{1, 0, 3, 5},
		{2, 0, 3, 6},
		{4, 0, 5, 6},
		{7, 3, 5, 6},
		{0, 3, 5, 6},
	}
)

// Simplices returns the simplex decomposition used for elements of dimension dim
func Simplices(dim int) [][]int {
	switch dim {
	case 1:
		return lineSimplices
	case 2:
		return quadSimplices
	case 3:
		return hexSimplices
	}
	return nil
}

// Interpolator holds, per point, the mesh nodes and weights reproducing a nodal field there.
type Interpolator struct {
	dim      int
	points   [][]float64
	elements []int       // owning element per point, -1 when not found
	nodes    [][]int     // global node indices of the containing simplex
	weights  [][]float64 // barycentric weights matching nodes
}

// New locates every point among the elements of local. Points outside all local
// elements are kept but marked not found.
func New(local *mesh.Local, points [][]float64, tol float64) (*Interpolator, error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	ip := &Interpolator{
		dim:      local.Dim,
		points:   make([][]float64, len(points)),
		elements: make([]int, len(points)),
		nodes:    make([][]int, len(points)),
		weights:  make([][]float64, len(points)),
	}
	simplices := Simplices(local.Dim)
	boxTol := math.Max(local.Tolerance(), tol)

	for i, p := range points {
		if len(p) != local.Dim {
			return nil, fmt.Errorf("point %d has dimension %d, mesh %d", i, len(p), local.Dim)
		}
		ip.points[i] = append([]float64(nil), p...)
		ip.elements[i] = -1
		for _, k := range local.Elements {
			ev := local.ElementVertices(k)
			if !cornerBoxContains(ev[0], ev[len(ev)-1], p, boxTol) {
				continue
			}
			verts := local.EtoV[k]
			for _, s := range simplices {
				corners := make([][]float64, len(s))
				for j, v := range s {
					corners[j] = ev[v]
				}
				lambda, err := Barycentric(corners, p)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", k, err)
				}
				if floats.Min(lambda) < -tol {
					continue
				}
				nodes := make([]int, len(s))
				for j, v := range s {
					nodes[j] = verts[v]
				}
				ip.elements[i] = k
				ip.nodes[i] = nodes
				ip.weights[i] = lambda
				break
			}
			if ip.elements[i] >= 0 {
				break
			}
		}
	}
	return ip, nil
}

// cornerBoxContains tests p against the box spanned by an element's lowest and
// highest corners
func cornerBoxContains(lo, hi, p []float64, tol float64) bool {
	for d := range p {
		if p[d] < lo[d]-tol || p[d] > hi[d]+tol {
			return false
		}
	}
	return true
}

// Barycentric returns the barycentric coordinates of p in the simplex spanned by
// corners (dim+1 points of dimension dim). Each coordinate is the ratio of the
// determinant with p substituted for that corner to the full determinant.
func Barycentric(corners [][]float64, p []float64) ([]float64, error) {
	n := len(p) + 1
	if len(corners) != n {
		return nil, fmt.Errorf("%d corners for a %d-simplex", len(corners), len(p))
	}
	m := mat.NewDense(n, n, nil)
	for i, c := range corners {
		if len(c) != len(p) {
			return nil, fmt.Errorf("corner %d has dimension %d, point %d", i, len(c), len(p))
		}
		m.Set(i, 0, 1)
		for d := range p {
			m.Set(i, d+1, c[d])
		}
	}
	h := 0.0
	for _, c := range corners[1:] {
		h = math.Max(h, floats.Distance(c, corners[0], math.Inf(1)))
	}
	det := mat.Det(m)
	if h == 0 || math.Abs(det) <= 1e-12*math.Pow(h, float64(len(p))) {
		return nil, fmt.Errorf("degenerate simplex %v", corners)
	}

	lambda := make([]float64, n)
	row := make([]float64, n)
	for i := range corners {
		mat.Row(row, i, m)
		m.Set(i, 0, 1)
		for d := range p {
			m.Set(i, d+1, p[d])
		}
		lambda[i] = mat.Det(m) / det
		m.SetRow(i, row)
	}
	return lambda, nil
}

// Len returns the number of points
func (ip *Interpolator) Len() int { return len(ip.points) }

// Found reports whether point i lies in a local element
func (ip *Interpolator) Found(i int) bool { return ip.Element(i) >= 0 }

// FoundIndices lists the points that lie in a local element
func (ip *Interpolator) FoundIndices() []int {
	var idx []int
	for i, k := range ip.elements {
		if k >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// Element returns the element containing point i, or -1
func (ip *Interpolator) Element(i int) int { return ip.elements[i] }

// Restrict returns an interpolator over the listed points only; all of them must be found.
func (ip *Interpolator) Restrict(indices []int) (*Interpolator, error) {
	out := &Interpolator{
		dim:      ip.dim,
		points:   make([][]float64, len(indices)),
		elements: make([]int, len(indices)),
		nodes:    make([][]int, len(indices)),
		weights:  make([][]float64, len(indices)),
	}
	for j, i := range indices {
		if i < 0 || i >= len(ip.points) {
			return nil, fmt.Errorf("point index %d outside [0,%d)", i, len(ip.points))
		}
		if !ip.Found(i) {
			return nil, fmt.Errorf("point %d %v is not inside any local element", i, ip.points[i])
		}
		out.points[j] = ip.points[i]
		out.elements[j] = ip.elements[i]
		out.nodes[j] = ip.nodes[i]
		out.weights[j] = ip.weights[i]
	}
	return out, nil
}

// Interpolate evaluates a nodal field at every point. field holds ncomp values per
// mesh node (node-major); the result holds ncomp values per point.
func (ip *Interpolator) Interpolate(field []float64, ncomp int) ([]float64, error) {
	if ncomp < 1 {
		return nil, fmt.Errorf("ncomp %d must be positive", ncomp)
	}
	out := make([]float64, len(ip.points)*ncomp)
	for i := range ip.points {
		if !ip.Found(i) {
			return nil, fmt.Errorf("point %d %v is not inside any local element", i, ip.points[i])
		}
		for j, n := range ip.nodes[i] {
			if (n+1)*ncomp > len(field) {
				return nil, fmt.Errorf("field of length %d too short for node %d with %d components",
					len(field), n, ncomp)
			}
			w := ip.weights[i][j]
			for c := 0; c < ncomp; c++ {
				out[i*ncomp+c] += w * field[n*ncomp+c]
			}
		}
	}
	return out, nil
}

// SelfTest reconstructs each found point from its weights and the simplex corners
// and fails when the residual exceeds a relative 1e-10.
func (ip *Interpolator) SelfTest(m *mesh.Mesh) error {
	x := make([]float64, ip.dim)
	for i, p := range ip.points {
		if !ip.Found(i) {
			continue
		}
		for d := range x {
			x[d] = 0
		}
		for j, n := range ip.nodes[i] {
			floats.AddScaled(x, ip.weights[i][j], m.Vertices[n])
		}
		residual := floats.Distance(x, p, 2)
		if residual > 1e-10*floats.Norm(p, 2)+1e-12 {
			return fmt.Errorf("point %d %v in element %d reconstructed as %v (residual %g)",
				i, p, ip.Element(i), x, residual)
		}
	}
	return nil
}
