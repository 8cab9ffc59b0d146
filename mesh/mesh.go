// Package mesh is the structured node/element mesh the coupled solvers run on.
// Nodes are numbered lexicographically, x fastest. Element vertices follow the same
// bit pattern: vertex v sits at offset (v&1, v>>1&1, v>>2&1) from the element's
// lowest corner, so a 1D element has 2 vertices, 2D has 4 and 3D has 8.
package mesh

import (
	"fmt"
	"math"

	"github.com/notargets/DGCouple/geometry"
)

// RegularSpec describes an axis-aligned grid
type RegularSpec struct {
	Origin  []float64 // lowest corner
	Counts  []int     // elements per axis
	Spacing []float64 // element width per axis
}

// Mesh is a regular grid of line, quad or hex elements
type Mesh struct {
	Dim        int
	Spec       RegularSpec
	NodeCounts []int // nodes per axis, Counts+1

	Vertices [][]float64 // [node][axis]
	EtoV     [][]int     // [element][vertex] node indices

	tol float64
}

// NewRegular creates the grid described by spec
func NewRegular(spec RegularSpec) (*Mesh, error) {
	dim := len(spec.Counts)
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("mesh dimension %d not in [1,3]", dim)
	}
	if len(spec.Origin) != dim || len(spec.Spacing) != dim {
		return nil, fmt.Errorf("origin (%d) and spacing (%d) must match %d counts",
			len(spec.Origin), len(spec.Spacing), dim)
	}
	minH := math.Inf(1)
	for d := 0; d < dim; d++ {
		if spec.Counts[d] < 1 {
			return nil, fmt.Errorf("axis %d has %d elements", d, spec.Counts[d])
		}
		if !(spec.Spacing[d] > 0) {
			return nil, fmt.Errorf("axis %d spacing %g must be positive", d, spec.Spacing[d])
		}
		minH = math.Min(minH, spec.Spacing[d])
	}

	m := &Mesh{
		Dim: dim,
		Spec: RegularSpec{
			Origin:  append([]float64(nil), spec.Origin...),
			Counts:  append([]int(nil), spec.Counts...),
			Spacing: append([]float64(nil), spec.Spacing...),
		},
		NodeCounts: make([]int, dim),
		tol:        1e-9 * minH,
	}
	nn := 1
	for d := 0; d < dim; d++ {
		m.NodeCounts[d] = spec.Counts[d] + 1
		nn *= m.NodeCounts[d]
	}

	m.Vertices = make([][]float64, nn)
	for n := range m.Vertices {
		ijk := m.NodeIJK(n)
		x := make([]float64, dim)
		for d := 0; d < dim; d++ {
			x[d] = spec.Origin[d] + float64(ijk[d])*spec.Spacing[d]
		}
		m.Vertices[n] = x
	}

	nv := 1 << dim
	ne := 1
	for d := 0; d < dim; d++ {
		ne *= spec.Counts[d]
	}
	m.EtoV = make([][]int, ne)
	cell := make([]int, dim)
	for k := 0; k < ne; k++ {
		rem := k
		for d := 0; d < dim; d++ {
			cell[d] = rem % spec.Counts[d]
			rem /= spec.Counts[d]
		}
		verts := make([]int, nv)
		corner := make([]int, dim)
		for v := 0; v < nv; v++ {
			for d := 0; d < dim; d++ {
				corner[d] = cell[d] + (v>>d)&1
			}
			verts[v] = m.NodeIndex(corner)
		}
		m.EtoV[k] = verts
	}
	return m, nil
}

// K returns the number of elements
func (m *Mesh) K() int { return len(m.EtoV) }

// NumNodes returns the number of grid nodes
func (m *Mesh) NumNodes() int { return len(m.Vertices) }

// Tolerance is the coordinate tolerance used for face and box tests
func (m *Mesh) Tolerance() float64 { return m.tol }

// NodeIndex maps grid coordinates onto a node index
func (m *Mesh) NodeIndex(ijk []int) int {
	n := 0
	for d := m.Dim - 1; d >= 0; d-- {
		n = n*m.NodeCounts[d] + ijk[d]
	}
	return n
}

// NodeIJK maps a node index onto grid coordinates
func (m *Mesh) NodeIJK(n int) []int {
	ijk := make([]int, m.Dim)
	for d := 0; d < m.Dim; d++ {
		ijk[d] = n % m.NodeCounts[d]
		n /= m.NodeCounts[d]
	}
	return ijk
}

// Box is the extent of the whole grid
func (m *Mesh) Box() geometry.BoundedBox {
	b := geometry.NewBoundedBox(m.Dim)
	for d := 0; d < m.Dim; d++ {
		b.Min[d] = m.Spec.Origin[d]
		b.Max[d] = m.Spec.Origin[d] + float64(m.Spec.Counts[d])*m.Spec.Spacing[d]
	}
	return b
}

// Centroids returns the centre of every element
func (m *Mesh) Centroids() [][]float64 {
	c := make([][]float64, m.K())
	for k, verts := range m.EtoV {
		x := make([]float64, m.Dim)
		for _, v := range verts {
			for d := range x {
				x[d] += m.Vertices[v][d]
			}
		}
		for d := range x {
			x[d] /= float64(len(verts))
		}
		c[k] = x
	}
	return c
}

// Neighbors returns the grid nodes one step away along each axis
func (m *Mesh) Neighbors(n int) []int {
	ijk := m.NodeIJK(n)
	nbrs := make([]int, 0, 2*m.Dim)
	for d := 0; d < m.Dim; d++ {
		for _, step := range []int{-1, 1} {
			ijk[d] += step
			if ijk[d] >= 0 && ijk[d] < m.NodeCounts[d] {
				nbrs = append(nbrs, m.NodeIndex(ijk))
			}
			ijk[d] -= step
		}
	}
	return nbrs
}

// Points returns copies of the coordinates of nodes
func (m *Mesh) Points(nodes []int) [][]float64 {
	pts := make([][]float64, len(nodes))
	for i, n := range nodes {
		pts[i] = append([]float64(nil), m.Vertices[n]...)
	}
	return pts
}

// Exclusion drops the top (last axis maximum) or bottom (last axis minimum)
// face from a boundary selection.
type Exclusion struct {
	Top    bool
	Bottom bool
}

func (e Exclusion) drops(x []float64, box geometry.BoundedBox, tol float64) bool {
	last := len(x) - 1
	if e.Top && math.Abs(x[last]-box.Max[last]) <= tol {
		return true
	}
	if e.Bottom && math.Abs(x[last]-box.Min[last]) <= tol {
		return true
	}
	return false
}

// BoundaryNodes returns the nodes on the outer boundary of the grid
func (m *Mesh) BoundaryNodes(excl Exclusion) []int {
	box := m.Box()
	var nodes []int
	for n, x := range m.Vertices {
		ijk := m.NodeIJK(n)
		onFace := false
		for d := 0; d < m.Dim; d++ {
			if ijk[d] == 0 || ijk[d] == m.NodeCounts[d]-1 {
				onFace = true
				break
			}
		}
		if onFace && !excl.drops(x, box, m.tol) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// InteriorNodes returns the nodes that lie inside box
func (m *Mesh) InteriorNodes(box geometry.BoundedBox) []int {
	var nodes []int
	for n, x := range m.Vertices {
		if box.ContainsTol(x, m.tol) {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// InnerBoundaryNodes returns the nodes inside box having at least one grid
// neighbour outside it: the trace of box on this grid.
func (m *Mesh) InnerBoundaryNodes(box geometry.BoundedBox, excl Exclusion) []int {
	var nodes []int
	for n, x := range m.Vertices {
		if !box.ContainsTol(x, m.tol) || excl.drops(x, box, m.tol) {
			continue
		}
		for _, nb := range m.Neighbors(n) {
			if !box.ContainsTol(m.Vertices[nb], m.tol) {
				nodes = append(nodes, n)
				break
			}
		}
	}
	return nodes
}
