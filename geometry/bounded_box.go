// Package geometry computes axis-aligned bounded boxes and exchanges them between
// the two process groups of a coupled run.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/DGCouple/transport"
)

// BoundedBox is an axis-aligned region, Min[d] <= x[d] <= Max[d] for every dimension d.
type BoundedBox struct {
	Min []float64
	Max []float64
}

// NewBoundedBox returns an empty box of the given dimension
func NewBoundedBox(dim int) BoundedBox {
	b := BoundedBox{Min: make([]float64, dim), Max: make([]float64, dim)}
	for d := 0; d < dim; d++ {
		b.Min[d] = math.Inf(1)
		b.Max[d] = math.Inf(-1)
	}
	return b
}

// FromPoints returns the tightest box around points, all of which must share one dimension.
func FromPoints(points [][]float64) (BoundedBox, error) {
	if len(points) == 0 {
		return BoundedBox{}, fmt.Errorf("bounded box of zero points")
	}
	dim := len(points[0])
	col := make([]float64, len(points))
	b := NewBoundedBox(dim)
	for d := 0; d < dim; d++ {
		for i, p := range points {
			if len(p) != dim {
				return BoundedBox{}, fmt.Errorf("point %d has dimension %d, want %d", i, len(p), dim)
			}
			col[i] = p[d]
		}
		b.Min[d] = floats.Min(col)
		b.Max[d] = floats.Max(col)
	}
	return b, nil
}

// Dim returns the spatial dimension
func (b BoundedBox) Dim() int { return len(b.Min) }

// IsEmpty is true when any extent is inverted.
func (b BoundedBox) IsEmpty() bool {
	if len(b.Min) == 0 {
		return true
	}
	for d := range b.Min {
		if b.Min[d] > b.Max[d] {
			return true
		}
	}
	return false
}

// Contains reports whether p lies inside the closed box.
func (b BoundedBox) Contains(p []float64) bool {
	return b.ContainsTol(p, 0)
}

// ContainsTol is Contains with every face pushed out by tol.
func (b BoundedBox) ContainsTol(p []float64, tol float64) bool {
	if len(p) != len(b.Min) {
		return false
	}
	for d, x := range p {
		if x < b.Min[d]-tol || x > b.Max[d]+tol {
			return false
		}
	}
	return true
}

// Merge returns the smallest box holding both b and o.
func (b BoundedBox) Merge(o BoundedBox) BoundedBox {
	m := NewBoundedBox(b.Dim())
	for d := range m.Min {
		m.Min[d] = math.Min(b.Min[d], o.Min[d])
		m.Max[d] = math.Max(b.Max[d], o.Max[d])
	}
	return m
}

// Intersect returns the overlap of b and o and whether it is non-empty.
func (b BoundedBox) Intersect(o BoundedBox) (BoundedBox, bool) {
	m := NewBoundedBox(b.Dim())
	for d := range m.Min {
		m.Min[d] = math.Max(b.Min[d], o.Min[d])
		m.Max[d] = math.Min(b.Max[d], o.Max[d])
	}
	return m, !m.IsEmpty()
}

// Expand grows every face outward by tol.
func (b BoundedBox) Expand(tol float64) BoundedBox {
	m := NewBoundedBox(b.Dim())
	for d := range m.Min {
		m.Min[d] = b.Min[d] - tol
		m.Max[d] = b.Max[d] + tol
	}
	return m
}

// Equal compares extents within tol.
func (b BoundedBox) Equal(o BoundedBox, tol float64) bool {
	if b.Dim() != o.Dim() {
		return false
	}
	return floats.EqualApprox(b.Min, o.Min, tol) && floats.EqualApprox(b.Max, o.Max, tol)
}

// Pack flattens the box for the wire as [dim, min..., max...].
func (b BoundedBox) Pack() []float64 {
	p := make([]float64, 0, 1+2*b.Dim())
	p = append(p, float64(b.Dim()))
	p = append(p, b.Min...)
	return append(p, b.Max...)
}

// Unpack is the inverse of Pack. A malformed payload means the peer runs a
// different configuration.
func Unpack(p []float64) (BoundedBox, error) {
	if len(p) == 0 {
		return BoundedBox{}, fmt.Errorf("empty bounded box payload: %w", transport.ErrConfigurationMismatch)
	}
	dim := int(p[0])
	if dim <= 0 || len(p) != 1+2*dim {
		return BoundedBox{}, fmt.Errorf("bounded box payload of length %d for dimension %d: %w",
			len(p), dim, transport.ErrConfigurationMismatch)
	}
	b := BoundedBox{
		Min: append([]float64(nil), p[1:1+dim]...),
		Max: append([]float64(nil), p[1+dim:]...),
	}
	return b, nil
}

func (b BoundedBox) String() string {
	return fmt.Sprintf("BoundedBox{min=%v max=%v}", b.Min, b.Max)
}
