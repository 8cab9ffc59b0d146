package geometry

import "fmt"

// Frame places a solver's local coordinates in the shared coupling frame:
// global = local + Offset. The zero Frame is the identity.
type Frame struct {
	Offset []float64
}

// Validate checks the offset against the mesh dimension
func (f Frame) Validate(dim int) error {
	if len(f.Offset) != 0 && len(f.Offset) != dim {
		return fmt.Errorf("frame offset has %d components, mesh dimension %d", len(f.Offset), dim)
	}
	return nil
}

func (f Frame) shift(x []float64, sign float64) []float64 {
	out := append([]float64(nil), x...)
	for d := range f.Offset {
		if d < len(out) {
			out[d] += sign * f.Offset[d]
		}
	}
	return out
}

// ToGlobal maps a local point into the coupling frame
func (f Frame) ToGlobal(x []float64) []float64 { return f.shift(x, 1) }

// ToLocal maps a coupling-frame point into local coordinates
func (f Frame) ToLocal(x []float64) []float64 { return f.shift(x, -1) }

// PointsToGlobal maps every point into the coupling frame
func (f Frame) PointsToGlobal(points [][]float64) [][]float64 {
	out := make([][]float64, len(points))
	for i, x := range points {
		out[i] = f.ToGlobal(x)
	}
	return out
}

// PointsToLocal maps every point into local coordinates
func (f Frame) PointsToLocal(points [][]float64) [][]float64 {
	out := make([][]float64, len(points))
	for i, x := range points {
		out[i] = f.ToLocal(x)
	}
	return out
}

// BoxToGlobal maps a local box into the coupling frame
func (f Frame) BoxToGlobal(b BoundedBox) BoundedBox {
	return BoundedBox{Min: f.ToGlobal(b.Min), Max: f.ToGlobal(b.Max)}
}

// BoxToLocal maps a coupling-frame box into local coordinates
func (f Frame) BoxToLocal(b BoundedBox) BoundedBox {
	return BoundedBox{Min: f.ToLocal(b.Min), Max: f.ToLocal(b.Max)}
}
