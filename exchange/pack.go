package exchange

import (
	"fmt"
	"math"
)

// packPoints lays points out as [n, dim, x0..., x1..., ...]
func packPoints(points [][]float64) []float64 {
	dim := 0
	if len(points) > 0 {
		dim = len(points[0])
	}
	p := make([]float64, 0, 2+len(points)*dim)
	p = append(p, float64(len(points)), float64(dim))
	for _, x := range points {
		p = append(p, x...)
	}
	return p
}

func unpackPoints(p []float64) ([][]float64, error) {
	if len(p) < 2 {
		return nil, fmt.Errorf("point payload of length %d: %w", len(p), ErrConfigurationMismatch)
	}
	n, dim := int(p[0]), int(p[1])
	if n < 0 || dim < 0 || len(p) != 2+n*dim {
		return nil, fmt.Errorf("point payload header (%g, %g) does not match length %d: %w",
			p[0], p[1], len(p), ErrConfigurationMismatch)
	}
	points := make([][]float64, n)
	for i := range points {
		points[i] = append([]float64(nil), p[2+i*dim:2+(i+1)*dim]...)
	}
	return points, nil
}

func packIndices(idx []int) []float64 {
	p := make([]float64, len(idx))
	for i, v := range idx {
		p[i] = float64(v)
	}
	return p
}

func unpackIndices(p []float64, limit int) ([]int, error) {
	idx := make([]int, len(p))
	for i, v := range p {
		if v != math.Trunc(v) || v < 0 || int(v) >= limit {
			return nil, fmt.Errorf("point index %g outside [0,%d): %w", v, limit, ErrConfigurationMismatch)
		}
		idx[i] = int(v)
	}
	return idx, nil
}
