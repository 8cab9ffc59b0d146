// Package exchange moves field values between the two coupled process groups.
// A Sink owns a set of points in the receiving mesh; every rank of the sending
// group builds a Source that interpolates its local field at the points it was
// assigned. Outlets and Inlets bind a physical field to a Source or a Sink.
package exchange

import (
	"fmt"

	"github.com/notargets/DGCouple/transport"
)

// ErrConfigurationMismatch is the fatal topology error shared by every exchange layer.
var ErrConfigurationMismatch = transport.ErrConfigurationMismatch

// Category is a cross-group exchange channel. Each has exactly one sink rank.
type Category int

const (
	VelocityBoundary    Category = iota // coarse -> fine, fine outer boundary
	TemperatureInterior                 // fine -> coarse, coarse nodes inside the fine box
	StressBoundary                      // fine -> coarse, coarse nodes on the fine box trace
)

func (c Category) String() string {
	switch c {
	case VelocityBoundary:
		return "VBC"
	case TemperatureInterior:
		return "TIntr"
	case StressBoundary:
		return "SBC"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Tag is the message tag carrying this category's field values
func (c Category) Tag() transport.Tag { return transport.FieldTag(int(c)) }

// Field is a named physical quantity a solver can report and accept
type Field int

const (
	Velocity Field = iota
	Temperature
	Stress   // symmetric tensor, Voigt order
	Traction // stress · outward normal
)

func (f Field) String() string {
	switch f {
	case Velocity:
		return "velocity"
	case Temperature:
		return "temperature"
	case Stress:
		return "stress"
	case Traction:
		return "traction"
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// Components returns the number of values per point in dim dimensions
func (f Field) Components(dim int) int {
	switch f {
	case Velocity, Traction:
		return dim
	case Temperature:
		return 1
	case Stress:
		return dim * (dim + 1) / 2
	}
	return 0
}

// FieldState is the solver side of an exchange.
type FieldState interface {
	// BoundaryState returns f at every mesh node, Components values per node.
	BoundaryState(f Field) []float64
	// ApplyBoundaryState imposes values (Components per node) on the listed nodes.
	ApplyBoundaryState(f Field, nodes []int, values []float64) error
}
