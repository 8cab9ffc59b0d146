package exchange

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Converter maps values between the solver's internal units and physical units.
// Both directions return a new slice.
type Converter interface {
	ToPhysical(f Field, values []float64) []float64
	ToInternal(f Field, values []float64) []float64
}

// Identity leaves values unchanged
type Identity struct{}

func (Identity) ToPhysical(_ Field, values []float64) []float64 { return clone(values) }
func (Identity) ToInternal(_ Field, values []float64) []float64 { return clone(values) }

// KelvinOffset converts a Celsius temperature scale to Kelvin
const KelvinOffset = 273.15

// Scaling converts non-dimensional values: physical = internal*scale (+ offset for temperature)
type Scaling struct {
	Velocity          float64
	Stress            float64
	Temperature       float64
	TemperatureOffset float64
}

// NewScaling validates the scale factors
func NewScaling(velocity, stress, temperature, offset float64) (Scaling, error) {
	for name, v := range map[string]float64{"velocity": velocity, "stress": stress, "temperature": temperature} {
		if v == 0 {
			return Scaling{}, fmt.Errorf("%s scale must be non-zero", name)
		}
	}
	return Scaling{Velocity: velocity, Stress: stress, Temperature: temperature, TemperatureOffset: offset}, nil
}

func (s Scaling) factors(f Field) (scale, offset float64) {
	switch f {
	case Velocity:
		return s.Velocity, 0
	case Stress, Traction:
		return s.Stress, 0
	case Temperature:
		return s.Temperature, s.TemperatureOffset
	}
	return 1, 0
}

func (s Scaling) ToPhysical(f Field, values []float64) []float64 {
	scale, offset := s.factors(f)
	out := make([]float64, len(values))
	floats.ScaleTo(out, scale, values)
	floats.AddConst(offset, out)
	return out
}

func (s Scaling) ToInternal(f Field, values []float64) []float64 {
	scale, offset := s.factors(f)
	out := clone(values)
	floats.AddConst(-offset, out)
	floats.Scale(1/scale, out)
	return out
}

func clone(v []float64) []float64 {
	return append(make([]float64, 0, len(v)), v...)
}
