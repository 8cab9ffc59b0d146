// Package diffusion is a small explicit solver used to drive the coupling layer:
// heat diffusion on a structured mesh, a velocity field that is either prescribed
// or diffused from its boundary values, and the deviatoric viscous stress of that
// velocity. Each rank updates the nodes it owns and shares them with the rest of
// its group after every update.
package diffusion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/DGCouple/controller"
	"github.com/notargets/DGCouple/exchange"
	"github.com/notargets/DGCouple/mesh"
	"github.com/notargets/DGCouple/transport"
)

// VelocityFunc prescribes velocity at x and time t
type VelocityFunc func(x []float64, t float64) []float64

// Params are the physical and numerical parameters
type Params struct {
	Diffusivity        float64 // thermal diffusivity
	Viscosity          float64 // dynamic viscosity, also the velocity diffusion rate
	CFL                float64 // fraction of the explicit stability limit
	InitialTemperature float64
	// InitialField, when set, replaces InitialTemperature
	InitialField func(x []float64) float64
	// Velocity, when set, prescribes the velocity everywhere. Otherwise the velocity
	// diffuses from the values held on the mesh boundary.
	Velocity VelocityFunc
	// Output receives one summary line per Save
	Output io.Writer
	Logger *slog.Logger
}

// Solver implements controller.Solver and exchange.FieldState
type Solver struct {
	local  *mesh.Local
	comm   transport.Communicator
	params Params
	logger *slog.Logger

	clock float64
	t     []float64 // temperature, per node
	v     []float64 // velocity, Dim per node
	s     []float64 // deviatoric stress, Voigt per node
	tr    []float64 // traction on the outer boundary, Dim per node

	imposedStress   []bool // stress replaced by coupling data
	imposedTraction []bool
	boundary        []bool // outer boundary nodes
	normals         [][]float64
}

var (
	_ controller.Solver   = (*Solver)(nil)
	_ exchange.FieldState = (*Solver)(nil)
)

// New creates the solver for one rank; comm is the rank's own process group.
func New(local *mesh.Local, comm transport.Communicator, params Params) (*Solver, error) {
	if local == nil || comm == nil {
		return nil, fmt.Errorf("diffusion solver needs a local mesh and a communicator")
	}
	if params.Diffusivity < 0 || params.Viscosity < 0 {
		return nil, fmt.Errorf("diffusivity %g and viscosity %g must be non-negative",
			params.Diffusivity, params.Viscosity)
	}
	if params.Diffusivity == 0 && params.Viscosity == 0 {
		return nil, fmt.Errorf("diffusivity and viscosity cannot both be zero")
	}
	if !(params.CFL > 0 && params.CFL <= 1) {
		return nil, fmt.Errorf("cfl %g not in (0,1]", params.CFL)
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	nn, dim := local.NumNodes(), local.Dim
	s := &Solver{
		local:           local,
		comm:            comm,
		params:          params,
		logger:          logger,
		t:               make([]float64, nn),
		v:               make([]float64, nn*dim),
		s:               make([]float64, nn*exchange.Stress.Components(dim)),
		tr:              make([]float64, nn*dim),
		imposedStress:   make([]bool, nn),
		imposedTraction: make([]bool, nn),
		boundary:        make([]bool, nn),
		normals:         make([][]float64, nn),
	}
	for _, n := range local.BoundaryNodes(mesh.Exclusion{}) {
		s.boundary[n] = true
		s.normals[n] = s.outwardNormal(n)
	}
	return s, nil
}

func (s *Solver) outwardNormal(n int) []float64 {
	ijk := s.local.NodeIJK(n)
	nrm := make([]float64, s.local.Dim)
	for d := range nrm {
		switch ijk[d] {
		case 0:
			nrm[d] = -1
		case s.local.NodeCounts[d] - 1:
			nrm[d] = 1
		}
	}
	if l := floats.Norm(nrm, 2); l > 0 {
		floats.Scale(1/l, nrm)
	}
	return nrm
}

// Initialize sets the initial temperature and velocity and the derived stress
func (s *Solver) Initialize(context.Context) error {
	s.clock = 0
	for n, x := range s.local.Vertices {
		s.t[n] = s.params.InitialTemperature
		if s.params.InitialField != nil {
			s.t[n] = s.params.InitialField(x)
		}
	}
	for i := range s.v {
		s.v[i] = 0
	}
	s.prescribeVelocity()
	s.computeStress()
	return nil
}

// Clock returns the solver's simulation time
func (s *Solver) Clock() float64 { return s.clock }

// StableTimestep is CFL times the explicit diffusion limit h²/(2·dim·rate)
func (s *Solver) StableTimestep() float64 {
	h := floats.Min(s.local.Spec.Spacing)
	rate := math.Max(s.params.Diffusivity, s.params.Viscosity)
	return s.params.CFL * h * h / (2 * float64(s.local.Dim) * rate)
}

// Advance takes one explicit step of length dt
func (s *Solver) Advance(ctx context.Context, dt float64) error {
	if !(dt > 0) {
		return fmt.Errorf("timestep %g must be positive", dt)
	}
	// Coupling data imposed on owned nodes reaches every rank before the update.
	if err := s.share(ctx); err != nil {
		return err
	}
	dim := s.local.Dim
	tNew := append([]float64(nil), s.t...)
	vNew := append([]float64(nil), s.v...)
	for _, n := range s.local.Owned {
		if s.boundary[n] {
			continue
		}
		tNew[n] += dt * s.params.Diffusivity * s.laplacian(s.t, 1, n, 0)
		if s.params.Velocity == nil {
			for c := 0; c < dim; c++ {
				vNew[n*dim+c] += dt * s.params.Viscosity * s.laplacian(s.v, dim, n, c)
			}
		}
	}
	s.t, s.v = tNew, vNew
	s.clock += dt
	s.prescribeVelocity()

	if err := s.share(ctx); err != nil {
		return err
	}
	for _, x := range s.t {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("temperature diverged at t=%g", s.clock)
		}
	}
	s.computeStress()
	return nil
}

func (s *Solver) prescribeVelocity() {
	if s.params.Velocity == nil {
		return
	}
	dim := s.local.Dim
	for n, x := range s.local.Vertices {
		copy(s.v[n*dim:(n+1)*dim], s.params.Velocity(x, s.clock))
	}
}

// laplacian of component c of a field with ncomp values per node, at an interior node
func (s *Solver) laplacian(f []float64, ncomp, n, c int) float64 {
	ijk := s.local.NodeIJK(n)
	sum := 0.0
	for d := 0; d < s.local.Dim; d++ {
		h := s.local.Spec.Spacing[d]
		ijk[d]--
		lo := s.local.NodeIndex(ijk)
		ijk[d] += 2
		hi := s.local.NodeIndex(ijk)
		ijk[d]--
		sum += (f[lo*ncomp+c] - 2*f[n*ncomp+c] + f[hi*ncomp+c]) / (h * h)
	}
	return sum
}

// gradient returns ∂f_c/∂x_d at node n, central inside and one-sided on the boundary
func (s *Solver) gradient(f []float64, ncomp, n, c, d int) float64 {
	ijk := s.local.NodeIJK(n)
	i := ijk[d]
	lo, hi := i-1, i+1
	if lo < 0 {
		lo = i
	}
	if hi >= s.local.NodeCounts[d] {
		hi = i
	}
	if lo == hi {
		return 0
	}
	ijk[d] = lo
	a := s.local.NodeIndex(ijk)
	ijk[d] = hi
	b := s.local.NodeIndex(ijk)
	return (f[b*ncomp+c] - f[a*ncomp+c]) / (float64(hi-lo) * s.local.Spec.Spacing[d])
}

// voigt lists the tensor index pairs in storage order: diagonal, then xy, xz, yz
func voigt(dim int) [][2]int {
	pairs := make([][2]int, 0, dim*(dim+1)/2)
	for a := 0; a < dim; a++ {
		pairs = append(pairs, [2]int{a, a})
	}
	for a := 0; a < dim; a++ {
		for b := a + 1; b < dim; b++ {
			pairs = append(pairs, [2]int{a, b})
		}
	}
	return pairs
}

// computeStress evaluates σ = 2η(ε - tr(ε)/dim I) and the boundary traction σ·n.
// Nodes holding imposed coupling values keep them.
func (s *Solver) computeStress() {
	dim := s.local.Dim
	pairs := voigt(dim)
	ns := len(pairs)
	eta := s.params.Viscosity
	grad := make([][]float64, dim)
	for a := range grad {
		grad[a] = make([]float64, dim)
	}
	sigma := make([][]float64, dim)
	for a := range sigma {
		sigma[a] = make([]float64, dim)
	}
	for n := range s.t {
		for a := 0; a < dim; a++ {
			for b := 0; b < dim; b++ {
				grad[a][b] = s.gradient(s.v, dim, n, a, b)
			}
		}
		trace := 0.0
		for a := 0; a < dim; a++ {
			trace += grad[a][a]
		}
		for a := 0; a < dim; a++ {
			for b := 0; b < dim; b++ {
				e := 0.5 * (grad[a][b] + grad[b][a])
				if a == b {
					e -= trace / float64(dim)
				}
				sigma[a][b] = 2 * eta * e
			}
		}
		if !s.imposedStress[n] {
			for k, p := range pairs {
				s.s[n*ns+k] = sigma[p[0]][p[1]]
			}
		}
		if !s.imposedTraction[n] {
			for a := 0; a < dim; a++ {
				t := 0.0
				if s.boundary[n] {
					for b := 0; b < dim; b++ {
						t += sigma[a][b] * s.normals[n][b]
					}
				}
				s.tr[n*dim+a] = t
			}
		}
	}
}

// share sends this rank's owned temperature and velocity to every other rank of
// the group and overwrites the remote-owned nodes with what they send.
func (s *Solver) share(ctx context.Context) error {
	size, rank := s.comm.Size(), s.comm.Rank()
	if size == 1 {
		return nil
	}
	dim := s.local.Dim
	payload := make([]float64, 0, len(s.local.Owned)*(1+dim))
	for _, n := range s.local.Owned {
		payload = append(payload, s.t[n])
		payload = append(payload, s.v[n*dim:(n+1)*dim]...)
	}
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		if err := s.comm.Send(ctx, r, transport.TagHalo, payload); err != nil {
			return err
		}
	}
	for r := 0; r < size; r++ {
		if r == rank {
			continue
		}
		p, err := s.comm.Recv(ctx, r, transport.TagHalo)
		if err != nil {
			return err
		}
		j := 0
		for n, owner := range s.local.Owners {
			if owner != r {
				continue
			}
			if j+1+dim > len(p) {
				return fmt.Errorf("halo from rank %d too short: %w", r, exchange.ErrConfigurationMismatch)
			}
			s.t[n] = p[j]
			copy(s.v[n*dim:(n+1)*dim], p[j+1:j+1+dim])
			j += 1 + dim
		}
		if j != len(p) {
			return fmt.Errorf("halo from rank %d has %d values, expected %d: %w",
				r, len(p), j, exchange.ErrConfigurationMismatch)
		}
	}
	return nil
}

// EndTimestep never vetoes
func (s *Solver) EndTimestep(_ float64, _ int, done bool) bool { return done }

// EndSimulation logs the final state
func (s *Solver) EndSimulation(step int) error {
	s.logger.Info("Simulation finished.", "step", step, "clock", s.clock,
		"tMin", floats.Min(s.t), "tMax", floats.Max(s.t))
	return nil
}

// Save writes one summary line to Output
func (s *Solver) Save(step int) error {
	if s.params.Output == nil {
		return nil
	}
	_, err := fmt.Fprintf(s.params.Output, "step %6d  t=%-12.6g  T[min,max]=[%.6g, %.6g]  |v|max=%.6g\n",
		step, s.clock, floats.Min(s.t), floats.Max(s.t), s.maxSpeed())
	return err
}

func (s *Solver) maxSpeed() float64 {
	dim := s.local.Dim
	m := 0.0
	for n := range s.t {
		m = math.Max(m, floats.Norm(s.v[n*dim:(n+1)*dim], 2))
	}
	return m
}

// BoundaryState returns f at every node
func (s *Solver) BoundaryState(f exchange.Field) []float64 {
	switch f {
	case exchange.Velocity:
		return s.v
	case exchange.Temperature:
		return s.t
	case exchange.Stress:
		return s.s
	case exchange.Traction:
		return s.tr
	}
	return nil
}

// ApplyBoundaryState overwrites f at nodes. Imposed stress and traction stay in
// place until imposed again.
func (s *Solver) ApplyBoundaryState(f exchange.Field, nodes []int, values []float64) error {
	nc := f.Components(s.local.Dim)
	if len(values) != len(nodes)*nc {
		return fmt.Errorf("%s: %d values for %d nodes x %d", f, len(values), len(nodes), nc)
	}
	dst := s.BoundaryState(f)
	if dst == nil {
		return fmt.Errorf("unknown field %v", f)
	}
	for i, n := range nodes {
		if n < 0 || n >= len(s.t) {
			return fmt.Errorf("%s: node %d outside mesh", f, n)
		}
		copy(dst[n*nc:(n+1)*nc], values[i*nc:(i+1)*nc])
		switch f {
		case exchange.Stress:
			s.imposedStress[n] = true
		case exchange.Traction:
			s.imposedTraction[n] = true
		}
	}
	return nil
}
