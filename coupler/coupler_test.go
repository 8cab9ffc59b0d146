package coupler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/DGCouple/controller"
	"github.com/notargets/DGCouple/diffusion"
	"github.com/notargets/DGCouple/exchange"
	"github.com/notargets/DGCouple/geometry"
	"github.com/notargets/DGCouple/mesh"
	"github.com/notargets/DGCouple/metrics"
	"github.com/notargets/DGCouple/partitions"
	"github.com/notargets/DGCouple/transport"
)

// shear is linear in x so coarse-to-fine interpolation is exact
func shear(x []float64, t float64) []float64 {
	return []float64{x[1] * (1 + t), -x[0] * (1 + t)}
}

type groupSetup struct {
	ranks  int
	spec   mesh.RegularSpec
	params diffusion.Params
	tweak  func(*Config)
	// dtScale, when set, scales the timestep proposed by the solver of each rank
	dtScale func(rank int) float64
}

// scaledSolver proposes a different stable timestep than the solver it wraps
type scaledSolver struct {
	*diffusion.Solver
	factor float64
}

func (s scaledSolver) StableTimestep() float64 { return s.factor * s.Solver.StableTimestep() }

type rankResult struct {
	solver *diffusion.Solver
	ctl    *controller.Controller
	ex     *Exchanger
	local  *mesh.Local
}

type coupledRun struct {
	coarse, fine []rankResult
	rec          *metrics.Recorder
}

func runCoupled(t *testing.T, coarse, fine groupSetup, coarseSteps int) coupledRun {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := metrics.NewRecorder(nil)
	require.NoError(t, err)
	w := transport.NewWorld(coarse.ranks+fine.ranks, transport.WithRecorder(rec))
	worldRanks := func(first, n int) []int {
		r := make([]int, n)
		for i := range r {
			r[i] = first + i
		}
		return r
	}
	cg, err := w.Group("coarse", worldRanks(0, coarse.ranks)...)
	require.NoError(t, err)
	fg, err := w.Group("fine", worldRanks(coarse.ranks, fine.ranks)...)
	require.NoError(t, err)

	out := coupledRun{
		coarse: make([]rankResult, coarse.ranks),
		fine:   make([]rankResult, fine.ranks),
		rec:    rec,
	}
	eg, ctx := errgroup.WithContext(ctx)
	launch := func(role Role, setup groupSetup, group transport.Group, results []rankResult) {
		m, err := mesh.NewRegular(setup.spec)
		require.NoError(t, err)
		pb := &partitions.PartitionBuilder{NumElements: m.K(), NumRanks: setup.ranks,
			Strategy: partitions.AxisSlab, Centroids: m.Centroids()}
		layout, err := pb.BuildPartitions()
		require.NoError(t, err)

		for i, wr := range group.Ranks {
			i, wr := i, wr
			local, err := m.Local(layout, i)
			require.NoError(t, err)
			comm, err := w.Comm(group, wr)
			require.NoError(t, err)
			solver, err := diffusion.New(local, comm, setup.params)
			require.NoError(t, err)
			cfg := Config{
				Role: role, World: w, Coarse: cg, Fine: fg, WorldRank: wr,
				Mesh: local, State: solver, Recorder: rec,
			}
			if setup.tweak != nil {
				setup.tweak(&cfg)
			}
			ex, err := NewExchanger(cfg)
			require.NoError(t, err)
			var marched controller.Solver = solver
			if setup.dtScale != nil {
				marched = scaledSolver{Solver: solver, factor: setup.dtScale(i)}
			}
			ctl := controller.New(marched, New(ex), controller.Options{})
			results[i] = rankResult{solver: solver, ctl: ctl, ex: ex, local: local}

			eg.Go(func() error {
				if role == Coarse {
					return ctl.March(ctx, 0, coarseSteps)
				}
				return ctl.March(ctx, 1e9, 0)
			})
		}
	}
	launch(Coarse, coarse, cg, out.coarse)
	launch(Fine, fine, fg, out.fine)
	require.NoError(t, eg.Wait())
	return out
}

var (
	coarseSpec = mesh.RegularSpec{Origin: []float64{0, 0}, Counts: []int{8, 8}, Spacing: []float64{0.125, 0.125}}
	fineSpec   = mesh.RegularSpec{Origin: []float64{0.25, 0.25}, Counts: []int{8, 8}, Spacing: []float64{0.0625, 0.0625}}
)

func coarseParams() diffusion.Params {
	return diffusion.Params{Diffusivity: 1, Viscosity: 1, CFL: 0.9, Velocity: shear}
}

func fineParams() diffusion.Params {
	return diffusion.Params{Diffusivity: 1, Viscosity: 1, CFL: 0.9, InitialTemperature: 1}
}

func checkCoupledState(t *testing.T, run coupledRun, frame geometry.Frame, velocityScale float64) {
	coarseClock := run.coarse[0].ctl.Clock()
	for _, c := range run.coarse {
		assert.Equal(t, 3, c.ctl.Step())
		assert.Equal(t, controller.Done, c.ctl.State())
	}
	for i, f := range run.fine {
		assert.InDelta(t, coarseClock, f.ctl.Clock(), 1e-12, "fine rank %d stops on the coarse boundary", i)
		assert.Greater(t, f.ctl.Step(), 3, "fine sub-cycles")
		assert.Equal(t, CatchupPending, f.ex.Negotiator().State())

		// Boundary velocity is the coarse velocity at the final coarse time
		v := f.solver.BoundaryState(exchange.Velocity)
		for _, n := range f.local.Owned {
			if !isBoundary(f.local, n) {
				continue
			}
			want := shear(frame.ToGlobal(f.local.Vertices[n]), coarseClock)
			for d := range want {
				want[d] /= velocityScale
			}
			assert.InDeltaSlicef(t, want, v[2*n:2*n+2], 1e-12, "fine node %d", n)
		}
	}
	// The fine temperature (1) replaced the coarse one (0) inside the fine box
	for _, c := range run.coarse {
		centre := c.local.NodeIndex([]int{4, 4})
		if c.local.Owns(centre) {
			assert.Equal(t, 1.0, c.solver.BoundaryState(exchange.Temperature)[centre])
		}
		assert.Equal(t, 0.0, c.solver.BoundaryState(exchange.Temperature)[0])
	}
}

func isBoundary(l *mesh.Local, n int) bool {
	for _, b := range l.BoundaryNodes(mesh.Exclusion{}) {
		if b == n {
			return true
		}
	}
	return false
}

func TestCoupled_SingleRankGroups(t *testing.T) {
	run := runCoupled(t,
		groupSetup{ranks: 1, spec: coarseSpec, params: coarseParams()},
		groupSetup{ranks: 1, spec: fineSpec, params: fineParams()},
		3)
	checkCoupledState(t, run, geometry.Frame{}, 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(run.rec.Catchups))
	assert.Equal(t, 3.0, testutil.ToFloat64(run.rec.Rebuilds.WithLabelValues("coarse")))
	assert.Equal(t, 3.0, testutil.ToFloat64(run.rec.Rebuilds.WithLabelValues("fine")))
	assert.Equal(t, 32.0, testutil.ToFloat64(run.rec.SinkPoints.WithLabelValues("fine", "VBC")))
	assert.Equal(t, 25.0, testutil.ToFloat64(run.rec.SinkPoints.WithLabelValues("coarse", "TIntr")))
	assert.Equal(t, 16.0, testutil.ToFloat64(run.rec.SinkPoints.WithLabelValues("coarse", "SBC")))

	// Coarse velocity goes out every coarse step, fine temperature only at catchup
	assert.Equal(t, 3.0, testutil.ToFloat64(run.rec.Messages.WithLabelValues("coarse+1", "field_0")))
	assert.Equal(t, 3.0, testutil.ToFloat64(run.rec.Messages.WithLabelValues("fine+0", "field_1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(run.rec.Messages.WithLabelValues("fine+0", "field_2")))

	fineBox := run.coarse[0].ex.RemoteBox()
	assert.True(t, fineBox.Equal(geometry.BoundedBox{Min: []float64{0.25, 0.25}, Max: []float64{0.75, 0.75}}, 1e-15))
}

func TestCoupled_MultiRankGroups(t *testing.T) {
	run := runCoupled(t,
		groupSetup{ranks: 2, spec: coarseSpec, params: coarseParams()},
		groupSetup{ranks: 3, spec: fineSpec, params: fineParams()},
		3)
	checkCoupledState(t, run, geometry.Frame{}, 1)
	assert.Equal(t, 9.0, testutil.ToFloat64(run.rec.Catchups), "three fine ranks, three intervals")

	// Every fine rank ends with the same temperature field
	ref := run.fine[0].solver.BoundaryState(exchange.Temperature)
	for _, f := range run.fine[1:] {
		assert.Equal(t, ref, f.solver.BoundaryState(exchange.Temperature))
	}
}

func TestCoupled_FineRanksDisagreeOnTimestep(t *testing.T) {
	fine := groupSetup{ranks: 2, spec: fineSpec, params: fineParams(), dtScale: func(rank int) float64 {
		if rank == 1 {
			return 0.7
		}
		return 1
	}}
	run := runCoupled(t, groupSetup{ranks: 1, spec: coarseSpec, params: coarseParams()}, fine, 3)
	checkCoupledState(t, run, geometry.Frame{}, 1)

	// Both fine ranks take the smaller step, six sub-steps per coarse interval
	assert.Equal(t, run.fine[0].ctl.Step(), run.fine[1].ctl.Step())
	assert.Equal(t, 18, run.fine[0].ctl.Step())
	assert.Equal(t, run.fine[0].ctl.Clock(), run.fine[1].ctl.Clock())
	assert.Equal(t, 6.0, testutil.ToFloat64(run.rec.Catchups))
}

func TestCoupled_DimensionalTransformationalFine(t *testing.T) {
	scale, err := exchange.NewScaling(2, 1, 1, 0)
	require.NoError(t, err)
	frame := geometry.Frame{Offset: []float64{0.25, 0.25}}
	local := fineSpec
	local.Origin = []float64{0, 0}

	run := runCoupled(t,
		groupSetup{ranks: 1, spec: coarseSpec, params: coarseParams(), tweak: func(c *Config) {
			c.SendTraction = true
		}},
		groupSetup{ranks: 1, spec: local, params: fineParams(), tweak: func(c *Config) {
			c.Dimensional, c.Converter = true, scale
			c.Transformational, c.Frame = true, frame
			c.SendTraction = true
		}},
		3)
	checkCoupledState(t, run, frame, 2)
	assert.True(t, run.fine[0].ex.RemoteBox().Equal(
		geometry.BoundedBox{Min: []float64{-0.25, -0.25}, Max: []float64{0.75, 0.75}}, 1e-15),
		"coarse box seen in the fine frame")
}

func TestNewExchanger_Validation(t *testing.T) {
	w := transport.NewWorld(2)
	cg, _ := w.Group("coarse", 0)
	fg, _ := w.Group("fine", 1)
	m, err := mesh.NewRegular(coarseSpec)
	require.NoError(t, err)
	layout, err := (&partitions.PartitionBuilder{NumElements: m.K(), NumRanks: 1}).BuildPartitions()
	require.NoError(t, err)
	local, err := m.Local(layout, 0)
	require.NoError(t, err)
	comm, _ := w.Comm(cg, 0)
	solver, err := diffusion.New(local, comm, coarseParams())
	require.NoError(t, err)

	base := Config{Role: Coarse, World: w, Coarse: cg, Fine: fg, WorldRank: 0, Mesh: local, State: solver}
	_, err = NewExchanger(base)
	require.NoError(t, err)

	bad := base
	bad.Dimensional = true
	_, err = NewExchanger(bad)
	assert.Error(t, err)

	bad = base
	bad.Transformational, bad.Frame = true, geometry.Frame{Offset: []float64{1, 2, 3}}
	_, err = NewExchanger(bad)
	assert.Error(t, err)

	bad = base
	bad.Fine = cg
	_, err = NewExchanger(bad)
	assert.ErrorIs(t, err, exchange.ErrConfigurationMismatch)

	bad = base
	bad.WorldRank = 1
	_, err = NewExchanger(bad)
	assert.ErrorIs(t, err, transport.ErrNotMember)
}

func TestUpdateCouplingInfo_FineOutsideCoarse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w := transport.NewWorld(2)
	cg, _ := w.Group("coarse", 0)
	fg, _ := w.Group("fine", 1)
	outside := fineSpec
	outside.Origin = []float64{0.75, 0.25} // reaches x = 1.25

	newExchanger := func(role Role, spec mesh.RegularSpec, group transport.Group, wr int) *Exchanger {
		m, err := mesh.NewRegular(spec)
		require.NoError(t, err)
		layout, err := (&partitions.PartitionBuilder{NumElements: m.K(), NumRanks: 1}).BuildPartitions()
		require.NoError(t, err)
		local, err := m.Local(layout, 0)
		require.NoError(t, err)
		comm, err := w.Comm(group, wr)
		require.NoError(t, err)
		solver, err := diffusion.New(local, comm, coarseParams())
		require.NoError(t, err)
		ex, err := NewExchanger(Config{Role: role, World: w, Coarse: cg, Fine: fg, WorldRank: wr,
			Mesh: local, State: solver})
		require.NoError(t, err)
		return ex
	}
	coarse := newExchanger(Coarse, coarseSpec, cg, 0)
	fine := newExchanger(Fine, outside, fg, 1)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return coarse.UpdateCouplingInfo(gctx) })
	eg.Go(func() error { return fine.UpdateCouplingInfo(gctx) })
	assert.ErrorIs(t, eg.Wait(), exchange.ErrConfigurationMismatch)
}
