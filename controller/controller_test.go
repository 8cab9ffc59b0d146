package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSolver struct {
	dt         float64
	calls      []string
	advanced   []float64
	saved      []int
	ended      []int
	minSteps   int // veto termination before this step
	advanceErr error
}

func (s *fakeSolver) Initialize(context.Context) error {
	s.calls = append(s.calls, "initialize")
	return nil
}

func (s *fakeSolver) Advance(_ context.Context, dt float64) error {
	s.calls = append(s.calls, "advance")
	s.advanced = append(s.advanced, dt)
	return s.advanceErr
}

func (s *fakeSolver) StableTimestep() float64 { return s.dt }

func (s *fakeSolver) EndTimestep(_ float64, step int, done bool) bool {
	return done && step >= s.minSteps
}

func (s *fakeSolver) EndSimulation(step int) error {
	s.ended = append(s.ended, step)
	return nil
}

func (s *fakeSolver) Save(step int) error {
	s.saved = append(s.saved, step)
	return nil
}

type fakeCoupling struct {
	log      *[]string
	maxDt    float64
	holdStep int // keep running until this step
	step     int
}

func (c *fakeCoupling) StartTimestep(_ context.Context, step int) error {
	*c.log = append(*c.log, "start")
	c.step = step
	return nil
}

func (c *fakeCoupling) StableTimestep(_ context.Context, dt float64) (float64, error) {
	*c.log = append(*c.log, "stable")
	if c.maxDt > 0 && dt > c.maxDt {
		return c.maxDt, nil
	}
	return dt, nil
}

func (c *fakeCoupling) PreStep(context.Context) error {
	*c.log = append(*c.log, "pre")
	return nil
}

func (c *fakeCoupling) PostStep(context.Context) error {
	*c.log = append(*c.log, "post")
	return nil
}

func (c *fakeCoupling) EndTimestep(_ context.Context, done bool) (bool, error) {
	*c.log = append(*c.log, "end")
	return done && c.step+1 >= c.holdStep, nil
}

func TestMarch_NoBoundIsAnError(t *testing.T) {
	s := &fakeSolver{dt: 1}
	c := New(s, nil, Options{})
	err := c.March(context.Background(), 0, 0)
	assert.True(t, errors.Is(err, ErrNoTermination))
	assert.Empty(t, s.advanced)
	assert.Empty(t, s.calls)
	assert.Equal(t, Done, c.State())
}

func TestMarch_StepBoundAndSave(t *testing.T) {
	s := &fakeSolver{dt: 0.5}
	c := New(s, nil, Options{SaveEvery: 2})
	assert.Equal(t, NotStarted, c.State())
	require.NoError(t, c.March(context.Background(), 0, 5))

	assert.Len(t, s.advanced, 5)
	assert.Equal(t, []int{2, 4}, s.saved)
	assert.Equal(t, []int{5}, s.ended)
	assert.Equal(t, 5, c.Step())
	assert.InDelta(t, 2.5, c.Clock(), 1e-15)
	assert.Equal(t, Done, c.State())

	assert.True(t, errors.Is(c.March(context.Background(), 0, 5), ErrAlreadyMarched))
}

func TestMarch_TimeBound(t *testing.T) {
	s := &fakeSolver{dt: 0.1}
	c := New(s, nil, Options{})
	require.NoError(t, c.March(context.Background(), 1, 0))
	assert.Equal(t, 10, c.Step())
}

func TestMarch_SolverVeto(t *testing.T) {
	s := &fakeSolver{dt: 1, minSteps: 3}
	c := New(s, nil, Options{})
	require.NoError(t, c.March(context.Background(), 0, 1))
	assert.Equal(t, 3, c.Step())
}

func TestMarch_CouplingOrderAndClamp(t *testing.T) {
	s := &fakeSolver{dt: 1}
	cpl := &fakeCoupling{log: &s.calls, maxDt: 0.25, holdStep: 2}
	c := New(s, cpl, Options{})
	require.NoError(t, c.March(context.Background(), 0, 1))

	assert.Equal(t, []float64{0.25, 0.25}, s.advanced, "coupler vetoed the first stop")
	assert.Equal(t, []string{
		"initialize",
		"start", "stable", "pre", "advance", "post", "end",
		"start", "stable", "pre", "advance", "post", "end",
	}, s.calls)
	assert.Equal(t, []int{2}, s.ended)
}

func TestMarch_AdvanceError(t *testing.T) {
	boom := errors.New("diverged")
	s := &fakeSolver{dt: 1, advanceErr: boom}
	c := New(s, nil, Options{})
	err := c.March(context.Background(), 0, 3)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.ended)
	assert.Equal(t, Running, c.State())
}

func TestMarch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeSolver{dt: 1}
	err := New(s, nil, Options{}).March(ctx, 0, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.advanced)
}
