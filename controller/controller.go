// Package controller is the explicit time-marching driver of one solver.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNoTermination is returned by March when neither a time nor a step bound is given.
	ErrNoTermination = errors.New("march needs a total time or a step count")
	// ErrAlreadyMarched is returned by a second call to March.
	ErrAlreadyMarched = errors.New("controller already marched")
)

// Solver is the numerical solver being driven
type Solver interface {
	Initialize(ctx context.Context) error
	Advance(ctx context.Context, dt float64) error
	StableTimestep() float64
	// EndTimestep may veto or force termination
	EndTimestep(clock float64, step int, done bool) bool
	EndSimulation(step int) error
	Save(step int) error
}

// Coupling is the coupler hook set called around each solver step
type Coupling interface {
	StartTimestep(ctx context.Context, step int) error
	StableTimestep(ctx context.Context, dt float64) (float64, error)
	PreStep(ctx context.Context) error
	PostStep(ctx context.Context) error
	EndTimestep(ctx context.Context, done bool) (bool, error)
}

// State of the march loop
type State int

const (
	NotStarted State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Controller
type Options struct {
	SaveEvery int // call Solver.Save every SaveEvery steps, 0 disables
	Logger    *slog.Logger
}

// Controller marches a Solver, optionally coupled
type Controller struct {
	solver   Solver
	coupling Coupling
	opts     Options
	logger   *slog.Logger

	state State
	clock float64
	step  int
}

// New creates a controller; coupling may be nil for an uncoupled run.
func New(solver Solver, coupling Coupling, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{solver: solver, coupling: coupling, opts: opts, logger: logger}
}

func (c *Controller) State() State   { return c.state }
func (c *Controller) Clock() float64 { return c.clock }
func (c *Controller) Step() int      { return c.step }

// March advances until totalTime or steps is reached (a zero bound is ignored),
// subject to the solver's and the coupler's veto. EndSimulation is called once.
func (c *Controller) March(ctx context.Context, totalTime float64, steps int) error {
	if c.state != NotStarted {
		return ErrAlreadyMarched
	}
	if totalTime <= 0 && steps <= 0 {
		c.state = Done
		return ErrNoTermination
	}
	if err := c.solver.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.state = Running
	c.logger.Info("March started.", "totalTime", totalTime, "steps", steps)

	for done := false; !done; {
		if err := ctx.Err(); err != nil {
			return err
		}
		dt, err := c.stableTimestep(ctx)
		if err != nil {
			return err
		}
		if err := c.advance(ctx, dt); err != nil {
			return err
		}
		c.clock += dt
		c.step++

		if done, err = c.endTimestep(ctx, totalTime, steps); err != nil {
			return err
		}
		if c.opts.SaveEvery > 0 && c.step%c.opts.SaveEvery == 0 {
			if err := c.solver.Save(c.step); err != nil {
				return fmt.Errorf("save step %d: %w", c.step, err)
			}
		}
		c.logger.Debug("Step complete.", "step", c.step, "dt", dt, "clock", c.clock)
	}

	c.state = Done
	c.logger.Info("March finished.", "steps", c.step, "clock", c.clock)
	return c.solver.EndSimulation(c.step)
}

func (c *Controller) stableTimestep(ctx context.Context) (float64, error) {
	if c.coupling != nil {
		if err := c.coupling.StartTimestep(ctx, c.step); err != nil {
			return 0, err
		}
	}
	dt := c.solver.StableTimestep()
	if c.coupling == nil {
		return dt, nil
	}
	return c.coupling.StableTimestep(ctx, dt)
}

func (c *Controller) advance(ctx context.Context, dt float64) error {
	if c.coupling != nil {
		if err := c.coupling.PreStep(ctx); err != nil {
			return err
		}
	}
	if err := c.solver.Advance(ctx, dt); err != nil {
		return fmt.Errorf("advance step %d: %w", c.step, err)
	}
	if c.coupling != nil {
		return c.coupling.PostStep(ctx)
	}
	return nil
}

func (c *Controller) endTimestep(ctx context.Context, totalTime float64, steps int) (bool, error) {
	done := (steps > 0 && c.step >= steps) || (totalTime > 0 && c.clock >= totalTime*(1-1e-12))
	done = c.solver.EndTimestep(c.clock, c.step, done)
	if c.coupling == nil {
		return done, nil
	}
	return c.coupling.EndTimestep(ctx, done)
}
