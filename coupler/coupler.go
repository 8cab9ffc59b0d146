package coupler

import (
	"context"
	"fmt"
)

// Coupler drives one Exchanger through the per-step protocol. Its hooks are
// called by the controller in this order: StartTimestep, StableTimestep, PreStep,
// (solver advance), PostStep, EndTimestep.
type Coupler struct {
	ex *Exchanger
}

// New wraps ex
func New(ex *Exchanger) *Coupler { return &Coupler{ex: ex} }

// Exchanger returns the wrapped exchanger
func (c *Coupler) Exchanger() *Exchanger { return c.ex }

// StartTimestep receives what the fine group sent at the end of its last
// sub-cycle. Only the coarse side acts, and not on the first step.
func (c *Coupler) StartTimestep(ctx context.Context, step int) error {
	e := c.ex
	if e.cfg.Role != Coarse || step == 0 {
		return nil
	}
	if err := e.recvImposeInterior(ctx); err != nil {
		return fmt.Errorf("step %d: %w", step, err)
	}
	if err := e.recvImposeBoundary(ctx); err != nil {
		return fmt.Errorf("step %d: %w", step, err)
	}
	return nil
}

// StableTimestep turns the solver's proposal into the timestep to take.
//
// The proposals of all ranks in the group are first reduced to the smallest one.
//
// Coarse: the proposal is exchanged with the fine group and the answer replaces
// it; geometry is rebuilt on every coarse step.
//
// Fine: a new coarse interval is negotiated (and geometry rebuilt) only when the
// previous step landed on the coarse boundary; the step is clamped so it never
// passes that boundary.
func (c *Coupler) StableTimestep(ctx context.Context, dt float64) (float64, error) {
	e := c.ex
	role := e.cfg.Role.String()
	dt, err := e.groupTimestep(ctx, dt)
	if err != nil {
		return 0, fmt.Errorf("group timestep: %w", err)
	}
	if e.cfg.Role == Coarse {
		if !(dt > 0) {
			return 0, fmt.Errorf("coarse timestep %g: %w", dt, ErrInvalidTimestep)
		}
		agreed, err := e.exchangeTimestep(ctx, dt)
		if err != nil {
			return 0, fmt.Errorf("timestep exchange: %w", err)
		}
		if err := e.UpdateCouplingInfo(ctx); err != nil {
			return 0, err
		}
		e.cfg.Recorder.Negotiated(role, agreed)
		return agreed, nil
	}

	step, err := e.negotiator.Next(dt, func() (float64, error) {
		cgeT, err := e.exchangeTimestep(ctx, dt)
		if err != nil {
			return 0, fmt.Errorf("timestep exchange: %w", err)
		}
		if err := e.UpdateCouplingInfo(ctx); err != nil {
			return 0, err
		}
		e.toApplyBC = true
		return cgeT, nil
	})
	if err != nil {
		return 0, err
	}
	e.lastStep = step
	e.current.vInlet.SetTimes(step.FgeT, step.CgeT)
	if step.Catchup {
		e.cfg.Recorder.CaughtUp()
	}
	e.cfg.Recorder.SubCycle(step.FgeT, step.CgeT)
	e.cfg.Recorder.Negotiated(role, step.Dt)
	e.logger.Debug("Fine timestep negotiated.", "dt", step.Dt, "fge_t", step.FgeT, "cge_t", step.CgeT,
		"state", e.negotiator.State().String())
	return step.Dt, nil
}

// PreStep imposes coupling boundary conditions before the local solve. The fine
// side receives a new velocity state once per coarse interval and imposes the
// time-interpolated value on every sub-step.
func (c *Coupler) PreStep(ctx context.Context) error {
	e := c.ex
	if e.cfg.Role != Fine {
		return nil
	}
	if e.toApplyBC {
		if err := e.recvVBC(ctx); err != nil {
			return err
		}
		e.toApplyBC = false
	}
	return e.imposeVBC()
}

// PostStep sends fields after the local solve: coarse velocity every step, fine
// temperature and stress only on the step that lands on the coarse boundary.
func (c *Coupler) PostStep(ctx context.Context) error {
	e := c.ex
	if e.cfg.Role == Coarse {
		return e.applyBoundaryConditions(ctx)
	}
	if !e.lastStep.Catchup {
		return nil
	}
	if err := e.sendInterior(ctx); err != nil {
		return err
	}
	return e.sendBoundary(ctx)
}

// EndTimestep agrees on termination with the remote group. The fine side only
// exchanges the flag on coarse-aligned steps and keeps running in between.
func (c *Coupler) EndTimestep(ctx context.Context, done bool) (bool, error) {
	e := c.ex
	if e.cfg.Role == Fine && !e.lastStep.Catchup {
		return false, nil
	}
	return e.ExchangeSignal(ctx, done)
}
