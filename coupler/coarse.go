package coupler

import (
	"context"
	"fmt"

	"github.com/notargets/DGCouple/exchange"
)

// buildCoarse creates one velocity source per fine rank and this rank's
// temperature and stress sinks.
func (e *Exchanger) buildCoarse(ctx context.Context, next *coupling) error {
	m := e.cfg.Mesh
	conv := e.converter()
	for j, comm := range e.vbcComms {
		src, err := exchange.CreateSource(ctx, comm, comm.Size()-1, m, m.Box(), e.sourceOptions())
		if err != nil {
			return fmt.Errorf("VBC source for fine rank %d: %w", j, err)
		}
		next.vbcOutlets = append(next.vbcOutlets,
			exchange.NewOutlet(src, e.cfg.State, exchange.Velocity, exchange.VelocityBoundary, conv))
	}

	comm := e.intComms[0]
	interior := m.OwnedOf(m.InteriorNodes(next.remoteBox))
	tSink, err := e.newSink(ctx, comm, exchange.TemperatureInterior, interior)
	if err != nil {
		return err
	}
	next.tInlet = exchange.NewInlet(tSink, e.cfg.State, exchange.Temperature, exchange.TemperatureInterior, conv)

	boundary := m.OwnedOf(m.InnerBoundaryNodes(next.remoteBox, e.cfg.Exclusion))
	sSink, err := e.newSink(ctx, comm, exchange.StressBoundary, boundary)
	if err != nil {
		return err
	}
	next.sInlet = exchange.NewInlet(sSink, e.cfg.State, e.stressField(), exchange.StressBoundary, conv)
	return nil
}

// recvImposeInterior receives the fine temperature inside the fine domain
func (e *Exchanger) recvImposeInterior(ctx context.Context) error {
	if err := e.current.tInlet.Recv(ctx); err != nil {
		return err
	}
	return e.current.tInlet.Impose()
}

// recvImposeBoundary receives the fine stress on the trace of the fine domain
func (e *Exchanger) recvImposeBoundary(ctx context.Context) error {
	if err := e.current.sInlet.Recv(ctx); err != nil {
		return err
	}
	return e.current.sInlet.Impose()
}

// applyBoundaryConditions sends the coarse velocity to every fine rank
func (e *Exchanger) applyBoundaryConditions(ctx context.Context) error {
	for _, out := range e.current.vbcOutlets {
		if err := out.Send(ctx); err != nil {
			return err
		}
	}
	return nil
}
