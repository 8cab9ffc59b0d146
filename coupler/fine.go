package coupler

import (
	"context"
	"fmt"

	"github.com/notargets/DGCouple/exchange"
	"github.com/notargets/DGCouple/geometry"
)

// buildFine creates this rank's velocity sink and one temperature and one stress
// source per coarse rank. The fine domain must lie inside the coarse one.
func (e *Exchanger) buildFine(ctx context.Context, next *coupling, groupBox geometry.BoundedBox) error {
	m := e.cfg.Mesh
	overlap, ok := next.remoteBox.Expand(m.Tolerance()).Intersect(groupBox)
	if !ok || !overlap.Equal(groupBox, 0) {
		return fmt.Errorf("fine domain %v not inside coarse domain %v: %w",
			groupBox, next.remoteBox, exchange.ErrConfigurationMismatch)
	}
	conv := e.converter()

	boundary := m.OwnedOf(m.BoundaryNodes(e.cfg.Exclusion))
	vSink, err := e.newSink(ctx, e.vbcComms[0], exchange.VelocityBoundary, boundary)
	if err != nil {
		return err
	}
	next.vInlet = exchange.NewVInlet(vSink, e.cfg.State, conv)
	if e.current != nil {
		next.vInlet.Inherit(e.current.vInlet)
	}

	for i, comm := range e.intComms {
		src, err := exchange.CreateSource(ctx, comm, comm.Size()-1, m, m.Box(), e.sourceOptions())
		if err != nil {
			return fmt.Errorf("TIntr source for coarse rank %d: %w", i, err)
		}
		next.tOutlets = append(next.tOutlets,
			exchange.NewOutlet(src, e.cfg.State, exchange.Temperature, exchange.TemperatureInterior, conv))
		src, err = exchange.CreateSource(ctx, comm, comm.Size()-1, m, m.Box(), e.sourceOptions())
		if err != nil {
			return fmt.Errorf("SBC source for coarse rank %d: %w", i, err)
		}
		next.sOutlets = append(next.sOutlets,
			exchange.NewOutlet(src, e.cfg.State, e.stressField(), exchange.StressBoundary, conv))
	}
	return nil
}

// recvVBC receives the end of the new interval. The inlet was rebuilt with the
// interval and already holds the start state taken over from its predecessor.
func (e *Exchanger) recvVBC(ctx context.Context) error {
	return e.current.vInlet.Recv(ctx)
}

// imposeVBC writes the time-interpolated boundary velocity
func (e *Exchanger) imposeVBC() error {
	return e.current.vInlet.Impose()
}

// sendInterior sends the fine temperature to every coarse rank
func (e *Exchanger) sendInterior(ctx context.Context) error {
	for _, out := range e.current.tOutlets {
		if err := out.Send(ctx); err != nil {
			return err
		}
	}
	return nil
}

// sendBoundary sends the fine stress (or traction) to every coarse rank
func (e *Exchanger) sendBoundary(ctx context.Context) error {
	for _, out := range e.current.sOutlets {
		if err := out.Send(ctx); err != nil {
			return err
		}
	}
	return nil
}
