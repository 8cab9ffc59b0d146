// Package coupler runs the coupling protocol between a coarse and a fine solver.
// Each rank of either group owns one Exchanger specialised by its Role; the
// Coupler drives it through the per-step hooks the controller calls.
package coupler

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/DGCouple/exchange"
	"github.com/notargets/DGCouple/geometry"
	"github.com/notargets/DGCouple/mesh"
	"github.com/notargets/DGCouple/metrics"
	"github.com/notargets/DGCouple/transport"
)

// Role selects which side of the protocol an Exchanger plays
type Role int

const (
	Coarse Role = iota
	Fine
)

func (r Role) String() string {
	switch r {
	case Coarse:
		return "coarse"
	case Fine:
		return "fine"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Config is everything an Exchanger is built from
type Config struct {
	Role      Role
	World     *transport.World
	Coarse    transport.Group
	Fine      transport.Group
	WorldRank int

	Mesh  *mesh.Local
	State exchange.FieldState

	// Dimensional: the local solver works in internal units and Converter maps
	// to the physical units used on the wire.
	Dimensional bool
	Converter   exchange.Converter
	// Transformational: local coordinates are offset from the coupling frame by Frame.
	Transformational bool
	Frame            geometry.Frame

	Exclusion    mesh.Exclusion
	Tolerance    float64
	SendTraction bool

	Recorder *metrics.Recorder
	Logger   *slog.Logger
}

// coupling is one complete generation of coupling geometry. It is built whole and
// swapped in; nothing in it is changed after construction.
type coupling struct {
	remoteBox geometry.BoundedBox

	// coarse side
	vbcOutlets []*exchange.Outlet
	tInlet     *exchange.Inlet
	sInlet     *exchange.Inlet

	// fine side
	vInlet   *exchange.VInlet
	tOutlets []*exchange.Outlet
	sOutlets []*exchange.Outlet
}

// Exchanger owns the communicators, the current coupling geometry and, on the fine
// side, the timestep negotiation state.
type Exchanger struct {
	cfg    Config
	logger *slog.Logger

	localComm *transport.Comm
	// Coarse group plus the first fine rank: box, timestep and signal exchange.
	// Non-nil on every coarse rank and on the fine leader.
	leaderComm *transport.Comm
	// Velocity bridges, coarse group plus one fine rank each. A coarse rank holds
	// one per fine rank, a fine rank only its own.
	vbcComms []*transport.Comm
	// Interior/stress bridges, fine group plus one coarse rank each.
	intComms []*transport.Comm

	current    *coupling
	negotiator *Negotiator
	toApplyBC  bool
	lastStep   Step
}

// NewExchanger validates cfg and opens every communicator the role needs.
func NewExchanger(cfg Config) (*Exchanger, error) {
	if cfg.World == nil || cfg.Mesh == nil || cfg.State == nil {
		return nil, fmt.Errorf("exchanger needs a world, a local mesh and a field state")
	}
	if cfg.Dimensional && cfg.Converter == nil {
		return nil, fmt.Errorf("dimensional exchanger needs a converter")
	}
	if !cfg.Transformational {
		cfg.Frame = geometry.Frame{}
	}
	if err := cfg.Frame.Validate(cfg.Mesh.Dim); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	local, remote := cfg.Coarse, cfg.Fine
	if cfg.Role == Fine {
		local, remote = cfg.Fine, cfg.Coarse
	}
	for _, r := range local.Ranks {
		if remote.Index(r) >= 0 {
			return nil, fmt.Errorf("world rank %d is in both groups: %w", r, exchange.ErrConfigurationMismatch)
		}
	}

	e := &Exchanger{
		cfg:    cfg,
		logger: logger.With("role", cfg.Role.String(), "rank", cfg.WorldRank),
	}
	var err error
	if e.localComm, err = cfg.World.Comm(local, cfg.WorldRank); err != nil {
		return nil, err
	}

	leader := transport.Include(cfg.Coarse, cfg.Fine.Ranks[0])
	if leader.Index(cfg.WorldRank) >= 0 {
		if e.leaderComm, err = cfg.World.Comm(leader, cfg.WorldRank); err != nil {
			return nil, err
		}
	}

	for _, f := range cfg.Fine.Ranks {
		if cfg.Role == Fine && f != cfg.WorldRank {
			continue
		}
		c, err := cfg.World.Comm(transport.Include(cfg.Coarse, f), cfg.WorldRank)
		if err != nil {
			return nil, err
		}
		e.vbcComms = append(e.vbcComms, c)
	}
	for _, c := range cfg.Coarse.Ranks {
		if cfg.Role == Coarse && c != cfg.WorldRank {
			continue
		}
		comm, err := cfg.World.Comm(transport.Include(cfg.Fine, c), cfg.WorldRank)
		if err != nil {
			return nil, err
		}
		e.intComms = append(e.intComms, comm)
	}

	if cfg.Role == Fine {
		e.negotiator = NewNegotiator()
	}
	return e, nil
}

// Role returns the exchanger's role
func (e *Exchanger) Role() Role { return e.cfg.Role }

// RemoteBox returns the remote group's box from the last rebuild, in local coordinates
func (e *Exchanger) RemoteBox() geometry.BoundedBox {
	if e.current == nil {
		return geometry.BoundedBox{}
	}
	return e.current.remoteBox
}

// Negotiator returns the fine-side state machine, nil on the coarse side
func (e *Exchanger) Negotiator() *Negotiator { return e.negotiator }

func (e *Exchanger) converter() exchange.Converter {
	if e.cfg.Dimensional {
		return e.cfg.Converter
	}
	return nil
}

func (e *Exchanger) stressField() exchange.Field {
	if e.cfg.SendTraction {
		return exchange.Traction
	}
	return exchange.Stress
}

func (e *Exchanger) isLeader() bool { return e.localComm.Rank() == 0 }

// UpdateCouplingInfo rebuilds the coupling geometry: group boxes are exchanged, then
// every sink and source is recreated against them. The new set replaces the old one
// only once it is complete. Both groups must call it for the same coarse step.
func (e *Exchanger) UpdateCouplingInfo(ctx context.Context) error {
	groupBox, err := geometry.GlobalBoundedBox(ctx, e.cfg.Mesh.Box(), e.localComm)
	if err != nil {
		return fmt.Errorf("group bounded box: %w", err)
	}
	remoteRoot := 0
	if e.cfg.Role == Coarse {
		remoteRoot = e.leaderComm.Size() - 1
	}
	var remote transport.Communicator
	if e.leaderComm != nil {
		remote = e.leaderComm
	}
	remoteBox, err := geometry.ExchangeBoundedBox(ctx, e.cfg.Frame.BoxToGlobal(groupBox), e.localComm, remote, remoteRoot)
	if err != nil {
		return fmt.Errorf("exchange bounded box: %w", err)
	}
	remoteBox = e.cfg.Frame.BoxToLocal(remoteBox)

	next := &coupling{remoteBox: remoteBox}
	if e.cfg.Role == Coarse {
		err = e.buildCoarse(ctx, next)
	} else {
		err = e.buildFine(ctx, next, groupBox)
	}
	if err != nil {
		return err
	}
	e.current = next
	e.cfg.Recorder.Rebuilt(e.cfg.Role.String())
	e.logger.Debug("Coupling geometry rebuilt.", "remoteBox", remoteBox.String())
	return nil
}

func (e *Exchanger) sourceOptions() exchange.SourceOptions {
	return exchange.SourceOptions{Tolerance: e.cfg.Tolerance, Frame: e.cfg.Frame}
}

func (e *Exchanger) newSink(ctx context.Context, comm *transport.Comm, category exchange.Category,
	nodes []int) (*exchange.Sink, error) {
	points := e.cfg.Frame.PointsToGlobal(e.cfg.Mesh.Points(nodes))
	sink, err := exchange.NewSink(ctx, comm, comm.Size()-1, nodes, points)
	if err != nil {
		return nil, fmt.Errorf("%s sink: %w", category, err)
	}
	e.cfg.Recorder.SinkSize(e.cfg.Role.String(), category.String(), sink.Len())
	return sink, nil
}

// groupTimestep reduces the ranks' proposals to the smallest one and hands it to
// every rank of the local group, so all ranks march the same step.
func (e *Exchanger) groupTimestep(ctx context.Context, dt float64) (float64, error) {
	c := e.localComm
	if c.Size() == 1 {
		return dt, nil
	}
	var packed []float64
	if c.Rank() != 0 {
		if err := c.Send(ctx, 0, transport.TagTimestep, []float64{dt}); err != nil {
			return 0, err
		}
	} else {
		proposals := make([]float64, c.Size())
		proposals[0] = dt
		for r := 1; r < c.Size(); r++ {
			p, err := c.Recv(ctx, r, transport.TagTimestep)
			if err != nil {
				return 0, err
			}
			if len(p) != 1 {
				return 0, fmt.Errorf("timestep from rank %d of length %d: %w", r, len(p),
					exchange.ErrConfigurationMismatch)
			}
			proposals[r] = p[0]
		}
		packed = []float64{floats.Min(proposals)}
	}
	p, err := c.Broadcast(ctx, 0, packed)
	if err != nil {
		return 0, err
	}
	if len(p) != 1 {
		return 0, fmt.Errorf("group timestep payload of length %d: %w", len(p), exchange.ErrConfigurationMismatch)
	}
	return p[0], nil
}

// exchangeTimestep is the timestep handshake between the two group leaders. The
// coarse leader proposes dt; the fine leader answers with the interval it accepted,
// which is authoritative on both sides and is broadcast within each group.
func (e *Exchanger) exchangeTimestep(ctx context.Context, dt float64) (float64, error) {
	var packed []float64
	if e.leaderComm != nil {
		peer := 0
		if e.cfg.Role == Coarse {
			peer = e.leaderComm.Size() - 1
		}
		if e.cfg.Role == Coarse && e.isLeader() {
			if err := e.leaderComm.Send(ctx, peer, transport.TagTimestep, []float64{dt}); err != nil {
				return 0, err
			}
			p, err := e.leaderComm.Recv(ctx, peer, transport.TagTimestep)
			if err != nil {
				return 0, err
			}
			packed = p
		}
		if e.cfg.Role == Fine {
			p, err := e.leaderComm.Recv(ctx, peer, transport.TagTimestep)
			if err != nil {
				return 0, err
			}
			if err := e.leaderComm.Send(ctx, peer, transport.TagTimestep, p); err != nil {
				return 0, err
			}
			packed = p
		}
	}
	p, err := e.localComm.Broadcast(ctx, 0, packed)
	if err != nil {
		return 0, err
	}
	if len(p) != 1 {
		return 0, fmt.Errorf("timestep payload of length %d: %w", len(p), exchange.ErrConfigurationMismatch)
	}
	return p[0], nil
}

// ExchangeSignal swaps the termination flag with the remote group and returns
// local || remote on every rank.
func (e *Exchanger) ExchangeSignal(ctx context.Context, done bool) (bool, error) {
	flag := 0.0
	if done {
		flag = 1
	}
	var packed []float64
	if e.leaderComm != nil && (e.cfg.Role == Fine || e.isLeader()) {
		peer := 0
		if e.cfg.Role == Coarse {
			peer = e.leaderComm.Size() - 1
		}
		if err := e.leaderComm.Send(ctx, peer, transport.TagSignal, []float64{flag}); err != nil {
			return false, err
		}
		p, err := e.leaderComm.Recv(ctx, peer, transport.TagSignal)
		if err != nil {
			return false, err
		}
		packed = p
	}
	p, err := e.localComm.Broadcast(ctx, 0, packed)
	if err != nil {
		return false, err
	}
	if len(p) != 1 {
		return false, fmt.Errorf("signal payload of length %d: %w", len(p), exchange.ErrConfigurationMismatch)
	}
	return done || p[0] != 0, nil
}
