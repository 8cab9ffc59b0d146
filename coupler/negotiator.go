package coupler

import (
	"errors"
	"fmt"
)

// ErrInvalidTimestep reports a non-positive proposed timestep or coarse interval.
var ErrInvalidTimestep = errors.New("invalid timestep")

// State of the fine-side sub-cycle
type State int

const (
	// Normal: inside a coarse interval
	Normal State = iota
	// CatchupPending: the last step landed on the coarse boundary; the next
	// step negotiates a new interval. Also the initial state.
	CatchupPending
	// CatchupDone: the last step opened a freshly negotiated interval.
	CatchupDone
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case CatchupPending:
		return "CATCHUP_PENDING"
	case CatchupDone:
		return "CATCHUP_DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Step is the outcome of one fine timestep negotiation
type Step struct {
	Dt           float64 // timestep to advance, clamped to land on the coarse boundary
	Renegotiated bool    // a new coarse interval was obtained before this step
	Catchup      bool    // this step ends exactly on the coarse boundary
	FgeT, CgeT   float64
}

// Negotiator is the fine-side multi-rate state machine. It holds fine time elapsed
// in the current coarse interval (fge_t) and the interval itself (cge_t); after Next
// returns, FgeT <= CgeT.
type Negotiator struct {
	fgeT, cgeT float64
	state      State
}

// NewNegotiator starts in CatchupPending so the first step negotiates an interval
func NewNegotiator() *Negotiator {
	return &Negotiator{state: CatchupPending}
}

// State returns the current state
func (n *Negotiator) State() State { return n.state }

// Times returns (fge_t, cge_t)
func (n *Negotiator) Times() (fgeT, cgeT float64) { return n.fgeT, n.cgeT }

// Catchup reports whether the next step starts a new coarse interval
func (n *Negotiator) Catchup() bool { return n.state == CatchupPending }

// Next accumulates the proposed fine dt. When a catchup is pending, negotiate is
// called first to obtain the next coarse interval and fge_t restarts at zero. A dt
// that would pass the coarse boundary is clamped to land on it.
func (n *Negotiator) Next(dt float64, negotiate func() (float64, error)) (Step, error) {
	if !(dt > 0) {
		return Step{}, fmt.Errorf("fine timestep %g: %w", dt, ErrInvalidTimestep)
	}
	var step Step
	if n.state == CatchupPending {
		cgeT, err := negotiate()
		if err != nil {
			return Step{}, err
		}
		if !(cgeT > 0) {
			return Step{}, fmt.Errorf("coarse interval %g: %w", cgeT, ErrInvalidTimestep)
		}
		n.cgeT = cgeT
		n.fgeT = 0
		step.Renegotiated = true
	}

	n.fgeT += dt
	switch {
	case n.fgeT >= n.cgeT*(1-1e-12):
		dt -= n.fgeT - n.cgeT
		n.fgeT = n.cgeT
		n.state = CatchupPending
		step.Catchup = true
	case step.Renegotiated:
		n.state = CatchupDone
	default:
		n.state = Normal
	}

	step.Dt = dt
	step.FgeT, step.CgeT = n.fgeT, n.cgeT
	return step, nil
}
