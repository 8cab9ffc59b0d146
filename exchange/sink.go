package exchange

import (
	"context"
	"fmt"

	"github.com/notargets/gocfd/utils"

	"github.com/notargets/DGCouple/transport"
)

// Sink aggregates one category's values from numSrc sources into a local buffer.
// It is the last rank of its communicator; the sources are ranks 0..numSrc-1.
type Sink struct {
	comm   transport.Communicator
	numSrc int
	dim    int

	nodes    []int       // local mesh node receiving each point
	points   [][]float64 // coordinates of each point
	bySource [][]int     // point indices served by each source, in send order

	buffer  utils.Matrix // [points x components], valid when received
	ncomp   int
	hasData bool
}

// NewSink distributes points to the sources, collects their claims and tells each
// source which points it serves. It fails before any message when the communicator
// does not hold exactly numSrc sources plus this rank.
func NewSink(ctx context.Context, comm transport.Communicator, numSrc int, nodes []int,
	points [][]float64) (*Sink, error) {
	if numSrc < 1 || comm.Size()-1 != numSrc {
		return nil, fmt.Errorf("sink expects %d sources, communicator holds %d: %w",
			numSrc, comm.Size()-1, ErrConfigurationMismatch)
	}
	if comm.Rank() != comm.Size()-1 {
		return nil, fmt.Errorf("sink on rank %d, must be last rank %d: %w",
			comm.Rank(), comm.Size()-1, ErrConfigurationMismatch)
	}
	if len(nodes) != len(points) {
		return nil, fmt.Errorf("%d nodes for %d points", len(nodes), len(points))
	}
	s := &Sink{
		comm:   comm,
		numSrc: numSrc,
		nodes:  append([]int(nil), nodes...),
		points: points,
	}
	if len(points) > 0 {
		s.dim = len(points[0])
	}

	packed := packPoints(points)
	for r := 0; r < numSrc; r++ {
		if err := comm.Send(ctx, r, transport.TagSinkPoints, packed); err != nil {
			return nil, fmt.Errorf("send points to source %d: %w", r, err)
		}
	}
	claims := make([][]int, numSrc)
	for r := 0; r < numSrc; r++ {
		p, err := comm.Recv(ctx, r, transport.TagSourceClaims)
		if err != nil {
			return nil, fmt.Errorf("receive claims: %w", err)
		}
		if claims[r], err = unpackIndices(p, len(points)); err != nil {
			return nil, fmt.Errorf("claims of source %d: %w", r, err)
		}
	}
	assign, err := AssignClaims(len(points), claims, numSrc)
	if err != nil {
		return nil, err
	}

	s.bySource = make([][]int, numSrc)
	for i, r := range assign {
		s.bySource[r] = append(s.bySource[r], i)
	}
	for r := 0; r < numSrc; r++ {
		if err := comm.Send(ctx, r, transport.TagSinkAssign, packIndices(s.bySource[r])); err != nil {
			return nil, fmt.Errorf("send assignment to source %d: %w", r, err)
		}
	}
	return s, nil
}

// AssignClaims gives every point to the lowest source rank that claimed it. The
// number of claim lists must equal numSrc and every point must be claimed.
func AssignClaims(npoints int, claims [][]int, numSrc int) ([]int, error) {
	if len(claims) != numSrc {
		return nil, fmt.Errorf("%d source contributions, sink built for %d: %w",
			len(claims), numSrc, ErrConfigurationMismatch)
	}
	assign := make([]int, npoints)
	for i := range assign {
		assign[i] = -1
	}
	for r, list := range claims {
		for _, i := range list {
			if i < 0 || i >= npoints {
				return nil, fmt.Errorf("source %d claims point %d outside [0,%d): %w",
					r, i, npoints, ErrConfigurationMismatch)
			}
			if assign[i] < 0 {
				assign[i] = r
			}
		}
	}
	unclaimed := 0
	for _, r := range assign {
		if r < 0 {
			unclaimed++
		}
	}
	if unclaimed > 0 {
		return nil, fmt.Errorf("%d of %d sink points not covered by any source: %w",
			unclaimed, npoints, ErrConfigurationMismatch)
	}
	return assign, nil
}

// Len returns the number of points
func (s *Sink) Len() int { return len(s.points) }

// Dim returns the spatial dimension of the points
func (s *Sink) Dim() int { return s.dim }

// Nodes returns the local mesh node of every point
func (s *Sink) Nodes() []int { return s.nodes }

// Points returns the point coordinates
func (s *Sink) Points() [][]float64 { return s.points }

// Served returns the point indices assigned to source rank r
func (s *Sink) Served(r int) []int { return s.bySource[r] }

// Recv blocks until every source has sent category's values and scatters them into
// the buffer, ncomp values per point.
func (s *Sink) Recv(ctx context.Context, category Category, ncomp int) error {
	n := len(s.points)
	if n > 0 && (!s.hasData || s.ncomp != ncomp) {
		s.buffer = utils.NewMatrix(n, ncomp)
		s.ncomp = ncomp
	}
	for r := 0; r < s.numSrc; r++ {
		p, err := s.comm.Recv(ctx, r, category.Tag())
		if err != nil {
			return err
		}
		served := s.bySource[r]
		if len(p) != len(served)*ncomp {
			return fmt.Errorf("%s from source %d: %d values for %d points x %d: %w",
				category, r, len(p), len(served), ncomp, ErrConfigurationMismatch)
		}
		if len(served) == 0 {
			continue
		}
		rows := utils.NewMatrix(len(served), ncomp, p)
		for j, i := range served {
			for c := 0; c < ncomp; c++ {
				s.buffer.Set(i, c, rows.At(j, c))
			}
		}
	}
	s.hasData = n > 0
	return nil
}

// Values returns a copy of the last received values, nil before the first Recv.
func (s *Sink) Values() []float64 {
	if !s.hasData {
		return nil
	}
	return s.buffer.Copy().Data()
}
