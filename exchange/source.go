package exchange

import (
	"context"
	"fmt"

	"github.com/notargets/DGCouple/geometry"
	"github.com/notargets/DGCouple/interp"
	"github.com/notargets/DGCouple/mesh"
	"github.com/notargets/DGCouple/transport"
)

// SourceOptions tunes point location
type SourceOptions struct {
	Tolerance float64        // barycentric tolerance, interp.DefaultTolerance when zero
	Frame     geometry.Frame // maps arriving coupling-frame points into local coordinates
}

// Source interpolates this rank's field at the sink points it was assigned.
type Source struct {
	comm     transport.Communicator
	sinkRank int
	local    *mesh.Local
	indices  []int // sink point indices, in send order
	interp   *interp.Interpolator
}

// CreateSource receives the sink's points, claims those inside localBox that one of
// the local elements contains, and builds the interpolator for the points the sink
// assigns back. Points outside localBox are left for other ranks.
func CreateSource(ctx context.Context, comm transport.Communicator, sinkRank int, local *mesh.Local,
	localBox geometry.BoundedBox, opts SourceOptions) (*Source, error) {
	p, err := comm.Recv(ctx, sinkRank, transport.TagSinkPoints)
	if err != nil {
		return nil, fmt.Errorf("receive sink points: %w", err)
	}
	points, err := unpackPoints(p)
	if err != nil {
		return nil, err
	}
	points = opts.Frame.PointsToLocal(points)
	if len(points) > 0 && len(points[0]) != local.Dim {
		return nil, fmt.Errorf("sink points have dimension %d, local mesh %d: %w",
			len(points[0]), local.Dim, ErrConfigurationMismatch)
	}

	var candidates []int
	for i, x := range points {
		if localBox.ContainsTol(x, local.Tolerance()) {
			candidates = append(candidates, i)
		}
	}
	cpts := make([][]float64, len(candidates))
	for j, i := range candidates {
		cpts[j] = points[i]
	}
	ip, err := interp.New(local, cpts, opts.Tolerance)
	if err != nil {
		return nil, err
	}
	if err := ip.SelfTest(local.Mesh); err != nil {
		return nil, fmt.Errorf("interpolator self test: %w", err)
	}
	claims := make([]int, 0, len(candidates))
	position := make(map[int]int, len(candidates))
	for _, j := range ip.FoundIndices() {
		i := candidates[j]
		claims = append(claims, i)
		position[i] = j
	}
	if err := comm.Send(ctx, sinkRank, transport.TagSourceClaims, packIndices(claims)); err != nil {
		return nil, fmt.Errorf("send claims: %w", err)
	}

	p, err = comm.Recv(ctx, sinkRank, transport.TagSinkAssign)
	if err != nil {
		return nil, fmt.Errorf("receive assignment: %w", err)
	}
	indices, err := unpackIndices(p, len(points))
	if err != nil {
		return nil, err
	}
	positions := make([]int, len(indices))
	for j, i := range indices {
		pos, ok := position[i]
		if !ok {
			return nil, fmt.Errorf("assigned point %d was never claimed: %w", i, ErrConfigurationMismatch)
		}
		positions[j] = pos
	}
	assigned, err := ip.Restrict(positions)
	if err != nil {
		return nil, err
	}
	return &Source{
		comm:     comm,
		sinkRank: sinkRank,
		local:    local,
		indices:  indices,
		interp:   assigned,
	}, nil
}

// Len returns the number of points this source serves
func (s *Source) Len() int { return len(s.indices) }

// Indices returns the sink point indices this source serves
func (s *Source) Indices() []int { return s.indices }

// SinkRank returns the destination rank
func (s *Source) SinkRank() int { return s.sinkRank }

// Interpolate evaluates a nodal field at the served points
func (s *Source) Interpolate(field []float64, ncomp int) ([]float64, error) {
	return s.interp.Interpolate(field, ncomp)
}
