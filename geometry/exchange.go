package geometry

import (
	"context"
	"fmt"

	"github.com/notargets/DGCouple/transport"
)

// GlobalBoundedBox merges the local boxes of every rank in comm into the group box.
// Rank 0 gathers and merges, then broadcasts the result.
func GlobalBoundedBox(ctx context.Context, local BoundedBox, comm transport.Communicator) (BoundedBox, error) {
	if comm.Size() == 1 {
		return local, nil
	}
	if comm.Rank() != 0 {
		if err := comm.Send(ctx, 0, transport.TagGroupBox, local.Pack()); err != nil {
			return BoundedBox{}, err
		}
	} else {
		for r := 1; r < comm.Size(); r++ {
			p, err := comm.Recv(ctx, r, transport.TagGroupBox)
			if err != nil {
				return BoundedBox{}, err
			}
			b, err := Unpack(p)
			if err != nil {
				return BoundedBox{}, fmt.Errorf("box from rank %d: %w", r, err)
			}
			if b.Dim() != local.Dim() {
				return BoundedBox{}, fmt.Errorf("rank %d box dimension %d != %d: %w",
					r, b.Dim(), local.Dim(), transport.ErrConfigurationMismatch)
			}
			local = local.Merge(b)
		}
	}
	p, err := comm.Broadcast(ctx, 0, local.Pack())
	if err != nil {
		return BoundedBox{}, err
	}
	return Unpack(p)
}

// ExchangeBoundedBox swaps group boxes with the remote group. Local rank 0 is the
// group's representative: it sends localBox to remoteRoot over remoteComm, receives
// the remote box and broadcasts it to the rest of localComm. Ranks other than the
// representative may pass a nil remoteComm. No retries: a malformed or mismatched
// answer is a configuration error.
func ExchangeBoundedBox(ctx context.Context, localBox BoundedBox, localComm, remoteComm transport.Communicator,
	remoteRoot int) (BoundedBox, error) {
	var packed []float64
	if localComm.Rank() == 0 {
		if remoteComm == nil {
			return BoundedBox{}, fmt.Errorf("group representative has no remote communicator: %w",
				transport.ErrConfigurationMismatch)
		}
		if err := remoteComm.Send(ctx, remoteRoot, transport.TagBoundedBox, localBox.Pack()); err != nil {
			return BoundedBox{}, fmt.Errorf("send bounded box: %w", err)
		}
		p, err := remoteComm.Recv(ctx, remoteRoot, transport.TagBoundedBox)
		if err != nil {
			return BoundedBox{}, fmt.Errorf("receive bounded box: %w", err)
		}
		remote, err := Unpack(p)
		if err != nil {
			return BoundedBox{}, err
		}
		if remote.Dim() != localBox.Dim() {
			return BoundedBox{}, fmt.Errorf("remote box dimension %d != local %d: %w",
				remote.Dim(), localBox.Dim(), transport.ErrConfigurationMismatch)
		}
		packed = p
	}
	p, err := localComm.Broadcast(ctx, 0, packed)
	if err != nil {
		return BoundedBox{}, err
	}
	return Unpack(p)
}
