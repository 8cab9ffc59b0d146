// Package partitions decides which rank of a process group owns which mesh elements.
// A rank's owned elements define its local geometry: its bounded box, the points it can
// interpolate at, and therefore which coupling points its sources claim.
package partitions

import (
	"fmt"
)

// Partition is the set of elements owned by one rank of a group
type Partition struct {
	// Rank within the process group
	ID int

	// Element membership
	Elements    []int // Global element indices owned by this rank
	NumElements int
}

// PartitionLayout is the complete decomposition of a mesh over one process group
type PartitionLayout struct {
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumElements) across all ranks
	TotalElements int
	NumPartitions int

	// Element to partition mapping
	EToP []int // Length TotalElements: element k is owned by rank EToP[k]
}

// GetPartition returns the rank owning element k, or -1 when k is out of range
func (pl *PartitionLayout) GetPartition(elementID int) int {
	if elementID < 0 || elementID >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[elementID]
}

// Elements returns the elements owned by rank
func (pl *PartitionLayout) Elements(rank int) []int {
	if rank < 0 || rank >= len(pl.Partitions) {
		return nil
	}
	return pl.Partitions[rank].Elements
}

// ValidateLayout checks that every element is owned exactly once and that the
// per-partition bookkeeping agrees with EToP.
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions recorded, NumPartitions=%d", len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.EToP) != pl.TotalElements {
		return fmt.Errorf("EToP length %d != TotalElements %d", len(pl.EToP), pl.TotalElements)
	}

	owned := make([]int, pl.TotalElements)
	actualMax := 0
	for _, p := range pl.Partitions {
		if p.NumElements != len(p.Elements) {
			return fmt.Errorf("partition %d: NumElements %d != len(Elements) %d",
				p.ID, p.NumElements, len(p.Elements))
		}
		if p.NumElements > actualMax {
			actualMax = p.NumElements
		}
		for _, k := range p.Elements {
			if k < 0 || k >= pl.TotalElements {
				return fmt.Errorf("partition %d: element %d out of range", p.ID, k)
			}
			if pl.EToP[k] != p.ID {
				return fmt.Errorf("partition %d lists element %d owned by %d", p.ID, k, pl.EToP[k])
			}
			owned[k]++
		}
	}
	for k, n := range owned {
		if n != 1 {
			return fmt.Errorf("element %d owned %d times", k, n)
		}
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d",
			actualMax, pl.KpartMax)
	}
	return nil
}
