package partitions

import (
	"fmt"
	"math"
	"sort"
)

// PartitionBuilder distributes elements over the ranks of one process group
type PartitionBuilder struct {
	NumElements int
	NumRanks    int
	Strategy    PartitionStrategy

	// Element centroids, required by AxisSlab
	Centroids [][]float64
	// 1-based coordinate AxisSlab sorts along, 0 selects the last one
	SlabAxis int
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	BlockPartition PartitionStrategy = iota // Consecutive elements
	RoundRobin                              // Distribute cyclically
	AxisSlab                                // Consecutive along one coordinate axis
)

// ParseStrategy maps a configuration name onto a strategy.
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch name {
	case "", "block":
		return BlockPartition, nil
	case "roundrobin", "round-robin":
		return RoundRobin, nil
	case "slab":
		return AxisSlab, nil
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "roundrobin"
	case AxisSlab:
		return "slab"
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// BuildPartitions creates and validates the layout
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumElements <= 0 {
		return nil, fmt.Errorf("cannot partition %d elements", pb.NumElements)
	}
	if pb.NumRanks <= 0 {
		return nil, fmt.Errorf("cannot partition over %d ranks", pb.NumRanks)
	}
	if pb.NumRanks > pb.NumElements {
		return nil, fmt.Errorf("%d ranks for %d elements leaves ranks without geometry",
			pb.NumRanks, pb.NumElements)
	}

	eToP, err := pb.partitionElements()
	if err != nil {
		return nil, err
	}
	partitions := pb.createPartitions(eToP)

	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      calculateKpartMax(partitions),
		TotalElements: pb.NumElements,
		NumPartitions: pb.NumRanks,
		EToP:          eToP,
	}
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// partitionElements assigns elements to ranks
func (pb *PartitionBuilder) partitionElements() ([]int, error) {
	eToP := make([]int, pb.NumElements)

	switch pb.Strategy {
	case BlockPartition:
		blockAssign(eToP, identityOrder(pb.NumElements), pb.NumRanks)

	case RoundRobin:
		for i := range eToP {
			eToP[i] = i % pb.NumRanks
		}

	case AxisSlab:
		if len(pb.Centroids) != pb.NumElements {
			return nil, fmt.Errorf("slab partition needs %d centroids, have %d",
				pb.NumElements, len(pb.Centroids))
		}
		axis := pb.SlabAxis - 1
		if axis < 0 || axis >= len(pb.Centroids[0]) {
			axis = len(pb.Centroids[0]) - 1
		}
		order := identityOrder(pb.NumElements)
		sort.SliceStable(order, func(i, j int) bool {
			return pb.Centroids[order[i]][axis] < pb.Centroids[order[j]][axis]
		})
		blockAssign(eToP, order, pb.NumRanks)

	default:
		return nil, fmt.Errorf("unsupported partition strategy %v", pb.Strategy)
	}
	return eToP, nil
}

// blockAssign gives each rank a contiguous run of order, sizes differing by at most one.
func blockAssign(eToP, order []int, numRanks int) {
	n := len(order)
	base := n / numRanks
	extra := n % numRanks
	pos := 0
	for r := 0; r < numRanks; r++ {
		count := base
		if r < extra {
			count++
		}
		for i := 0; i < count; i++ {
			eToP[order[pos]] = r
			pos++
		}
	}
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(eToP []int) []Partition {
	partitions := make([]Partition, pb.NumRanks)
	for i := range partitions {
		partitions[i].ID = i
	}
	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		partitions[part].NumElements++
	}
	return partitions
}

// calculateKpartMax finds maximum elements across all partitions
func calculateKpartMax(partitions []Partition) int {
	kpartMax := 0
	for _, p := range partitions {
		kpartMax = int(math.Max(float64(kpartMax), float64(p.NumElements)))
	}
	return kpartMax
}
