package partitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPartitions_Block(t *testing.T) {
	pb := &PartitionBuilder{NumElements: 10, NumRanks: 3, Strategy: BlockPartition}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, layout.Elements(0))
	assert.Equal(t, []int{4, 5, 6}, layout.Elements(1))
	assert.Equal(t, []int{7, 8, 9}, layout.Elements(2))
	assert.Equal(t, 4, layout.KpartMax)
	assert.Equal(t, 1, layout.GetPartition(5))
	assert.Equal(t, -1, layout.GetPartition(10))
	assert.Nil(t, layout.Elements(3))
}

func TestBuildPartitions_RoundRobin(t *testing.T) {
	pb := &PartitionBuilder{NumElements: 7, NumRanks: 2, Strategy: RoundRobin}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 4, 6}, layout.Elements(0))
	assert.Equal(t, []int{1, 3, 5}, layout.Elements(1))
	assert.NoError(t, layout.ValidateLayout())
}

func TestBuildPartitions_AxisSlab(t *testing.T) {
	// Elements listed x-fastest in a 2x2 grid; slabs cut along y
	centroids := [][]float64{{0.5, 0.5}, {1.5, 0.5}, {0.5, 1.5}, {1.5, 1.5}}
	pb := &PartitionBuilder{NumElements: 4, NumRanks: 2, Strategy: AxisSlab, Centroids: centroids}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, layout.Elements(0))
	assert.Equal(t, []int{2, 3}, layout.Elements(1))

	pb.SlabAxis = 1
	layout, err = pb.BuildPartitions()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, layout.Elements(0))
	assert.Equal(t, []int{1, 3}, layout.Elements(1))

	pb.Centroids = centroids[:3]
	_, err = pb.BuildPartitions()
	assert.Error(t, err)
}

func TestBuildPartitions_Invalid(t *testing.T) {
	for _, pb := range []*PartitionBuilder{
		{NumElements: 0, NumRanks: 1},
		{NumElements: 4, NumRanks: 0},
		{NumElements: 2, NumRanks: 3},
		{NumElements: 4, NumRanks: 2, Strategy: PartitionStrategy(9)},
	} {
		_, err := pb.BuildPartitions()
		assert.Error(t, err, "%+v", *pb)
	}
}

func TestValidateLayout_DetectsDoubleOwnership(t *testing.T) {
	layout := &PartitionLayout{
		Partitions: []Partition{
			{ID: 0, Elements: []int{0, 1}, NumElements: 2},
			{ID: 1, Elements: []int{1}, NumElements: 1},
		},
		KpartMax:      2,
		TotalElements: 2,
		NumPartitions: 2,
		EToP:          []int{0, 1},
	}
	assert.Error(t, layout.ValidateLayout())

	layout.Partitions[0].Elements = []int{0}
	layout.Partitions[0].NumElements = 1
	assert.Error(t, layout.ValidateLayout(), "KpartMax is stale")
	layout.KpartMax = 1
	assert.NoError(t, layout.ValidateLayout())
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]PartitionStrategy{
		"": BlockPartition, "block": BlockPartition, "roundrobin": RoundRobin, "slab": AxisSlab,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStrategy("metis")
	assert.Error(t, err)
	assert.Equal(t, "slab", AxisSlab.String())
}
