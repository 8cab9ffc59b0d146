package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DGCouple/geometry"
	"github.com/notargets/DGCouple/partitions"
)

func unitSquare(t *testing.T, n int) *Mesh {
	m, err := NewRegular(RegularSpec{
		Origin:  []float64{0, 0},
		Counts:  []int{n, n},
		Spacing: []float64{1, 1},
	})
	require.NoError(t, err)
	return m
}

func TestNewRegular_Numbering(t *testing.T) {
	m := unitSquare(t, 2)
	assert.Equal(t, 9, m.NumNodes())
	assert.Equal(t, 4, m.K())
	assert.Equal(t, []float64{1, 0}, m.Vertices[1])
	assert.Equal(t, []float64{0, 1}, m.Vertices[3])
	// Element 3 is the upper right cell
	assert.Equal(t, []int{4, 5, 7, 8}, m.EtoV[3])
	assert.Equal(t, []int{2, 1}, m.NodeIJK(5))
	assert.Equal(t, 5, m.NodeIndex([]int{2, 1}))
	assert.Equal(t, []float64{1.5, 1.5}, m.Centroids()[3])

	hex, err := NewRegular(RegularSpec{
		Origin: []float64{0, 0, 0}, Counts: []int{1, 1, 1}, Spacing: []float64{1, 2, 3},
	})
	require.NoError(t, err)
	require.Len(t, hex.EtoV[0], 8)
	assert.Equal(t, []float64{1, 2, 3}, hex.Vertices[hex.EtoV[0][7]])
	assert.Equal(t, []float64{1, 0, 3}, hex.Vertices[hex.EtoV[0][5]])
}

func TestNewRegular_Invalid(t *testing.T) {
	for _, spec := range []RegularSpec{
		{},
		{Origin: []float64{0}, Counts: []int{0}, Spacing: []float64{1}},
		{Origin: []float64{0}, Counts: []int{2}, Spacing: []float64{-1}},
		{Origin: []float64{0, 0}, Counts: []int{2}, Spacing: []float64{1}},
		{Origin: make([]float64, 4), Counts: []int{1, 1, 1, 1}, Spacing: []float64{1, 1, 1, 1}},
	} {
		_, err := NewRegular(spec)
		assert.Error(t, err, "%+v", spec)
	}
}

func TestBoundaryNodes_Exclusion(t *testing.T) {
	m := unitSquare(t, 2)
	assert.Equal(t, []int{0, 1, 2, 3, 5, 6, 7, 8}, m.BoundaryNodes(Exclusion{}))
	assert.Equal(t, []int{0, 1, 2, 3, 5}, m.BoundaryNodes(Exclusion{Top: true}))
	assert.Equal(t, []int{3, 5}, m.BoundaryNodes(Exclusion{Top: true, Bottom: true}))
}

func TestInteriorAndInnerBoundary(t *testing.T) {
	m := unitSquare(t, 4)
	box := geometry.BoundedBox{Min: []float64{1, 1}, Max: []float64{3, 3}}

	interior := m.InteriorNodes(box)
	assert.Len(t, interior, 9)

	inner := m.InnerBoundaryNodes(box, Exclusion{})
	assert.Len(t, inner, 8, "ring of the 3x3 block")
	assert.NotContains(t, inner, m.NodeIndex([]int{2, 2}))

	top := m.InnerBoundaryNodes(box, Exclusion{Top: true})
	assert.Len(t, top, 5)
}

func TestNeighbors(t *testing.T) {
	m := unitSquare(t, 2)
	assert.ElementsMatch(t, []int{1, 3}, m.Neighbors(0))
	assert.ElementsMatch(t, []int{1, 3, 5, 7}, m.Neighbors(4))
}

func TestLocal(t *testing.T) {
	m := unitSquare(t, 2)
	pb := &partitions.PartitionBuilder{
		NumElements: m.K(), NumRanks: 2, Strategy: partitions.AxisSlab, Centroids: m.Centroids(),
	}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)

	top, err := m.Local(layout, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, top.Elements)
	assert.Equal(t, []int{3, 4, 5, 6, 7, 8}, top.Nodes)
	assert.True(t, top.Box().Equal(geometry.BoundedBox{Min: []float64{0, 1}, Max: []float64{2, 2}}, 0))
	assert.Equal(t, [][]float64{{1, 1}, {2, 1}, {1, 2}, {2, 2}}, top.ElementVertices(3))

	// Row y=1 is shared with rank 0, which keeps it
	assert.Equal(t, []int{6, 7, 8}, top.Owned)
	assert.True(t, top.Owns(7))
	assert.False(t, top.Owns(4))
	assert.Equal(t, []int{6, 8}, top.OwnedOf([]int{0, 4, 6, 8}))

	bottom, err := m.Local(layout, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, bottom.Owned)

	_, err = m.Local(layout, 2)
	assert.Error(t, err)
}
