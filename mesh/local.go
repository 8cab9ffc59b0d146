package mesh

import (
	"fmt"
	"sort"

	"github.com/notargets/DGCouple/geometry"
	"github.com/notargets/DGCouple/partitions"
)

// Local is one rank's share of a mesh: the elements it owns and the nodes they touch.
type Local struct {
	*Mesh
	Rank     int
	Elements []int // global element indices
	Nodes    []int // sorted global node indices touched by Elements
	Owned    []int // sorted subset of Nodes this rank is responsible for
	Owners   []int // owning rank of every mesh node

	box geometry.BoundedBox
}

// NodeOwners assigns every node to the lowest rank owning an element that touches it.
func (m *Mesh) NodeOwners(layout *partitions.PartitionLayout) []int {
	owners := make([]int, m.NumNodes())
	for n := range owners {
		owners[n] = -1
	}
	for k, verts := range m.EtoV {
		r := layout.GetPartition(k)
		for _, v := range verts {
			if owners[v] < 0 || r < owners[v] {
				owners[v] = r
			}
		}
	}
	return owners
}

// Local returns the view of rank under layout
func (m *Mesh) Local(layout *partitions.PartitionLayout, rank int) (*Local, error) {
	if layout == nil {
		return nil, fmt.Errorf("nil partition layout")
	}
	if layout.TotalElements != m.K() {
		return nil, fmt.Errorf("layout covers %d elements, mesh has %d", layout.TotalElements, m.K())
	}
	if rank < 0 || rank >= layout.NumPartitions {
		return nil, fmt.Errorf("rank %d outside layout of %d partitions", rank, layout.NumPartitions)
	}
	elems := layout.Elements(rank)
	if len(elems) == 0 {
		return nil, fmt.Errorf("rank %d owns no elements", rank)
	}

	seen := make(map[int]bool)
	var nodes []int
	for _, k := range elems {
		for _, v := range m.EtoV[k] {
			if !seen[v] {
				seen[v] = true
				nodes = append(nodes, v)
			}
		}
	}
	sort.Ints(nodes)

	owners := m.NodeOwners(layout)
	var owned []int
	for _, n := range nodes {
		if owners[n] == rank {
			owned = append(owned, n)
		}
	}

	box, err := geometry.FromPoints(m.Points(nodes))
	if err != nil {
		return nil, err
	}
	return &Local{
		Mesh:     m,
		Rank:     rank,
		Elements: append([]int(nil), elems...),
		Nodes:    nodes,
		Owned:    owned,
		Owners:   owners,
		box:      box,
	}, nil
}

// Box is the extent of the owned elements
func (l *Local) Box() geometry.BoundedBox { return l.box }

// Owns reports whether node n is one of this rank's owned nodes
func (l *Local) Owns(n int) bool {
	i := sort.SearchInts(l.Owned, n)
	return i < len(l.Owned) && l.Owned[i] == n
}

// OwnedOf filters nodes down to the ones this rank owns
func (l *Local) OwnedOf(nodes []int) []int {
	var out []int
	for _, n := range nodes {
		if l.Owns(n) {
			out = append(out, n)
		}
	}
	return out
}

// ElementVertices returns the vertex coordinates of global element k
func (l *Local) ElementVertices(k int) [][]float64 {
	return l.Points(l.EtoV[k])
}
