// Package transport is the message-passing capability the coupling layer runs on:
// ordered process groups, point-to-point tagged send/receive and group broadcast.
// The in-memory World lets both solvers' process groups live in one OS process,
// including the degenerate case of a single rank per group.
package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Group is an ordered, fixed set of world ranks cooperating on one solver.
type Group struct {
	Name  string
	Ranks []int // world ranks, position is the rank within the group
}

// Size returns the number of ranks in the group
func (g Group) Size() int { return len(g.Ranks) }

// Index returns the group rank of worldRank, or -1 when it is not a member.
func (g Group) Index(worldRank int) int {
	for i, r := range g.Ranks {
		if r == worldRank {
			return i
		}
	}
	return -1
}

// SinkRank is the group rank that aggregates cross-group data: always the last one.
func (g Group) SinkRank() int { return len(g.Ranks) - 1 }

// Include returns a new group made of base followed by the extra world ranks.
// Two processes that build the same inclusion obtain the same communication space.
func Include(base Group, extra ...int) Group {
	ranks := make([]int, 0, len(base.Ranks)+len(extra))
	ranks = append(ranks, base.Ranks...)
	ranks = append(ranks, extra...)
	parts := make([]string, len(extra))
	for i, r := range extra {
		parts[i] = strconv.Itoa(r)
	}
	return Group{
		Name:  base.Name + "+" + strings.Join(parts, ","),
		Ranks: ranks,
	}
}

func (g Group) key() string {
	var sb strings.Builder
	sb.WriteString(g.Name)
	sb.WriteByte('[')
	for i, r := range g.Ranks {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(r))
	}
	sb.WriteByte(']')
	return sb.String()
}

func (g Group) validate(worldSize int) error {
	if len(g.Ranks) == 0 {
		return fmt.Errorf("group %q has no ranks", g.Name)
	}
	seen := make(map[int]bool, len(g.Ranks))
	for _, r := range g.Ranks {
		if r < 0 || r >= worldSize {
			return fmt.Errorf("group %q: world rank %d outside [0,%d): %w",
				g.Name, r, worldSize, ErrRankOutOfRange)
		}
		if seen[r] {
			return fmt.Errorf("group %q: world rank %d listed twice", g.Name, r)
		}
		seen[r] = true
	}
	return nil
}

// Tag identifies the kind of message so that receives pair with the right sends.
type Tag int

const (
	TagBroadcast Tag = iota + 1
	TagGroupBox
	TagBoundedBox
	TagTimestep
	TagSignal
	TagSinkPoints
	TagSourceClaims
	TagSinkAssign
	TagHalo
	tagFieldBase Tag = 100
)

// FieldTag is the tag for the field data of one exchange category.
func FieldTag(category int) Tag { return tagFieldBase + Tag(category) }

func (t Tag) String() string {
	switch t {
	case TagBroadcast:
		return "broadcast"
	case TagGroupBox:
		return "group_box"
	case TagBoundedBox:
		return "bounded_box"
	case TagTimestep:
		return "timestep"
	case TagSignal:
		return "signal"
	case TagSinkPoints:
		return "sink_points"
	case TagSourceClaims:
		return "source_claims"
	case TagSinkAssign:
		return "sink_assign"
	case TagHalo:
		return "halo"
	}
	if t >= tagFieldBase {
		return "field_" + strconv.Itoa(int(t-tagFieldBase))
	}
	return "tag_" + strconv.Itoa(int(t))
}
