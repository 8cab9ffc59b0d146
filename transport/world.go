package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/notargets/DGCouple/metrics"
)

var (
	ErrRankOutOfRange = errors.New("rank out of range")
	ErrNotMember      = errors.New("world rank is not a member of the group")

	// ErrConfigurationMismatch reports a process topology that does not match what the
	// peer expects: wrong group sizes, malformed exchanged geometry, under-filled sinks.
	// It is fatal for a coupled run.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
)

// Communicator is what the coupling layer needs from a communicator: ranks are
// positions inside one group, and every call blocks until paired or ctx ends.
type Communicator interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest int, tag Tag, payload []float64) error
	Recv(ctx context.Context, src int, tag Tag) ([]float64, error)
	Broadcast(ctx context.Context, root int, payload []float64) ([]float64, error)
}

type mailKey struct {
	comm     string
	src, dst int
	tag      Tag
}

// mailbox is an unbounded FIFO with a single consumer.
type mailbox struct {
	mu    sync.Mutex
	queue [][]float64
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) put(p []float64) {
	m.mu.Lock()
	m.queue = append(m.queue, p)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) take(ctx context.Context) ([]float64, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			p := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return p, nil
		}
		m.mu.Unlock()
		select {
		case <-m.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// World is an in-memory set of ranks. Sends never block; receives block until
// the matching (communicator, source, tag) message arrives.
type World struct {
	size     int
	recorder *metrics.Recorder

	mu    sync.Mutex
	boxes map[mailKey]*mailbox
}

// Option configures a World
type Option func(*World)

// WithRecorder counts every message sent through the world.
func WithRecorder(r *metrics.Recorder) Option {
	return func(w *World) { w.recorder = r }
}

// NewWorld creates a world of size ranks numbered 0..size-1.
func NewWorld(size int, opts ...Option) *World {
	w := &World{
		size:  size,
		boxes: make(map[mailKey]*mailbox),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Size returns the number of world ranks
func (w *World) Size() int { return w.size }

// Group builds a validated group from world ranks.
func (w *World) Group(name string, ranks ...int) (Group, error) {
	g := Group{Name: name, Ranks: append([]int(nil), ranks...)}
	if err := g.validate(w.size); err != nil {
		return Group{}, err
	}
	return g, nil
}

// Comm returns the communicator handle of worldRank inside g.
func (w *World) Comm(g Group, worldRank int) (*Comm, error) {
	if err := g.validate(w.size); err != nil {
		return nil, err
	}
	rank := g.Index(worldRank)
	if rank < 0 {
		return nil, fmt.Errorf("world rank %d, group %q: %w", worldRank, g.Name, ErrNotMember)
	}
	return &Comm{world: w, group: g, key: g.key(), rank: rank}, nil
}

func (w *World) mailbox(k mailKey) *mailbox {
	w.mu.Lock()
	defer w.mu.Unlock()
	mb, ok := w.boxes[k]
	if !ok {
		mb = newMailbox()
		w.boxes[k] = mb
	}
	return mb
}

// Comm is one rank's handle on a group.
type Comm struct {
	world *World
	group Group
	key   string
	rank  int
}

var _ Communicator = (*Comm)(nil)

func (c *Comm) Rank() int      { return c.rank }
func (c *Comm) Size() int      { return c.group.Size() }
func (c *Comm) Group() Group   { return c.group }
func (c *Comm) WorldRank() int { return c.group.Ranks[c.rank] }

func (c *Comm) checkRank(r int) error {
	if r < 0 || r >= c.group.Size() {
		return fmt.Errorf("rank %d in group %q of size %d: %w", r, c.group.Name, c.group.Size(), ErrRankOutOfRange)
	}
	return nil
}

// Send delivers a copy of payload to dest.
func (c *Comm) Send(ctx context.Context, dest int, tag Tag, payload []float64) error {
	if err := c.checkRank(dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := make([]float64, len(payload))
	copy(p, payload)
	c.world.mailbox(mailKey{comm: c.key, src: c.rank, dst: dest, tag: tag}).put(p)
	c.world.recorder.Sent(c.group.Name, tag.String(), len(p))
	return nil
}

// Recv blocks until a message with tag from src arrives.
func (c *Comm) Recv(ctx context.Context, src int, tag Tag) ([]float64, error) {
	if err := c.checkRank(src); err != nil {
		return nil, err
	}
	p, err := c.world.mailbox(mailKey{comm: c.key, src: src, dst: c.rank, tag: tag}).take(ctx)
	if err != nil {
		return nil, fmt.Errorf("recv %s from rank %d in group %q: %w", tag, src, c.group.Name, err)
	}
	return p, nil
}

// Broadcast sends payload from root to every rank and returns root's payload on all of them.
func (c *Comm) Broadcast(ctx context.Context, root int, payload []float64) ([]float64, error) {
	if err := c.checkRank(root); err != nil {
		return nil, err
	}
	if c.rank != root {
		return c.Recv(ctx, root, TagBroadcast)
	}
	for r := 0; r < c.group.Size(); r++ {
		if r == root {
			continue
		}
		if err := c.Send(ctx, r, TagBroadcast, payload); err != nil {
			return nil, err
		}
	}
	out := make([]float64, len(payload))
	copy(out, payload)
	return out, nil
}
