// Package parallel is the collective-communication layer a run uses to
// agree on global quantities. Local is the single-process communicator;
// Group connects several in-process ranks that each own part of a tissue.
package parallel

import (
	"context"
	"fmt"
	"sync"
)

// Communicator performs collective operations. Every rank must make the
// same sequence of calls.
type Communicator interface {
	Rank() int
	Size() int
	SumInt(ctx context.Context, v int) (int, error)
	SumFloat(ctx context.Context, v float64) (float64, error)
	// AllTrue reports whether v is true on every rank.
	AllTrue(ctx context.Context, v bool) (bool, error)
	Barrier(ctx context.Context) error
}

// Local is the communicator of a single-process run.
type Local struct{}

func (Local) Rank() int { return 0 }
func (Local) Size() int { return 1 }

func (Local) SumInt(_ context.Context, v int) (int, error) { return v, nil }

func (Local) SumFloat(_ context.Context, v float64) (float64, error) { return v, nil }

func (Local) AllTrue(_ context.Context, v bool) (bool, error) { return v, nil }

func (Local) Barrier(context.Context) error { return nil }

// group is the shared state of in-process ranks. Each collective is one
// round: ranks deposit values, the last arrival publishes the result and
// wakes the others.
type group struct {
	mu      sync.Mutex
	size    int
	arrived int
	ints    int
	floats  float64
	falses  int
	done    chan struct{}

	// results of the last finished round
	resInt   int
	resFloat float64
	resAll   bool
}

// NewGroup returns size communicators that reduce over each other.
func NewGroup(size int) ([]Communicator, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be at least 1, got %d", size)
	}
	g := &group{size: size, done: make(chan struct{})}
	out := make([]Communicator, size)
	for i := range out {
		out[i] = &member{g: g, rank: i}
	}
	return out, nil
}

type member struct {
	g    *group
	rank int
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.g.size }

// exchange contributes to the current round and waits for its result. A
// rank that gives up on ctx withdraws its contribution, so the group stays
// usable for later rounds.
func (m *member) exchange(ctx context.Context, i int, f float64, b bool) (int, float64, bool, error) {
	g := m.g
	g.mu.Lock()
	g.ints += i
	g.floats += f
	if !b {
		g.falses++
	}
	g.arrived++
	done := g.done
	if g.arrived == g.size {
		g.resInt, g.resFloat, g.resAll = g.ints, g.floats, g.falses == 0
		g.ints, g.floats, g.falses, g.arrived = 0, 0, 0, 0
		g.done = make(chan struct{})
		close(done)
		ri, rf, rb := g.resInt, g.resFloat, g.resAll
		g.mu.Unlock()
		return ri, rf, rb, nil
	}
	g.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.done != done {
			// The round finished while we were giving up.
			return g.resInt, g.resFloat, g.resAll, nil
		}
		g.ints -= i
		g.floats -= f
		if !b {
			g.falses--
		}
		g.arrived--
		return 0, 0, false, ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resInt, g.resFloat, g.resAll, nil
}

func (m *member) SumInt(ctx context.Context, v int) (int, error) {
	s, _, _, err := m.exchange(ctx, v, 0, true)
	return s, err
}

func (m *member) SumFloat(ctx context.Context, v float64) (float64, error) {
	_, s, _, err := m.exchange(ctx, 0, v, true)
	return s, err
}

func (m *member) AllTrue(ctx context.Context, v bool) (bool, error) {
	_, _, b, err := m.exchange(ctx, 0, 0, v)
	return b, err
}

func (m *member) Barrier(ctx context.Context) error {
	_, _, _, err := m.exchange(ctx, 0, 0, true)
	return err
}
