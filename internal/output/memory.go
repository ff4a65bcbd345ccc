package output

import (
	"context"
	"sync"
)

// MemorySink keeps snapshots in memory. Ensembles and tests read them
// back after the run.
type MemorySink struct {
	mu        sync.Mutex
	snapshots []Snapshot
	closed    bool
	aborted   bool
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) WriteSnapshot(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.aborted {
		return ErrClosed
	}
	recs := make([]Record, len(s.Records))
	for i, r := range s.Records {
		r.Position = append([]float64(nil), r.Position...)
		recs[i] = r
	}
	s.Records = recs
	m.snapshots = append(m.snapshots, s)
	return nil
}

// Snapshots returns the retained snapshots. An aborted sink retains none.
func (m *MemorySink) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snapshots...)
}

// Last returns the most recent snapshot.
func (m *MemorySink) Last() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return Snapshot{}, false
	}
	return m.snapshots[len(m.snapshots)-1], true
}

// Closed reports whether Close succeeded.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Aborted reports whether Abort was called.
func (m *MemorySink) Aborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.aborted {
		return ErrClosed
	}
	m.closed = true
	return nil
}

func (m *MemorySink) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = true
	m.snapshots = nil
	return nil
}
