package simulation

import (
	"testing"

	"github.com/nvandessel/cellsim/internal/output"
)

// AssertCellCount asserts that the snapshot taken at step holds want cells.
func AssertCellCount(t *testing.T, snaps []output.Snapshot, step, want int) {
	t.Helper()
	for _, s := range snaps {
		if s.Step != step {
			continue
		}
		if got := len(s.Records); got != want {
			t.Errorf("AssertCellCount: step %d: %d cells, want %d", step, got, want)
		}
		return
	}
	t.Errorf("AssertCellCount: no snapshot at step %d", step)
}

// AssertNeverBelow asserts that no sampled cell centre lies below level on
// axis.
func AssertNeverBelow(t *testing.T, snaps []output.Snapshot, axis int, level float64) {
	t.Helper()
	for _, s := range snaps {
		for _, r := range s.Records {
			if axis >= len(r.Position) {
				t.Fatalf("AssertNeverBelow: step %d: cell %d has %dD position, axis %d", s.Step, r.CellID, len(r.Position), axis)
			}
			if r.Position[axis] < level {
				t.Errorf("AssertNeverBelow: step %d: cell %d at %.6f below %.4f", s.Step, r.CellID, r.Position[axis], level)
			}
		}
	}
}

// AssertAncestorsPreserved asserts that every sampled cell descends from
// one of the cells in the first snapshot.
func AssertAncestorsPreserved(t *testing.T, snaps []output.Snapshot) {
	t.Helper()
	if len(snaps) == 0 {
		t.Fatal("AssertAncestorsPreserved: no snapshots")
	}
	initial := make(map[int64]bool)
	for _, r := range snaps[0].Records {
		initial[r.Ancestor] = true
	}
	for _, s := range snaps[1:] {
		for _, r := range s.Records {
			if !initial[r.Ancestor] {
				t.Errorf("AssertAncestorsPreserved: step %d: cell %d has unknown ancestor %d", s.Step, r.CellID, r.Ancestor)
			}
		}
	}
}

// AssertUniqueCellIDs asserts that no snapshot lists a cell twice.
func AssertUniqueCellIDs(t *testing.T, snaps []output.Snapshot) {
	t.Helper()
	for _, s := range snaps {
		seen := make(map[uint64]bool, len(s.Records))
		for _, r := range s.Records {
			if seen[r.CellID] {
				t.Errorf("AssertUniqueCellIDs: step %d: cell %d listed twice", s.Step, r.CellID)
			}
			seen[r.CellID] = true
		}
	}
}
