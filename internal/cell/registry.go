// Package cell implements the biological cell: its identity, cell-cycle
// model, mutation state, lineage and apoptosis lifecycle.
//
// Cells are created through a Registry, which allocates monotonically
// increasing ids and keeps the live count per mutation state. A cell holds
// exactly one mutation state; changing it is a single transfer under the
// registry lock, so no reader sees the old state decremented without the
// new one incremented.
package cell

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/nvandessel/cellsim/internal/cellcycle"
)

// MutationState tags a cell's genetic category.
type MutationState int

const (
	WildType MutationState = iota
	ApcOneHit
	ApcTwoHit
	BetaCateninOneHit
	Apoptotic
)

var mutationNames = map[MutationState]string{
	WildType:          "wild_type",
	ApcOneHit:         "apc_one_hit",
	ApcTwoHit:         "apc_two_hit",
	BetaCateninOneHit: "beta_catenin_one_hit",
	Apoptotic:         "apoptotic",
}

func (m MutationState) String() string {
	if s, ok := mutationNames[m]; ok {
		return s
	}
	return fmt.Sprintf("MutationState(%d)", int(m))
}

// IsMutant reports whether the state is a non-wild-type mutation.
// Apoptotic cells are not counted as mutant.
func (m MutationState) IsMutant() bool {
	return m != WildType && m != Apoptotic
}

// ParseMutationState maps a state name such as "apc_two_hit".
func ParseMutationState(s string) (MutationState, error) {
	s = strings.ToLower(s)
	for m, name := range mutationNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mutation state %q", s)
}

// AllMutationStates lists the states in declaration order.
func AllMutationStates() []MutationState {
	out := make([]MutationState, 0, len(mutationNames))
	for m := range mutationNames {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry creates cells and tracks per-state live counts for one run.
// It is safe for concurrent readers; metrics scrapes read counts while the
// run goroutine mutates them.
type Registry struct {
	clock         cellcycle.Clock
	apoptosisTime float64

	mu     sync.Mutex
	counts map[MutationState]int
	nextID uint64
}

// NewRegistry returns a registry whose cells read time from clock and die
// apoptosisTime hours after apoptosis starts.
func NewRegistry(clock cellcycle.Clock, apoptosisTime float64) *Registry {
	return &Registry{
		clock:         clock,
		apoptosisTime: apoptosisTime,
		counts:        make(map[MutationState]int),
	}
}

// ApoptosisTime returns the configured apoptosis duration.
func (r *Registry) ApoptosisTime() float64 { return r.apoptosisTime }

// Now returns the registry clock's time.
func (r *Registry) Now() float64 { return r.clock.Now() }

// NewCell creates a live cell owning model, counted under state.
func (r *Registry) NewCell(model cellcycle.Model, state MutationState) (*Cell, error) {
	if model == nil {
		return nil, fmt.Errorf("cell: nil cell cycle model")
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.counts[state]++
	r.mu.Unlock()

	return &Cell{
		reg:            r,
		id:             id,
		model:          model,
		state:          state,
		ancestor:       UnsetAncestor,
		apoptosisStart: math.Inf(1),
		deathTime:      math.Inf(1),
		location:       NoLocation,
	}, nil
}

// Count returns the number of live cells holding state.
func (r *Registry) Count(state MutationState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[state]
}

// Counts returns a snapshot of every state's live count.
func (r *Registry) Counts() map[MutationState]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[MutationState]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Total returns the number of live cells across all states.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.counts {
		n += v
	}
	return n
}

// NextID returns the id the next cell will receive.
func (r *Registry) NextID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

func (r *Registry) transfer(from, to MutationState) {
	r.mu.Lock()
	r.counts[from]--
	r.counts[to]++
	r.mu.Unlock()
}

func (r *Registry) release(state MutationState) {
	r.mu.Lock()
	r.counts[state]--
	r.mu.Unlock()
}
