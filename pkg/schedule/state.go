package schedule

import (
	"math"

	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/cinnlang/autoschedule-go/pkg/random"
)

// SearchState is a (schedule, predicted cost) pair plus a forked PRNG state
// for any further stochastic transformation of this candidate. Equality
// and hashing are defined over the scheduled IR's structural fingerprint,
// not the trace: two different traces that replay to the same IR are equal
// and must deduplicate against each other.
type SearchState struct {
	Arena ir.Arena
	Trace *ScheduleTrace
	Cost  float64
	Rand  random.State
}

// NewSearchState wraps an already-replayed arena and the trace that
// produced it with an unscored cost (NaN) and the given PRNG state.
func NewSearchState(arena ir.Arena, trace *ScheduleTrace, rnd random.State) *SearchState {
	return &SearchState{Arena: arena, Trace: trace, Cost: math.NaN(), Rand: rnd}
}

// Scored reports whether Cost holds a real prediction rather than the
// unscored sentinel.
func (s *SearchState) Scored() bool { return !math.IsNaN(s.Cost) }

// Fingerprint returns the structural fingerprint of the scheduled IR,
// which is what SearchState equality and deduplication are defined over.
func (s *SearchState) Fingerprint() ir.Fingerprint { return s.Arena.Fingerprint() }

// Equal reports whether s and other schedule structurally identical IR.
func (s *SearchState) Equal(other *SearchState) bool {
	if other == nil {
		return false
	}
	return s.Fingerprint() == other.Fingerprint()
}

// Clone returns an independent copy: a deep-copied arena, an independently
// owned trace, and the same PRNG state value (callers that want an
// isolated stochastic future should Fork it explicitly).
func (s *SearchState) Clone() *SearchState {
	return &SearchState{
		Arena: s.Arena.DeepCopy(),
		Trace: s.Trace.Clone(),
		Cost:  s.Cost,
		Rand:  s.Rand,
	}
}

// Fork draws a child PRNG state from s's own state, mutating s.Rand in the
// process and returning the isolated child.
func (s *SearchState) Fork() random.State {
	return random.Fork(&s.Rand)
}
