// Package searchspace implements SearchSpace: the component that drives
// sketch generation and scored random mutation on behalf of
// EvolutionarySearch.
package searchspace

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cinnlang/autoschedule-go/pkg/costmodel"
	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/cinnlang/autoschedule-go/pkg/mutate"
	"github.com/cinnlang/autoschedule-go/pkg/random"
	"github.com/cinnlang/autoschedule-go/pkg/schedule"
	"github.com/cinnlang/autoschedule-go/pkg/sketch"
)

// SearchSpace couples an AutoGenRuleSet and a MutateRuleSet with the
// maximum sketch growth bound from SearchSpaceConfig.
type SearchSpace struct {
	sketches       *sketch.AutoGenRuleSet
	mutations      *mutate.MutateRuleSet
	maxSketchSteps int
	logger         *logrus.Logger
}

// New builds a SearchSpace from explicit rule sets.
func New(sketches *sketch.AutoGenRuleSet, mutations *mutate.MutateRuleSet, maxSketchSteps int) *SearchSpace {
	return &SearchSpace{
		sketches:       sketches,
		mutations:      mutations,
		maxSketchSteps: maxSketchSteps,
		logger:         logrus.New(),
	}
}

// Default builds a SearchSpace from the default sketch and mutation rule
// families.
func Default(maxSketchSteps int) *SearchSpace {
	return New(sketch.Default(), mutate.Default(), maxSketchSteps)
}

// maxSketchAttemptFactor bounds how many extra sketches GenerateSketches
// will try to synthesize in search of a fresh fingerprint before accepting
// that the space is exhausted.
const maxSketchAttemptFactor = 20

// GenerateSketches returns up to n sketches rooted at seed, distinct by IR
// fingerprint, using strategy. If the space is exhausted before reaching n
// it returns everything it could produce.
func (s *SearchSpace) GenerateSketches(seed ir.Arena, n int, strategy sketch.Strategy, rnd *random.State) []*schedule.SearchState {
	if n <= 0 {
		return nil
	}
	out := make([]*schedule.SearchState, 0, n)
	seen := make(map[ir.Fingerprint]bool, n)
	maxAttempts := n * maxSketchAttemptFactor

	for attempt := 0; len(out) < n && attempt < maxAttempts; attempt++ {
		childRand := random.Fork(rnd)
		arena, trace, err := s.generateOne(seed, strategy, &childRand)
		if err != nil {
			// A rule genuinely misbehaved (not the expected
			// ErrInapplicable, which Generate already absorbs
			// internally); drop this attempt and keep going rather
			// than abort sketch generation for the whole round.
			s.logger.WithError(err).Warn("sketch generation attempt failed")
			continue
		}
		fp := arena.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, schedule.NewSearchState(arena, trace, childRand))
	}
	return out
}

// generateOne runs one sketch synthesis attempt, converting any panic a
// misbehaving rule raises during IR manipulation into an error so the
// caller can log and drop the attempt instead of the whole round dying.
func (s *SearchSpace) generateOne(seed ir.Arena, strategy sketch.Strategy, rnd *random.State) (arena ir.Arena, trace *schedule.ScheduleTrace, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sketch rule panicked: %v", r)
		}
	}()
	return s.sketches.Generate(seed, strategy, s.maxSketchSteps, rnd)
}

// MutateCandidate applies one mutation to state: it mutates, replays, and
// falls back to the unchanged input schedule if the mutation didn't fire,
// failed to replay, or panicked mid-rewrite. The returned state is left
// unscored (Cost is NaN); callers score it themselves, either one at a
// time via model.Predict or batched via a costmodel.BatchPredictor.
func (s *SearchSpace) MutateCandidate(seed ir.Arena, state *schedule.SearchState) *schedule.SearchState {
	rnd := state.Fork()

	candidateTrace := state.Trace
	candidateArena := state.Arena

	if newArena, newTrace, err := s.mutateOne(seed, state.Trace, &rnd); err != nil {
		s.logger.WithError(err).Warn("mutation failed, keeping input schedule")
	} else if newTrace != nil {
		candidateTrace = newTrace
		candidateArena = newArena
	}

	return schedule.NewSearchState(candidateArena, candidateTrace, rnd)
}

// mutateOne runs one mutation attempt and replays its result, converting a
// rule panic into an error. A nil trace with a nil error means no rule
// fired; the caller keeps the input schedule.
func (s *SearchSpace) mutateOne(seed ir.Arena, trace *schedule.ScheduleTrace, rnd *random.State) (arena ir.Arena, out *schedule.ScheduleTrace, err error) {
	defer func() {
		if r := recover(); r != nil {
			arena, out = nil, nil
			err = errors.Errorf("mutate rule panicked: %v", r)
		}
	}()
	newTrace, ok := s.mutations.Mutate(seed, trace, rnd)
	if !ok {
		return nil, nil, nil
	}
	replayed, err := newTrace.Replay(seed)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mutation failed to replay")
	}
	return replayed, newTrace, nil
}

// GetScheduleMutate applies one scored mutation to state: it mutates,
// replays, falls back to the unchanged input schedule if the mutation
// didn't fire or failed to replay, and scores the result with model.
func (s *SearchSpace) GetScheduleMutate(ctx context.Context, seed ir.Arena, state *schedule.SearchState, model costmodel.CostModel) *schedule.SearchState {
	out := s.MutateCandidate(seed, state)
	cost, err := model.Predict(ctx, out.Arena)
	if err != nil {
		s.logger.WithError(err).Warn("cost model prediction failed")
		cost = math.Inf(1)
	}
	out.Cost = cost
	return out
}
