// Package evolutionary implements EvolutionarySearch: the orchestrator
// that drives SearchSpace and the record store through one round's
// warm-start, sketch, crossover, mutate and select pipeline.
package evolutionary

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cinnlang/autoschedule-go/internal/types"
	"github.com/cinnlang/autoschedule-go/pkg/boundedset"
	"github.com/cinnlang/autoschedule-go/pkg/costmodel"
	"github.com/cinnlang/autoschedule-go/pkg/database"
	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/cinnlang/autoschedule-go/pkg/random"
	"github.com/cinnlang/autoschedule-go/pkg/schedule"
	"github.com/cinnlang/autoschedule-go/pkg/searchspace"
	"github.com/cinnlang/autoschedule-go/pkg/sketch"
)

// ErrInvalidConfiguration is fatal for a round: a malformed
// EvolutionaryConfig that is a programmer error, not a runtime condition.
var ErrInvalidConfiguration = errors.New("evolutionary: invalid configuration")

// ErrCrossoverArity is CrossOver's failure when the two parents don't
// share the same number of top-level IR expressions. It wraps
// ErrInvalidConfiguration: mismatched parent shapes are a programmer
// error, not a local per-candidate failure.
var ErrCrossoverArity = errors.Wrap(ErrInvalidConfiguration, "evolutionary: crossover parents have different expression arity")

// defaultBatchWorkers bounds the worker pool EvolutionarySearch spins up
// over its CostModel when NumWorkers is left at its zero value.
const defaultBatchWorkers = 4

// EvolutionarySearch drives one task's search rounds against a
// SearchSpace, a Database and a CostModel.
type EvolutionarySearch struct {
	config types.EvolutionaryConfig
	space  *searchspace.SearchSpace
	store  database.Store
	model  costmodel.CostModel
	batch  *costmodel.BatchPredictor
	stats  types.EvolutionStats
	logger *logrus.Logger
}

// New builds an EvolutionarySearch. It owns a BatchPredictor over model,
// sized by config.NumWorkers, so a round's scoring fans out across
// goroutines instead of calling model.Predict serially. Call Stop when the
// search is done with it.
func New(config types.EvolutionaryConfig, space *searchspace.SearchSpace, store database.Store, model costmodel.CostModel) *EvolutionarySearch {
	workers := config.NumWorkers
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	return &EvolutionarySearch{
		config: config,
		space:  space,
		store:  store,
		model:  model,
		batch:  costmodel.NewBatchPredictor(model, workers),
		stats:  types.EvolutionStats{BestCost: math.Inf(1), StartTime: time.Now()},
		logger: logrus.New(),
	}
}

// Stats returns a snapshot of the search's cumulative round statistics.
func (e *EvolutionarySearch) Stats() types.EvolutionStats {
	return e.stats
}

// Stop shuts down the search's batch worker pool. The EvolutionarySearch
// cannot be used again after Stop returns.
func (e *EvolutionarySearch) Stop() {
	e.batch.Stop()
}

func (e *EvolutionarySearch) validate() error {
	if e.config.InitPopulationNum <= 0 {
		return errors.Wrap(ErrInvalidConfiguration, "evolutionary: init_population_num must be positive")
	}
	if e.config.NumSamplesPerIteration <= 0 {
		return errors.Wrap(ErrInvalidConfiguration, "evolutionary: num_samples_per_iteration must be positive")
	}
	if e.config.EpsGreedy < 0 || e.config.EpsGreedy > 1 {
		return errors.Wrap(ErrInvalidConfiguration, "evolutionary: eps_greedy must be in [0,1]")
	}
	return nil
}

// SearchBest runs one evolution round and returns the top
// NumSamplesPerIteration candidates in ascending-cost order: it pulls
// database warm starts, fills the population with rule-prune sketches,
// expands it by crossover, applies one scored mutation per candidate, and
// keeps the cheapest. task.Seed is the handle to the seed lowered IR; no
// seed is threaded as a separate parameter.
func (e *EvolutionarySearch) SearchBest(ctx context.Context, task types.TuneTask, rnd *random.State) ([]*schedule.SearchState, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	seed := task.Seed

	warmStarts := e.warmStarts(task, rnd)

	needed := e.config.InitPopulationNum - len(warmStarts)
	if needed < 0 {
		needed = 0
	}
	sketches := e.space.GenerateSketches(seed, needed, sketch.StrategyRulePrune, rnd)

	population := make([]*schedule.SearchState, 0, len(warmStarts)+len(sketches))
	population = append(population, warmStarts...)
	population = append(population, sketches...)
	if len(population) == 0 {
		return nil, nil
	}

	children := e.crossoverChildren(population, rnd)
	expanded := make([]*schedule.SearchState, 0, len(population)+len(children))
	expanded = append(expanded, population...)
	expanded = append(expanded, children...)

	// Mutate every candidate first, then score the whole batch through the
	// BatchPredictor's worker pool in one fan-out instead of one
	// model.Predict call per candidate.
	mutated := make([]*schedule.SearchState, len(expanded))
	arenas := make([]ir.Arena, len(expanded))
	for i, candidate := range expanded {
		mutated[i] = e.space.MutateCandidate(seed, candidate)
		arenas[i] = mutated[i].Arena
	}
	costs := e.batch.PredictBatch(ctx, arenas)

	best := boundedset.New[*schedule.SearchState](e.config.NumSamplesPerIteration)
	for i, scored := range mutated {
		scored.Cost = costs[i]
		best.Push(scored, scored.Cost)
	}
	return best.Ascending(), nil
}

// SearchModuleExprBests runs an independent SearchBest round over each of
// the seed's top-level IR expressions in isolation and returns the single
// best candidate found for each, one per expression.
func (e *EvolutionarySearch) SearchModuleExprBests(ctx context.Context, task types.TuneTask, rnd *random.State) ([]*schedule.SearchState, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	exprs := task.Seed.Exprs()
	out := make([]*schedule.SearchState, 0, len(exprs))
	for i := range exprs {
		exprSeed, err := task.Seed.ExprArena(i)
		if err != nil {
			return nil, errors.Wrapf(err, "evolutionary: isolating expression %d", i)
		}
		exprTask := types.TuneTask{Key: task.Key, Seed: exprSeed}
		childRand := random.Fork(rnd)
		bests, err := e.SearchBest(ctx, exprTask, &childRand)
		if err != nil {
			return nil, errors.Wrapf(err, "evolutionary: searching expression %d", i)
		}
		if len(bests) > 0 {
			out = append(out, bests[0])
		}
	}
	return out, nil
}

// SearchEpsGreedy is the primary entry point: it blends
// NumSamplesPerIteration*EpsGreedy freshly-generated random candidates
// with the remainder drawn from SearchBest's output, skipping anything
// already present in visited (by IR fingerprint) and recording every kept
// candidate into it. visited may be nil, in which case one is allocated.
func (e *EvolutionarySearch) SearchEpsGreedy(ctx context.Context, task types.TuneTask, rnd *random.State, visited map[ir.Fingerprint]bool) ([]*schedule.SearchState, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if visited == nil {
		visited = make(map[ir.Fingerprint]bool)
	}

	bests, err := e.SearchBest(ctx, task, rnd)
	if err != nil {
		return nil, err
	}

	randomCount := e.config.InitPopulationNum - e.config.PickDatabaseTopK
	if randomCount < 0 {
		randomCount = 0
	}
	randoms := e.space.GenerateSketches(task.Seed, randomCount, sketch.StrategyRandomPrune, rnd)

	num := e.config.NumSamplesPerIteration
	numRand := int(float64(num) * e.config.EpsGreedy)
	numBest := num - numRand

	out := make([]*schedule.SearchState, 0, num)
	bi, ri := 0, 0

	take := func(candidate *schedule.SearchState) bool {
		fp := candidate.Fingerprint()
		if visited[fp] {
			e.stats.DeduplicatedHits++
			return false
		}
		visited[fp] = true
		out = append(out, candidate)
		return true
	}

	// First numBest slots from bests.
	for len(out) < numBest && bi < len(bests) {
		take(bests[bi])
		bi++
	}
	// Remaining slots from randoms; if bests ran dry above, randoms also
	// absorbs the shortfall since the target here is the full num, not
	// just numRand.
	for len(out) < num && ri < len(randoms) {
		take(randoms[ri])
		ri++
	}
	// If randoms also ran dry, drain whatever remains of bests.
	for len(out) < num && bi < len(bests) {
		take(bests[bi])
		bi++
	}

	e.stats.TotalRounds++
	e.stats.TotalCandidates += int64(len(out))
	for _, c := range out {
		if c.Scored() && c.Cost < e.stats.BestCost {
			e.stats.BestCost = c.Cost
		}
	}
	e.stats.LastUpdate = time.Now()
	e.stats.Duration = e.stats.LastUpdate.Sub(e.stats.StartTime)
	e.logger.WithFields(logrus.Fields{
		"task":      task.Key,
		"round":     e.stats.TotalRounds,
		"selected":  len(out),
		"best_cost": e.stats.BestCost,
	}).Debug("evolutionary: round complete")

	return out, nil
}

// CrossOver combines father and mother into a child IR by visiting each
// top-level expression position and, per a 3-way die, taking father's or
// mother's sub-expression. The child's trace is left empty with the
// resulting IR taken as ground truth, since a crossed-over IR has no
// single linear transformation sequence that produced it. The child
// carries a freshly forked PRNG.
func (e *EvolutionarySearch) CrossOver(father, mother *schedule.SearchState, rnd *random.State) (*schedule.SearchState, error) {
	fatherRoots := father.Arena.Roots()
	motherRoots := mother.Arena.Roots()
	if len(fatherRoots) != len(motherRoots) {
		return nil, errors.Wrapf(ErrCrossoverArity, "father has %d expressions, mother has %d", len(fatherRoots), len(motherRoots))
	}

	child := ir.NewArena()
	for i, fatherIdx := range fatherRoots {
		if e.takeMother(rnd) {
			child.GraftRoot(mother.Arena, motherRoots[i])
		} else {
			child.GraftRoot(father.Arena, fatherIdx)
		}
	}

	childRand := random.Fork(rnd)
	return schedule.NewSearchState(child, schedule.NewTrace(), childRand), nil
}

// takeMother rolls the crossover die: the legacy 1:2 father:mother ratio
// (die values {0,1,2}; 0 is father, {1,2} is mother) unless
// CrossoverUniform asks for a true 50/50 draw.
func (e *EvolutionarySearch) takeMother(rnd *random.State) bool {
	if e.config.CrossoverUniform {
		return random.SampleUniformInt(0, 2, rnd) == 1
	}
	return random.SampleUniformInt(0, 3, rnd) != 0
}

func (e *EvolutionarySearch) crossoverChildren(population []*schedule.SearchState, rnd *random.State) []*schedule.SearchState {
	if len(population) < 2 || e.config.CrossOverNum <= 0 {
		return nil
	}
	children := make([]*schedule.SearchState, 0, e.config.CrossOverNum)
	for i := 0; i < e.config.CrossOverNum; i++ {
		a, b := distinctPair(len(population), rnd)
		child, err := e.CrossOver(population[a], population[b], rnd)
		if err != nil {
			e.logger.WithError(err).Warn("evolutionary: dropping crossover attempt")
			continue
		}
		children = append(children, child)
	}
	return children
}

func distinctPair(n int, rnd *random.State) (int, int) {
	a := random.SampleUniformInt(0, n, rnd)
	b := a
	for b == a {
		b = random.SampleUniformInt(0, n, rnd)
	}
	return a, b
}

// warmStarts pulls PickDatabaseTopK records for task from the database,
// replays each against seed, and wraps the result as a SearchState
// carrying the record's predicted cost. A record that fails to
// deserialize or replay is dropped with a warning rather than aborting
// the round.
func (e *EvolutionarySearch) warmStarts(task types.TuneTask, rnd *random.State) []*schedule.SearchState {
	records := e.store.GetTopK(task.Key, e.config.PickDatabaseTopK)
	out := make([]*schedule.SearchState, 0, len(records))
	for _, rec := range records {
		trace, err := schedule.Deserialize(rec.TraceBytes)
		if err != nil {
			e.logger.WithError(err).Warn("evolutionary: dropping warm start with undeserializable trace")
			continue
		}
		arena, err := trace.Replay(task.Seed.DeepCopy())
		if err != nil {
			e.logger.WithError(err).Warn("evolutionary: dropping warm start that failed to replay")
			continue
		}
		childRand := random.Fork(rnd)
		state := schedule.NewSearchState(arena, trace, childRand)
		state.Cost = rec.PredictedCost
		out = append(out, state)
	}
	return out
}
