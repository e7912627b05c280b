// Package sketch implements AutoGenRuleSet: the family of generation rules
// that synthesize a schedule from raw lowered IR by repeatedly selecting
// an applicable rule and applying it. Like pkg/mutate, rule variants are a
// closed set rather than an open hierarchy.
package sketch

import (
	"errors"
	"strings"

	"github.com/cinnlang/autoschedule-go/internal/types"
	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/cinnlang/autoschedule-go/pkg/random"
	"github.com/cinnlang/autoschedule-go/pkg/schedule"
)

// Strategy selects how AutoGenRuleSet.Generate picks among applicable
// rules at each decision point.
type Strategy string

const (
	// StrategyRulePrune samples one applicable rule proportional to a
	// static priority; diversity-seeking.
	StrategyRulePrune Strategy = "rule-prune"
	// StrategyRandomPrune samples uniformly over applicable rules; used to
	// supply the epsilon-greedy random component.
	StrategyRandomPrune Strategy = "random-prune"
)

// Rule is one generation rule: an applicability predicate over an IR node,
// plus a stochastic apply that mutates the arena in place and reports the
// record to append.
type Rule interface {
	Name() string
	Priority() float64
	Applicable(arena ir.Arena, handle string) bool
	// Apply mutates arena in place and returns the record describing the
	// change, whether the rule considers the whole sketch now terminal,
	// and an error (typically ir.ErrInapplicable) if the rule turned out
	// not to legally fire despite Applicable saying yes.
	Apply(arena ir.Arena, handle string, rnd *random.State) (rec types.TransformationRecord, terminal bool, err error)
}

// AutoGenRuleSet is the closed registry of generation rules.
type AutoGenRuleSet struct {
	rules []Rule
}

// New builds an AutoGenRuleSet from an explicit rule list.
func New(rules ...Rule) *AutoGenRuleSet {
	return &AutoGenRuleSet{rules: rules}
}

// Default returns the standard rule families: multi-level tiling,
// auto-unroll, auto-inline, cache-read/write insertion, thread-binding,
// reduction-rfactor.
func Default() *AutoGenRuleSet {
	return New(
		multiLevelTileRule{priority: 5, maxDivisors: 8},
		autoUnrollRule{priority: 3, maxFactor: 16},
		autoInlineRule{priority: 2},
		cacheInsertRule{priority: 2},
		threadBindRule{priority: 4},
		reductionRFactorRule{priority: 3},
	)
}

type decision struct {
	handle string
	rule   Rule
}

// Generate synthesizes one sketch from seed by repeatedly selecting and
// applying a rule until no rule is applicable, a rule marks the sketch
// terminal, or maxSteps growth steps have run.
func (s *AutoGenRuleSet) Generate(seed ir.Arena, strategy Strategy, maxSteps int, rnd *random.State) (ir.Arena, *schedule.ScheduleTrace, error) {
	arena := seed.DeepCopy()
	trace := schedule.NewTrace()

	for step := 0; step < maxSteps; step++ {
		var decisions []decision
		arena.Walk(func(h string, n *ir.Node) {
			for _, r := range s.rules {
				if r.Applicable(arena, h) {
					decisions = append(decisions, decision{handle: h, rule: r})
				}
			}
		})
		if len(decisions) == 0 {
			break
		}

		var chosen decision
		if strategy == StrategyRandomPrune {
			chosen = decisions[random.SampleUniformInt(0, len(decisions), rnd)]
		} else {
			chosen = drawByPriority(decisions, rnd)
		}

		rec, terminal, err := chosen.rule.Apply(arena, chosen.handle, rnd)
		if err != nil {
			if errors.Is(err, ir.ErrInapplicable) {
				continue
			}
			return nil, nil, err
		}
		trace = trace.Append(rec)
		if terminal {
			break
		}
	}
	return arena, trace, nil
}

func drawByPriority(decisions []decision, rnd *random.State) decision {
	var total float64
	for _, d := range decisions {
		total += d.rule.Priority()
	}
	if total <= 0 {
		return decisions[random.SampleUniformInt(0, len(decisions), rnd)]
	}
	r := random.SampleUniformReal(rnd) * total
	cumulative := 0.0
	for _, d := range decisions {
		cumulative += d.rule.Priority()
		if r <= cumulative {
			return d
		}
	}
	return decisions[len(decisions)-1]
}

// multiLevelTileRule splits a loop by a sampled divisor of its current
// extent; applying it repeatedly across generation steps (to the
// resulting outer and inner loops) is what makes tiling "multi-level".
type multiLevelTileRule struct {
	priority    float64
	maxDivisors int
}

func (r multiLevelTileRule) Name() string     { return "multi_level_tile" }
func (r multiLevelTileRule) Priority() float64 { return r.priority }

func (r multiLevelTileRule) Applicable(arena ir.Arena, handle string) bool {
	n, err := arena.Resolve(handle)
	return err == nil && n.Kind == ir.KindLoop && n.Extent > 1
}

func (r multiLevelTileRule) Apply(arena ir.Arena, handle string, rnd *random.State) (types.TransformationRecord, bool, error) {
	n, err := arena.Resolve(handle)
	if err != nil {
		return types.TransformationRecord{}, false, err
	}
	divisors := properDivisors(n.Extent)
	if len(divisors) == 0 {
		return types.TransformationRecord{}, false, ir.ErrInapplicable
	}
	factor := divisors[random.SampleUniformInt(0, len(divisors), rnd)]
	outer, inner, err := arena.Split(handle, factor)
	if err != nil {
		return types.TransformationRecord{}, false, err
	}
	return schedule.SplitRecord(handle, factor, outer, inner), false, nil
}

func properDivisors(n int) []int {
	var out []int
	for f := 1; f <= n; f++ {
		if n%f == 0 {
			out = append(out, f)
		}
	}
	return out
}

// autoUnrollRule annotates a loop with a sampled unroll bound.
type autoUnrollRule struct {
	priority  float64
	maxFactor int
}

func (r autoUnrollRule) Name() string     { return "auto_unroll" }
func (r autoUnrollRule) Priority() float64 { return r.priority }

func (r autoUnrollRule) Applicable(arena ir.Arena, handle string) bool {
	n, err := arena.Resolve(handle)
	if err != nil || n.Kind != ir.KindLoop || n.Extent <= 1 {
		return false
	}
	_, unrolled := n.Annotations["unroll"]
	return !unrolled
}

func (r autoUnrollRule) Apply(arena ir.Arena, handle string, rnd *random.State) (types.TransformationRecord, bool, error) {
	n, err := arena.Resolve(handle)
	if err != nil {
		return types.TransformationRecord{}, false, err
	}
	maxF := r.maxFactor
	if n.Extent < maxF {
		maxF = n.Extent
	}
	if maxF <= 0 {
		return types.TransformationRecord{}, false, ir.ErrInapplicable
	}
	factor := 1 + random.SampleUniformInt(0, maxF, rnd)
	if err := arena.Unroll(handle, factor); err != nil {
		return types.TransformationRecord{}, false, err
	}
	return schedule.UnrollRecord(handle, factor), false, nil
}

// autoInlineRule marks a leaf compute block for inlining into its
// consumers.
type autoInlineRule struct{ priority float64 }

func (r autoInlineRule) Name() string     { return "auto_inline" }
func (r autoInlineRule) Priority() float64 { return r.priority }

func (r autoInlineRule) Applicable(arena ir.Arena, handle string) bool {
	n, err := arena.Resolve(handle)
	return err == nil && n.Kind == ir.KindBlock && !n.Inline
}

func (r autoInlineRule) Apply(arena ir.Arena, handle string, _ *random.State) (types.TransformationRecord, bool, error) {
	if err := arena.ComputeInline(handle); err != nil {
		return types.TransformationRecord{}, false, err
	}
	return schedule.ComputeInlineRecord(handle), false, nil
}

// cacheInsertRule inserts a read or write cache block ahead of a compute
// block. Cache blocks themselves are excluded so the rule never caches its
// own output; everything it does is carried by the appended record, so a
// replay of the trace reproduces the generated arena exactly.
type cacheInsertRule struct{ priority float64 }

func (r cacheInsertRule) Name() string     { return "cache_insert" }
func (r cacheInsertRule) Priority() float64 { return r.priority }

func (r cacheInsertRule) Applicable(arena ir.Arena, handle string) bool {
	n, err := arena.Resolve(handle)
	return err == nil && n.Kind == ir.KindBlock && !strings.Contains(n.Name, ".cache_")
}

func (r cacheInsertRule) Apply(arena ir.Arena, handle string, rnd *random.State) (types.TransformationRecord, bool, error) {
	const scope = "shared"
	if random.SampleUniformInt(0, 2, rnd) == 0 {
		result, err := arena.CacheRead(handle, scope)
		if err != nil {
			return types.TransformationRecord{}, false, err
		}
		return schedule.CacheReadRecord(handle, scope, result), false, nil
	}
	result, err := arena.CacheWrite(handle, scope)
	if err != nil {
		return types.TransformationRecord{}, false, err
	}
	return schedule.CacheWriteRecord(handle, scope, result), false, nil
}

// threadBindRule binds a loop to a thread/block axis.
type threadBindRule struct{ priority float64 }

func (r threadBindRule) Name() string     { return "thread_bind" }
func (r threadBindRule) Priority() float64 { return r.priority }

var bindAxes = []string{"blockIdx.x", "blockIdx.y", "threadIdx.x", "threadIdx.y"}

func (r threadBindRule) Applicable(arena ir.Arena, handle string) bool {
	n, err := arena.Resolve(handle)
	if err != nil || n.Kind != ir.KindLoop {
		return false
	}
	_, bound := n.Annotations["bind"]
	return !bound
}

func (r threadBindRule) Apply(arena ir.Arena, handle string, rnd *random.State) (types.TransformationRecord, bool, error) {
	axis := bindAxes[random.SampleUniformInt(0, len(bindAxes), rnd)]
	if err := arena.Bind(handle, axis); err != nil {
		return types.TransformationRecord{}, false, err
	}
	return schedule.BindRecord(handle, axis), false, nil
}

// reductionRFactorRule wraps a reduction loop with an rfactor split. It
// marks the sketch terminal: once a reduction has been rfactor'd, this
// generator treats the subtree as finished.
type reductionRFactorRule struct{ priority float64 }

func (r reductionRFactorRule) Name() string     { return "reduction_rfactor" }
func (r reductionRFactorRule) Priority() float64 { return r.priority }

func (r reductionRFactorRule) Applicable(arena ir.Arena, handle string) bool {
	n, err := arena.Resolve(handle)
	if err != nil || n.Kind != ir.KindLoop || !n.Reduce {
		return false
	}
	_, done := n.Annotations["rfactor_axis"]
	return !done
}

func (r reductionRFactorRule) Apply(arena ir.Arena, handle string, rnd *random.State) (types.TransformationRecord, bool, error) {
	axis := random.SampleUniformInt(0, 4, rnd)
	wrapped, err := arena.RFactor(handle, axis)
	if err != nil {
		return types.TransformationRecord{}, false, err
	}
	return schedule.RFactorRecord(handle, axis, wrapped), true, nil
}
