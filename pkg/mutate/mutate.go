// Package mutate implements MutateRuleSet: a closed family of rules that
// perturb one record of a ScheduleTrace. Rule variants are a fixed
// registry rather than an open class hierarchy; the top-level Mutate draws
// one rule by weight via a cumulative-probability walk.
package mutate

import (
	"github.com/cinnlang/autoschedule-go/internal/constants"
	"github.com/cinnlang/autoschedule-go/internal/types"
	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/cinnlang/autoschedule-go/pkg/random"
	"github.com/cinnlang/autoschedule-go/pkg/schedule"
)

// Rule rewrites the numeric operands of one TransformationRecord. arena is
// the IR state immediately before rec was originally applied, giving the
// rule whatever live structural context it needs (e.g. a loop's current
// extent to pick another legal tile factor).
type Rule interface {
	Name() string
	Weight() float64
	Applicable(rec types.TransformationRecord) bool
	Apply(arena ir.Arena, rec types.TransformationRecord, rnd *random.State) (types.TransformationRecord, bool)
}

// MutateRuleSet draws one eligible (record, rule) pair by weight and
// rewrites that record.
type MutateRuleSet struct {
	rules []Rule
}

// New builds a MutateRuleSet from an explicit rule list.
func New(rules ...Rule) *MutateRuleSet {
	return &MutateRuleSet{rules: rules}
}

// Default returns the standard rule family: tile-factor resampling,
// unroll-bound resampling, compute-at rerouting.
func Default() *MutateRuleSet {
	return New(
		tileFactorRule{weight: 0.4},
		unrollBoundRule{weight: 0.3, maxFactor: 32},
		computeAtRerouteRule{weight: 0.3},
	)
}

type eligible struct {
	idx  int
	rule Rule
}

// Mutate selects one (record, rule) pair weighted by rule weight among
// those eligible in trace, rewrites that record, and verifies the
// resulting trace still replays against seed. If no record is eligible, or
// the rewrite fails to replay, the unchanged input trace is returned with
// ok=false.
func (s *MutateRuleSet) Mutate(seed ir.Arena, trace *schedule.ScheduleTrace, rnd *random.State) (*schedule.ScheduleTrace, bool) {
	records := trace.Records()

	var candidates []eligible
	for i, rec := range records {
		for _, r := range s.rules {
			if r.Applicable(rec) {
				candidates = append(candidates, eligible{idx: i, rule: r})
			}
		}
	}
	if len(candidates) == 0 {
		return trace, false
	}

	chosen := drawWeighted(candidates, rnd)

	prefix := schedule.FromRecords(records[:chosen.idx])
	arenaAtI, err := prefix.Replay(seed)
	if err != nil {
		return trace, false
	}

	newRec, ok := chosen.rule.Apply(arenaAtI, records[chosen.idx], rnd)
	if !ok {
		return trace, false
	}

	newRecords := make([]types.TransformationRecord, len(records))
	copy(newRecords, records)
	newRecords[chosen.idx] = newRec
	newTrace := schedule.FromRecords(newRecords)
	if _, err := newTrace.Replay(seed); err != nil {
		return trace, false
	}
	return newTrace, true
}

func drawWeighted(candidates []eligible, rnd *random.State) eligible {
	var total float64
	for _, c := range candidates {
		total += c.rule.Weight()
	}
	if total <= 0 {
		return candidates[random.SampleUniformInt(0, len(candidates), rnd)]
	}
	r := random.SampleUniformReal(rnd) * total
	cumulative := 0.0
	for _, c := range candidates {
		cumulative += c.rule.Weight()
		if r <= cumulative {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// tileFactorRule resamples a split's factor to another divisor of the
// loop's current extent.
type tileFactorRule struct{ weight float64 }

func (r tileFactorRule) Name() string    { return "resample_tile_factor" }
func (r tileFactorRule) Weight() float64 { return r.weight }
func (r tileFactorRule) Applicable(rec types.TransformationRecord) bool {
	return rec.Opcode == constants.OpSplit && len(rec.Operands) == 2
}

func (r tileFactorRule) Apply(arena ir.Arena, rec types.TransformationRecord, rnd *random.State) (types.TransformationRecord, bool) {
	node, err := arena.Resolve(rec.Operands[0].StringValue)
	if err != nil || node.Kind != ir.KindLoop || node.Extent <= 1 {
		return rec, false
	}
	divisors := properDivisors(node.Extent)
	if len(divisors) == 0 {
		return rec, false
	}
	newFactor := divisors[random.SampleUniformInt(0, len(divisors), rnd)]
	newOps := append([]types.Operand(nil), rec.Operands...)
	newOps[1] = types.IntOperand(newFactor)
	return types.TransformationRecord{Opcode: rec.Opcode, Operands: newOps}, true
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

// unrollBoundRule resamples an unroll's factor uniformly in [1, maxFactor].
type unrollBoundRule struct {
	weight    float64
	maxFactor int
}

func (r unrollBoundRule) Name() string    { return "resample_unroll_bound" }
func (r unrollBoundRule) Weight() float64 { return r.weight }
func (r unrollBoundRule) Applicable(rec types.TransformationRecord) bool {
	return rec.Opcode == constants.OpUnroll && len(rec.Operands) == 2
}

func (r unrollBoundRule) Apply(_ ir.Arena, rec types.TransformationRecord, rnd *random.State) (types.TransformationRecord, bool) {
	if r.maxFactor <= 0 {
		return rec, false
	}
	newFactor := 1 + random.SampleUniformInt(0, r.maxFactor, rnd)
	newOps := append([]types.Operand(nil), rec.Operands...)
	newOps[1] = types.IntOperand(newFactor)
	return types.TransformationRecord{Opcode: rec.Opcode, Operands: newOps}, true
}

// computeAtRerouteRule reroutes a compute-at to a different loop handle
// chosen uniformly among the arena's current loop nodes.
type computeAtRerouteRule struct{ weight float64 }

func (r computeAtRerouteRule) Name() string    { return "reroute_compute_at" }
func (r computeAtRerouteRule) Weight() float64 { return r.weight }
func (r computeAtRerouteRule) Applicable(rec types.TransformationRecord) bool {
	return rec.Opcode == constants.OpComputeAt && len(rec.Operands) == 2
}

func (r computeAtRerouteRule) Apply(arena ir.Arena, rec types.TransformationRecord, rnd *random.State) (types.TransformationRecord, bool) {
	var loopHandles []string
	arena.Walk(func(h string, n *ir.Node) {
		if n.Kind == ir.KindLoop {
			loopHandles = append(loopHandles, h)
		}
	})
	if len(loopHandles) == 0 {
		return rec, false
	}
	target := loopHandles[random.SampleUniformInt(0, len(loopHandles), rnd)]
	newOps := []types.Operand{rec.Operands[0], types.HandleOperand(target)}
	return types.TransformationRecord{Opcode: rec.Opcode, Operands: newOps}, true
}
