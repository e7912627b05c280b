package sketch

import (
	"testing"

	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/cinnlang/autoschedule-go/pkg/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSeed() ir.Arena {
	b := ir.NewBuilder()
	i := b.Loop("i", 128, false)
	j := b.ChildLoop(i, "j", 64, true)
	b.ChildBlock(j, "C")
	return b.Build()
}

func TestGenerateProducesNonEmptyTraceWhenRulesApply(t *testing.T) {
	seed := buildSeed()
	rnd := random.Normalize(1)

	arena, trace, err := Default().Generate(seed, StrategyRulePrune, 10, &rnd)
	require.NoError(t, err)
	assert.Greater(t, trace.Size(), 0)

	replayed, err := trace.Replay(seed)
	require.NoError(t, err)
	assert.Equal(t, arena.Fingerprint(), replayed.Fingerprint())
}

func TestGenerateIsDeterministicForFixedSeed(t *testing.T) {
	seed := buildSeed()

	r1 := random.Normalize(42)
	r2 := random.Normalize(42)

	_, t1, err := Default().Generate(seed, StrategyRulePrune, 10, &r1)
	require.NoError(t, err)
	_, t2, err := Default().Generate(seed, StrategyRulePrune, 10, &r2)
	require.NoError(t, err)

	assert.Equal(t, t1.Records(), t2.Records())
}

func TestGenerateStopsAtMaxSteps(t *testing.T) {
	seed := buildSeed()
	rnd := random.Normalize(5)

	_, trace, err := Default().Generate(seed, StrategyRandomPrune, 3, &rnd)
	require.NoError(t, err)
	assert.LessOrEqual(t, trace.Size(), 3)
}

func TestAutoInlineRuleAppliesOnce(t *testing.T) {
	arena := buildSeed()
	node, err := arena.Resolve("root[0].loop[0].block[0]")
	require.NoError(t, err)
	assert.False(t, node.Inline)

	rule := autoInlineRule{priority: 1}
	assert.True(t, rule.Applicable(arena, "root[0].loop[0].block[0]"))

	rnd := random.Normalize(1)
	_, _, err = rule.Apply(arena, "root[0].loop[0].block[0]", &rnd)
	require.NoError(t, err)
	assert.False(t, rule.Applicable(arena, "root[0].loop[0].block[0]"))
}

func TestReductionRFactorRuleMarksTerminal(t *testing.T) {
	arena := buildSeed()
	rnd := random.Normalize(2)
	rule := reductionRFactorRule{priority: 1}

	assert.True(t, rule.Applicable(arena, "root[0].loop[0]"))
	_, terminal, err := rule.Apply(arena, "root[0].loop[0]", &rnd)
	require.NoError(t, err)
	assert.True(t, terminal)
}
