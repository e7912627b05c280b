package mutate

import (
	"testing"

	"github.com/cinnlang/autoschedule-go/pkg/ir"
	"github.com/cinnlang/autoschedule-go/pkg/random"
	"github.com/cinnlang/autoschedule-go/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSeed() ir.Arena {
	b := ir.NewBuilder()
	i := b.Loop("i", 128, false)
	j := b.ChildLoop(i, "j", 64, false)
	b.ChildBlock(j, "C")
	return b.Build()
}

func TestMutateReturnsUnchangedWhenNoRecordsEligible(t *testing.T) {
	seed := buildSeed()
	trace := schedule.NewTrace().Append(schedule.VectorizeRecord("root[0]"))
	rnd := random.Normalize(1)

	out, ok := Default().Mutate(seed, trace, &rnd)
	assert.False(t, ok)
	assert.Equal(t, trace, out)
}

func TestMutateResamplesTileFactor(t *testing.T) {
	seed := buildSeed()
	trace := schedule.NewTrace().Append(schedule.SplitRecord("root[0]", 32, "root[0].loop[0]", "root[0].loop[1]"))
	rs := New(tileFactorRule{weight: 1})

	found := false
	for s := uint64(1); s < 50; s++ {
		rnd := random.Normalize(s)
		out, ok := rs.Mutate(seed, trace, &rnd)
		if !ok {
			continue
		}
		rec, err := out.RecordAt(0)
		require.NoError(t, err)
		if rec.Operands[1].IntValue != 32 {
			found = true
			// Must still replay successfully since divisors of 128 are legal.
			_, err := out.Replay(seed)
			assert.NoError(t, err)
			break
		}
	}
	assert.True(t, found, "expected at least one seed to resample a different factor")
}

func TestMutateNeverMutatesOriginalTrace(t *testing.T) {
	seed := buildSeed()
	trace := schedule.NewTrace().Append(schedule.SplitRecord("root[0]", 32, "root[0].loop[0]", "root[0].loop[1]"))
	rnd := random.Normalize(3)

	before := trace.Records()
	_, _ = Default().Mutate(seed, trace, &rnd)
	assert.Equal(t, before, trace.Records())
}

func TestUnrollBoundRuleStaysInRange(t *testing.T) {
	seed := buildSeed()
	rec := schedule.UnrollRecord("root[0]", 4)
	rnd := random.Normalize(11)

	rule := unrollBoundRule{weight: 1, maxFactor: 8}
	for i := 0; i < 20; i++ {
		got, ok := rule.Apply(seed, rec, &rnd)
		require.True(t, ok)
		assert.GreaterOrEqual(t, got.Operands[1].IntValue, 1)
		assert.LessOrEqual(t, got.Operands[1].IntValue, 8)
	}
}
