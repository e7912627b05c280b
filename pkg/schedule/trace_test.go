package schedule

import (
	"testing"

	"github.com/cinnlang/autoschedule-go/pkg/ir"
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

func TestAppendIsImmutable(t *testing.T) {
	t0 := NewTrace()
	t1 := t0.Append(ParallelRecord("root[0]"))

	assert.Equal(t, 0, t0.Size())
	assert.Equal(t, 1, t1.Size())
}

func TestReplaySplitProducesExpectedArena(t *testing.T) {
	seed := buildSeed()
	trace := NewTrace().Append(SplitRecord("root[0]", 32, "root[0].loop[0]", "root[0].loop[1]"))

	out, err := trace.Replay(seed)
	require.NoError(t, err)

	// The outer loop takes over the original root slot; the inner loop is
	// its sole child.
	outer, err := out.Resolve("root[0]")
	require.NoError(t, err)
	assert.Equal(t, 4, outer.Extent)

	inner, err := out.Resolve("root[0].loop[0]")
	require.NoError(t, err)
	assert.Equal(t, 32, inner.Extent)
}

func TestReplayIsDeterministic(t *testing.T) {
	seed := buildSeed()
	trace := NewTrace().
		Append(SplitRecord("root[0]", 32, "root[0].loop[0]", "root[0].loop[1]")).
		Append(BindRecord("root[0].loop[0]", "blockIdx.x"))

	a1, err := trace.Replay(seed)
	require.NoError(t, err)
	a2, err := trace.Replay(seed)
	require.NoError(t, err)

	assert.Equal(t, a1.Fingerprint(), a2.Fingerprint())
}

func TestReplayWrapsInapplicableAsReplayFailure(t *testing.T) {
	seed := buildSeed()
	// factor 5 does not divide extent 128: Split is inapplicable.
	trace := NewTrace().Append(SplitRecord("root[0]", 5, "x", "y"))

	_, err := trace.Replay(seed)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrReplayFailure)
	assert.ErrorIs(t, err, ir.ErrInapplicable)
}

func TestTruncateDropsTailRecords(t *testing.T) {
	trace := NewTrace().
		Append(ParallelRecord("root[0]")).
		Append(VectorizeRecord("root[0]"))

	head := trace.Truncate(1)
	assert.Equal(t, 1, head.Size())
	assert.Equal(t, 2, trace.Size())
}

func TestSerializeDeserializeRoundTrips(t *testing.T) {
	trace := NewTrace().
		Append(SplitRecord("root[0]", 32, "root[0].loop[0]", "root[0].loop[1]")).
		Append(BindRecord("root[0].loop[0]", "blockIdx.x"))

	data, err := trace.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, trace.Records(), got.Records())
}

func TestDeserializeRejectsUnknownVersion(t *testing.T) {
	data, err := NewTrace().Serialize()
	require.NoError(t, err)
	data[0] = 0xFF

	_, err = Deserialize(data)
	assert.Error(t, err)
}

func TestDeserializeRejectsTruncatedBody(t *testing.T) {
	data, err := NewTrace().Append(ParallelRecord("root[0]")).Serialize()
	require.NoError(t, err)

	_, err = Deserialize(data[:len(data)-2])
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	trace := NewTrace().Append(ParallelRecord("root[0]"))
	clone := trace.Clone()

	clone2 := clone.Append(VectorizeRecord("root[0]"))
	assert.Equal(t, 1, trace.Size())
	assert.Equal(t, 1, clone.Size())
	assert.Equal(t, 2, clone2.Size())
}
