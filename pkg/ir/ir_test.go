package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMatmul() Arena {
	b := NewBuilder()
	i := b.Loop("i", 128, false)
	j := b.ChildLoop(i, "j", 128, false)
	k := b.ChildLoop(j, "k", 128, true)
	b.ChildBlock(k, "C")
	return b.Build()
}

func TestHandleOfRoundTrips(t *testing.T) {
	a := buildMatmul()
	var handles []string
	a.Walk(func(handle string, n *Node) { handles = append(handles, handle) })
	for _, h := range handles {
		_, err := a.Resolve(h)
		require.NoError(t, err)
	}
}

func TestTopologicalGroupsOnePerNodeParentBeforeChild(t *testing.T) {
	a := buildMatmul()
	groups := TopologicalGroups(a)

	var nodeCount int
	a.Walk(func(string, *Node) { nodeCount++ })
	require.Len(t, groups, nodeCount)

	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		require.Len(t, g, 1)
		n, err := a.Resolve(g[0])
		require.NoError(t, err)
		seen[g[0]] = true
		if n.Kind == KindBlock {
			continue
		}
	}
	assert.Len(t, seen, nodeCount)

	// "root[0]" (the outermost loop) must precede its child "root[0].loop[0]"
	// in the reported order: a group never comes after its own parent.
	indexOf := func(h string) int {
		for i, g := range groups {
			if g[0] == h {
				return i
			}
		}
		return -1
	}
	assert.Less(t, indexOf("root[0]"), indexOf("root[0].loop[0]"))
}

func TestFingerprintStableAcrossDeepCopy(t *testing.T) {
	a := buildMatmul()
	fp1 := a.Fingerprint()
	fp2 := a.DeepCopy().Fingerprint()
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintChangesAfterStructuralEdit(t *testing.T) {
	a := buildMatmul()
	fp1 := a.Fingerprint()

	loop := a.Exprs()[0]
	outer, _, err := a.Split(loop, 32)
	require.NoError(t, err)
	require.NotEmpty(t, outer)

	fp2 := a.Fingerprint()
	assert.NotEqual(t, fp1, fp2)
}

func TestSplitRejectsNonDivisor(t *testing.T) {
	a := buildMatmul()
	loop := a.Exprs()[0]
	_, _, err := a.Split(loop, 5)
	assert.ErrorIs(t, err, ErrInapplicable)
}

func TestSplitThenFuseRoundTripsExtent(t *testing.T) {
	a := buildMatmul()
	loop := a.Exprs()[0]
	outer, inner, err := a.Split(loop, 32)
	require.NoError(t, err)

	fused, err := a.Fuse(outer, inner)
	require.NoError(t, err)
	node, err := a.Resolve(fused)
	require.NoError(t, err)
	assert.Equal(t, 128, node.Extent)
}

func TestBindAnnotatesLoop(t *testing.T) {
	a := buildMatmul()
	loop := a.Exprs()[0]
	require.NoError(t, a.Bind(loop, "blockIdx.x"))
	node, err := a.Resolve(loop)
	require.NoError(t, err)
	assert.Equal(t, "blockIdx.x", node.Annotations["bind"])
}

func TestComputeAtMovesBlock(t *testing.T) {
	a := buildMatmul()
	exprs := a.Exprs()
	blockHandle := exprs[0] + ".loop[0].loop[0].block[0]"
	node, err := a.Resolve(blockHandle)
	require.NoError(t, err)
	require.Equal(t, "C", node.Name)

	require.NoError(t, a.ComputeAt(blockHandle, exprs[0]))
	_, err = a.Resolve(blockHandle)
	assert.Error(t, err, "old handle should no longer resolve once reparented")
}

func TestRFactorRequiresReductionLoop(t *testing.T) {
	a := buildMatmul()
	i := a.Exprs()[0]
	_, err := a.RFactor(i, 0)
	assert.ErrorIs(t, err, ErrInapplicable)

	reduceLoop := i + ".loop[0].loop[0]"
	h, err := a.RFactor(reduceLoop, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, h)
}

func TestDeepCopyIsIndependent(t *testing.T) {
	a := buildMatmul()
	clone := a.DeepCopy()
	loop := clone.Exprs()[0]
	require.NoError(t, clone.Bind(loop, "threadIdx.x"))

	orig, err := a.Resolve(a.Exprs()[0])
	require.NoError(t, err)
	assert.Empty(t, orig.Annotations["bind"])
}
