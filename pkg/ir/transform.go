package ir

import "fmt"

// This file implements the per-transformation primitives the mutate and
// sketch rule sets dispatch through. Each primitive either
// mutates node annotations in place (binding/unrolling/pragma-style
// decorations that don't change tree shape) or appends fresh nodes and
// rewires a parent's Children (structural rewrites), never mutating a node
// that is still reachable from an earlier snapshot of the arena; callers
// always operate on a freshly DeepCopy'd arena before replaying a trace.

// Split divides a loop into an outer/inner pair with inner extent factor.
// Legal only when factor divides the loop's extent.
func (a *arena) Split(loopHandle string, factor int) (outer, inner string, err error) {
	idx, err := a.resolve(loopHandle)
	if err != nil {
		return "", "", err
	}
	n := a.nodes[idx]
	if n.Kind != KindLoop || factor <= 0 || n.Extent <= 0 || n.Extent%factor != 0 {
		return "", "", ErrInapplicable
	}
	parent := a.parent[idx]
	outerIdx := a.addNode(Node{Kind: KindLoop, Name: n.Name + ".o", Extent: n.Extent / factor, Reduce: n.Reduce}, parent)
	innerIdx := a.addNode(Node{Kind: KindLoop, Name: n.Name + ".i", Extent: factor, Reduce: n.Reduce, Children: n.Children}, outerIdx)
	a.nodes[outerIdx].Children = []int{innerIdx}
	for _, c := range n.Children {
		a.parent[c] = innerIdx
	}
	a.replaceInParent(idx, parent, outerIdx)
	return a.HandleOf(outerIdx), a.HandleOf(innerIdx), nil
}

// Fuse collapses a loop and its sole child loop into one loop whose extent
// is the product of both.
func (a *arena) Fuse(outerHandle, innerHandle string) (string, error) {
	oIdx, err := a.resolve(outerHandle)
	if err != nil {
		return "", err
	}
	iIdx, err := a.resolve(innerHandle)
	if err != nil {
		return "", err
	}
	oNode, iNode := a.nodes[oIdx], a.nodes[iIdx]
	if oNode.Kind != KindLoop || iNode.Kind != KindLoop || len(oNode.Children) != 1 || oNode.Children[0] != iIdx {
		return "", ErrInapplicable
	}
	parent := a.parent[oIdx]
	fused := a.addNode(Node{Kind: KindLoop, Name: oNode.Name + "+" + iNode.Name, Extent: oNode.Extent * iNode.Extent, Reduce: oNode.Reduce || iNode.Reduce, Children: iNode.Children}, parent)
	for _, c := range iNode.Children {
		a.parent[c] = fused
	}
	a.replaceInParent(oIdx, parent, fused)
	return a.HandleOf(fused), nil
}

// Reorder permutes a chain of perfectly nested loops so the n-th handle in
// handles becomes the n-th loop down the chain, by swapping Extent/Name
// between the existing chain slots.
func (a *arena) Reorder(handles []string) error {
	idxs := make([]int, len(handles))
	for i, h := range handles {
		idx, err := a.resolve(h)
		if err != nil {
			return err
		}
		if a.nodes[idx].Kind != KindLoop {
			return ErrInapplicable
		}
		idxs[i] = idx
	}
	for i := 1; i < len(idxs); i++ {
		if len(a.nodes[idxs[i-1]].Children) != 1 || a.nodes[idxs[i-1]].Children[0] != idxs[i] {
			return ErrInapplicable
		}
	}
	slots := make([]int, len(idxs))
	copy(slots, idxs)
	originals := make([]Node, len(idxs))
	for i, idx := range idxs {
		originals[i] = a.nodes[idx].clone()
	}
	for pos, idx := range slots {
		src := originals[pos]
		a.nodes[idx].Name = src.Name
		a.nodes[idx].Extent = src.Extent
		a.nodes[idx].Reduce = src.Reduce
	}
	return nil
}

// Tile applies Split to each handle with its matching factor and returns
// outer handles followed by inner handles, in that order.
func (a *arena) Tile(handles []string, factors []int) ([]string, error) {
	if len(handles) != len(factors) {
		return nil, ErrInapplicable
	}
	outers := make([]string, len(handles))
	inners := make([]string, len(handles))
	for i, h := range handles {
		o, n, err := a.Split(h, factors[i])
		if err != nil {
			return nil, err
		}
		outers[i], inners[i] = o, n
	}
	return append(outers, inners...), nil
}

// Bind annotates a loop with a thread/block binding axis.
func (a *arena) Bind(loopHandle, axis string) error {
	idx, err := a.resolve(loopHandle)
	if err != nil {
		return err
	}
	if a.nodes[idx].Kind != KindLoop {
		return ErrInapplicable
	}
	a.annotate(idx, "bind", axis)
	return nil
}

// Unroll annotates a loop with an unroll bound.
func (a *arena) Unroll(loopHandle string, factor int) error {
	idx, err := a.resolve(loopHandle)
	if err != nil {
		return err
	}
	if a.nodes[idx].Kind != KindLoop || factor <= 0 {
		return ErrInapplicable
	}
	a.annotate(idx, "unroll", fmt.Sprintf("%d", factor))
	return nil
}

// Vectorize annotates a loop as vectorized.
func (a *arena) Vectorize(loopHandle string) error {
	idx, err := a.resolve(loopHandle)
	if err != nil {
		return err
	}
	if a.nodes[idx].Kind != KindLoop {
		return ErrInapplicable
	}
	a.annotate(idx, "vectorize", "true")
	return nil
}

// CacheRead inserts a new read-cache block as a sibling just before
// blockHandle and returns its handle.
func (a *arena) CacheRead(blockHandle, scope string) (string, error) {
	return a.insertCacheBlock(blockHandle, "cache_read:"+scope)
}

// CacheWrite inserts a new write-cache block as a sibling just before
// blockHandle and returns its handle.
func (a *arena) CacheWrite(blockHandle, scope string) (string, error) {
	return a.insertCacheBlock(blockHandle, "cache_write:"+scope)
}

func (a *arena) insertCacheBlock(blockHandle, tag string) (string, error) {
	idx, err := a.resolve(blockHandle)
	if err != nil {
		return "", err
	}
	if a.nodes[idx].Kind != KindBlock {
		return "", ErrInapplicable
	}
	parent := a.parent[idx]
	if parent == -1 {
		return "", ErrInapplicable
	}
	cacheIdx := a.addNode(Node{Kind: KindBlock, Name: a.nodes[idx].Name + "." + tag}, parent)
	siblings := a.nodes[parent].Children
	pos := indexOf(siblings, idx)
	if pos < 0 {
		return "", ErrInapplicable
	}
	newSiblings := make([]int, 0, len(siblings)+1)
	newSiblings = append(newSiblings, siblings[:pos]...)
	newSiblings = append(newSiblings, cacheIdx)
	newSiblings = append(newSiblings, siblings[pos:]...)
	a.nodes[parent].Children = newSiblings
	return a.HandleOf(cacheIdx), nil
}

// ComputeAt moves blockHandle to become a child of loopHandle.
func (a *arena) ComputeAt(blockHandle, loopHandle string) error {
	bIdx, err := a.resolve(blockHandle)
	if err != nil {
		return err
	}
	lIdx, err := a.resolve(loopHandle)
	if err != nil {
		return err
	}
	if a.nodes[bIdx].Kind != KindBlock || a.nodes[lIdx].Kind != KindLoop {
		return ErrInapplicable
	}
	oldParent := a.parent[bIdx]
	if oldParent != -1 {
		a.nodes[oldParent].Children = removeValue(a.nodes[oldParent].Children, bIdx)
	}
	a.nodes[lIdx].Children = append(a.nodes[lIdx].Children, bIdx)
	a.parent[bIdx] = lIdx
	return nil
}

// ComputeInline marks a block to be inlined into its consumers.
func (a *arena) ComputeInline(blockHandle string) error {
	idx, err := a.resolve(blockHandle)
	if err != nil {
		return err
	}
	if a.nodes[idx].Kind != KindBlock || a.nodes[idx].Inline {
		return ErrInapplicable
	}
	a.nodes[idx].Inline = true
	return nil
}

// RFactor wraps a reduction loop with an explicit reduction-factor loop.
func (a *arena) RFactor(loopHandle string, factorAxis int) (string, error) {
	idx, err := a.resolve(loopHandle)
	if err != nil {
		return "", err
	}
	n := a.nodes[idx]
	if n.Kind != KindLoop || !n.Reduce {
		return "", ErrInapplicable
	}
	parent := a.parent[idx]
	wrapIdx := a.addNode(Node{Kind: KindLoop, Name: n.Name + ".rf", Extent: n.Extent, Reduce: true, Children: []int{idx}}, parent)
	a.parent[idx] = wrapIdx
	a.annotate(wrapIdx, "rfactor_axis", fmt.Sprintf("%d", factorAxis))
	a.replaceInParent(idx, parent, wrapIdx)
	return a.HandleOf(wrapIdx), nil
}

// Parallel annotates a loop as thread-parallel.
func (a *arena) Parallel(loopHandle string) error {
	idx, err := a.resolve(loopHandle)
	if err != nil {
		return err
	}
	if a.nodes[idx].Kind != KindLoop {
		return ErrInapplicable
	}
	a.annotate(idx, "parallel", "true")
	return nil
}

// StorageAlign annotates a block's storage alignment factor.
func (a *arena) StorageAlign(blockHandle string, factor int) error {
	idx, err := a.resolve(blockHandle)
	if err != nil {
		return err
	}
	if a.nodes[idx].Kind != KindBlock || factor <= 0 {
		return ErrInapplicable
	}
	a.annotate(idx, "storage_align", fmt.Sprintf("%d", factor))
	return nil
}

// Pragma attaches an arbitrary key/value annotation to a loop.
func (a *arena) Pragma(loopHandle, key, value string) error {
	idx, err := a.resolve(loopHandle)
	if err != nil {
		return err
	}
	a.annotate(idx, "pragma:"+key, value)
	return nil
}

func (a *arena) annotate(idx int, key, value string) {
	if a.nodes[idx].Annotations == nil {
		a.nodes[idx].Annotations = map[string]string{}
	}
	a.nodes[idx].Annotations[key] = value
}

// replaceInParent rewires a parent's Children (or the Roots slice when
// parent == -1) to point at newIdx instead of oldIdx.
func (a *arena) replaceInParent(oldIdx, parent, newIdx int) {
	if parent == -1 {
		for i, r := range a.roots {
			if r == oldIdx {
				a.roots[i] = newIdx
			}
		}
		return
	}
	siblings := a.nodes[parent].Children
	for i, c := range siblings {
		if c == oldIdx {
			siblings[i] = newIdx
		}
	}
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func removeValue(s []int, v int) []int {
	out := make([]int, 0, len(s))
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
