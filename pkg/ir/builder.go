package ir

// Builder assembles a seed arena top-down, the way a lowering front-end
// would hand the search core an already-topologically-ordered compute.
type Builder struct {
	arena Arena
}

// NewBuilder starts a fresh seed IR build.
func NewBuilder() *Builder {
	return &Builder{arena: NewArena()}
}

// Loop adds a root-level loop and returns its handle for nesting further
// loops/blocks under it with Builder.ChildLoop and Builder.ChildBlock.
func (b *Builder) Loop(name string, extent int, reduce bool) string {
	return b.arena.AddRoot(Node{Kind: KindLoop, Name: name, Extent: extent, Reduce: reduce})
}

// Block adds a root-level leaf compute block.
func (b *Builder) Block(name string) string {
	return b.arena.AddRoot(Node{Kind: KindBlock, Name: name})
}

// ChildLoop nests a loop under an existing node.
func (b *Builder) ChildLoop(parent, name string, extent int, reduce bool) string {
	h, err := b.arena.AddChild(parent, Node{Kind: KindLoop, Name: name, Extent: extent, Reduce: reduce})
	if err != nil {
		panic(err)
	}
	return h
}

// ChildBlock nests a leaf compute block under an existing node.
func (b *Builder) ChildBlock(parent, name string) string {
	h, err := b.arena.AddChild(parent, Node{Kind: KindBlock, Name: name})
	if err != nil {
		panic(err)
	}
	return h
}

// Build returns the assembled arena.
func (b *Builder) Build() Arena {
	return b.arena
}
