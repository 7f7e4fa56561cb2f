package pipe

// Builder creates linear graphs. Like the graph rewrites, its methods leave
// the receiver unchanged and return a new Builder.
type Builder struct {
	g *Graph
}

// From starts a new graph with n as its only node.
func From(n Node) *Builder {
	g := NewGraph()
	g.Add(n)
	return &Builder{g: g}
}

// Then returns a Builder whose output is n, reading from the current
// output.
func (b *Builder) Then(n Node) *Builder {
	return &Builder{g: b.g.Append(n)}
}

// NonReplicable returns a Builder where the current output node is marked
// as non-replicable.
func (b *Builder) NonReplicable() *Builder {
	g := b.g.Clone()
	out := g.Output()
	n := g.Node(out)
	n.NonReplicable = true
	return &Builder{g: g.Replace(out, n)}
}

// Graph returns a copy of the graph built so far.
func (b *Builder) Graph() *Graph {
	return b.g.Clone()
}
