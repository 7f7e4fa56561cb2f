package pipe

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// NodeID addresses a node inside a Graph. Ids are stable across rewrites.
type NodeID int

// NoNode is returned when a lookup finds nothing.
const NoNode NodeID = -1

// BuildContext is passed to every BuildFunc.
type BuildContext struct {
	Worker WorkerInfo
	Dist   DistInfo

	// Logger is never nil when passed to a BuildFunc.
	Logger *zap.Logger
}

// BuildFunc instantiates the stage for a node. inputs holds the already
// built stages for Node.Inputs, in the same order.
type BuildFunc func(bc BuildContext, inputs []Stage) (Stage, error)

// Node describes one stage of a pipeline.
type Node struct {
	Name   string
	Inputs []NodeID

	// NonReplicable marks a stage that must run exactly once and have its
	// output shared between workers instead of being built per worker.
	NonReplicable bool

	Build BuildFunc
}

// Graph is an arena of nodes with a single output node.
type Graph struct {
	nodes  []Node
	output NodeID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{output: NoNode}
}

// Add appends n to the arena and makes it the output node.
func (g *Graph) Add(n Node) NodeID {
	n.Inputs = append([]NodeID(nil), n.Inputs...)
	g.nodes = append(g.nodes, n)
	g.output = NodeID(len(g.nodes) - 1)
	return g.output
}

// SetOutput changes the output node.
func (g *Graph) SetOutput(id NodeID) {
	g.output = id
}

// Output returns the output node id, or NoNode for an empty graph.
func (g *Graph) Output() NodeID {
	return g.output
}

// Len returns the number of nodes in the arena, reachable or not.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) Node {
	return g.nodes[id]
}

func (g *Graph) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

// Clone returns a deep copy of the arena.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:  make([]Node, len(g.nodes)),
		output: g.output,
	}
	for i, n := range g.nodes {
		n.Inputs = append([]NodeID(nil), n.Inputs...)
		c.nodes[i] = n
	}
	return c
}

// Append returns a copy of g with n added on top of the current output.
// n.Inputs is replaced by the current output.
func (g *Graph) Append(n Node) *Graph {
	c := g.Clone()
	n.Inputs = nil
	if c.valid(c.output) {
		n.Inputs = []NodeID{c.output}
	}
	c.Add(n)
	return c
}

// Replace returns a copy of g in which the node id has been swapped for n.
// Nodes that were only reachable through the old node stay in the arena
// but are no longer built.
func (g *Graph) Replace(id NodeID, n Node) *Graph {
	c := g.Clone()
	n.Inputs = append([]NodeID(nil), n.Inputs...)
	c.nodes[id] = n
	return c
}

// Subgraph returns a copy of g whose output is id.
func (g *Graph) Subgraph(id NodeID) *Graph {
	c := g.Clone()
	c.output = id
	return c
}

// Upstream returns id and every node it reads from, directly or not.
func (g *Graph) Upstream(id NodeID) map[NodeID]bool {
	seen := make(map[NodeID]bool)
	if !g.valid(id) {
		return seen
	}
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, in := range g.nodes[cur].Inputs {
			if g.valid(in) {
				stack = append(stack, in)
			}
		}
	}
	return seen
}

// FindNonReplicable returns the lowest common ancestor of all non-replicable
// nodes reachable from the output: the node with the smallest upstream
// closure that still contains every one of them. ok is false when the
// graph has no reachable non-replicable node.
func (g *Graph) FindNonReplicable() (id NodeID, ok bool) {
	reachable := g.Upstream(g.output)

	var marked []NodeID
	for cur := range reachable {
		if g.nodes[cur].NonReplicable {
			marked = append(marked, cur)
		}
	}
	if len(marked) == 0 {
		return NoNode, false
	}

	best, bestSize := NoNode, 0
	for cur := range reachable {
		up := g.Upstream(cur)
		covers := true
		for _, m := range marked {
			if !up[m] {
				covers = false
				break
			}
		}
		if !covers {
			continue
		}
		// Ties are broken by id so the result does not depend on map order.
		if best == NoNode || len(up) < bestSize || (len(up) == bestSize && cur < best) {
			best, bestSize = cur, len(up)
		}
	}
	return best, best != NoNode
}

// ErrCycle is returned by Build when the graph is not acyclic.
var ErrCycle = errors.New("pipe: graph has a cycle")

// Build instantiates every node reachable from the output and returns the
// output stage. Nodes shared by several consumers are built once.
func (g *Graph) Build(bc BuildContext) (Stage, error) {
	if !g.valid(g.output) {
		return nil, errors.New("pipe: graph has no output")
	}
	if bc.Logger == nil {
		bc.Logger = zap.NewNop()
	}

	b := &builder{
		g:        g,
		bc:       bc,
		built:    make(map[NodeID]Stage),
		visiting: make(map[NodeID]bool),
	}
	return b.build(g.output)
}

type builder struct {
	g        *Graph
	bc       BuildContext
	built    map[NodeID]Stage
	visiting map[NodeID]bool
}

func (b *builder) build(id NodeID) (Stage, error) {
	if s, ok := b.built[id]; ok {
		return s, nil
	}
	if b.visiting[id] {
		return nil, ErrCycle
	}
	b.visiting[id] = true
	defer delete(b.visiting, id)

	n := b.g.nodes[id]
	inputs := make([]Stage, 0, len(n.Inputs))
	for _, in := range n.Inputs {
		if !b.g.valid(in) {
			return nil, fmt.Errorf("pipe: node %q reads from unknown node %d", n.Name, in)
		}
		s, err := b.build(in)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, s)
	}

	if n.Build == nil {
		return nil, fmt.Errorf("pipe: node %q has no build function", n.Name)
	}
	s, err := n.Build(b.bc, inputs)
	if err != nil {
		return nil, fmt.Errorf("pipe: build %q: %w", n.Name, err)
	}
	b.built[id] = s
	return s, nil
}
