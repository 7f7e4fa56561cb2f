// Package pipe defines the pipeline stage contract used throughout goloader
// and the stage graph that the reading services rewrite.
//
// A Stage produces values one at a time through Next. Next returns
// ErrExhausted once the sequence is finished, ErrNotAvailable when a
// non-blocking stage cannot make progress right now, or any other error
// when production failed. Reset re-arms a stage for a new epoch and must
// propagate to the stage's inputs.
//
// Stages are not constructed directly by the services. Instead a Graph
// describes them as an arena of Nodes addressed by NodeID, and Build
// instantiates a fresh set of stages for a given BuildContext. This is what
// allows the same pipeline to be replicated once per worker:
//
//	g := pipe.From(source.Range(0, 10)).
//		Then(processor.Shuffle(0)).
//		Then(processor.ShardingFilter()).
//		Graph()
//
//	stage, err := g.Build(pipe.BuildContext{Worker: pipe.WorkerInfo{NumWorkers: 2, ID: 1}})
//
// Graph rewrites (Append, Replace, Subgraph) never mutate the receiver; they
// return a new arena with the same node ids.
//
// Optional capabilities are discovered through interfaces: Pauser for stages
// that run background work, Parent for stages that expose their inputs to
// the walkers, and Closer for stages that hold resources.
package pipe
