// Package processor contains pipeline stages for common transformation
// scenarios, including:
//
// - Map / Transform: for transforming values
// - Where / Filter: for dropping values based on custom predicates
// - Shuffle: for a seeded, buffered shuffle
// - Batch / Batcher: for grouping values into fixed-size batches
// - ShardingFilter: for splitting values between workers and ranks
// - Dispatch: for marking the part of a pipeline that must run only once
// - Merge / RoundRobin: for merging several stages
// - Error, Nil and Logging: for testing and debugging pipelines
//
// Every constructor returns a pipe.Node, so processors are put together with
// a pipe.Builder:
//
//	g := pipe.From(source.Range(0, 10)).
//		Then(processor.Map(func(v any) (any, error) {
//			return v.(int) * 2, nil
//		})).
//		Graph()
//
// Stages reset their inputs when they are reset and are never safe for
// concurrent use.
package processor
