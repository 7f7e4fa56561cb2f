// Package source contains the leaf nodes of a pipeline graph for common data
// source scenarios, including:
//
// - Range: for a half-open range of integers
// - Slice: for a fixed list of values
// - Channel: for using an existing channel as a source
// - Error: for simulating a failing source
// - Nil: for an empty source
//
// Each constructor returns a pipe.Node with no inputs. Range, Slice, Error
// and Nil are replicable: every worker builds its own copy and replays the
// same values after every reset, so they are usually followed by a
// processor.ShardingFilter. Channel is marked non-replicable because the
// channel can only be read once.
//
// Basic usage of the Range source:
//
//	g := pipe.From(source.Range(0, 3)).Graph()
//	s, _ := g.Build(pipe.BuildContext{})
//	values, _ := pipe.Drain(context.Background(), s)
//	fmt.Println(values)
//
// Output:
//
//	[0 1 2]
package source
