// Package goloader contains a data loader. The main type is Loader, which
// can be created using New. It reads values from a pipeline graph built with
// the pipe package out of stages from the source and processor packages, or
// your own custom ones.
//
// A Loader hands the graph to a reading service, which decides where the
// stages run. The reading.MultiProcessing service can run the graph:
//
//   - in-process, when NumWorkers is 0;
//   - in NumWorkers worker processes, each running its own copy of the graph
//     and handing values to the loader over a request/response queue pair;
//   - with the non-replicable part of the graph in a single dispatch process
//     that feeds the workers round-robin, when there is more than one worker
//     and the graph contains a non-replicable node.
//
// Values are read epoch by epoch. Every epoch starts with a reset that
// carries a seed shared by every worker, so randomized stages such as
// processor.Shuffle agree with each other and processor.ShardingFilter can
// split the values between workers without losing or repeating any:
//
//	g := pipe.From(source.Range(0, 100)).
//		Then(processor.Shuffle(0)).
//		Then(processor.ShardingFilter()).
//		Graph()
//
//	svc := reading.NewMultiProcessing(reading.Options{NumWorkers: 4})
//	l := goloader.New(g, svc)
//	defer l.Shutdown(ctx)
//
//	for v, err := range l.All(ctx) {
//		...
//	}
//
// Reading can be paused and resumed in the middle of an epoch when there is
// at least one worker. Pausing stops every background prefetch, so that no
// stage is running while paused.
package goloader
