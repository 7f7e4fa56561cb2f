// Package reading turns a pipeline graph into something a consumer can read
// epoch by epoch, optionally spread over worker processes.
//
// A Service is driven in a fixed order:
//
//	end, err := svc.Initialize(ctx, g)
//	for each epoch {
//		svc.InitializeIteration(ctx)
//		read end until pipe.ErrExhausted
//		svc.FinalizeIteration(ctx)
//	}
//	svc.Finalize(ctx)
//
// MultiProcessing is the only implementation. Its lifecycle is
//
//	created -> initialized -> iterating <-> paused
//	                 ^            |
//	                 +------------+
//
// and any state can move to finalized. Calling an operation in the wrong
// state returns a *StateError.
package reading
