// Package dispatch runs the non-replicable part of a pipeline once, in a
// process of its own, and fans its output out to the workers.
//
// The dispatch process serves one protocol endpoint per worker. All
// endpoints share a Demux over the non-replicable stages and are multiplexed
// on a single goroutine by a cooperative eventloop.Scheduler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MasterOfBinary/goloader/eventloop"
	"github.com/MasterOfBinary/goloader/pipe"
	"github.com/MasterOfBinary/goloader/protocol"
	"github.com/MasterOfBinary/goloader/worker"
)

// Config configures a dispatch process.
type Config struct {
	// NumWorkers is the number of endpoints to serve.
	NumWorkers int

	QueueCapacity int

	// BufferSize is the number of items parked per endpoint.
	BufferSize int

	Dist    pipe.DistInfo
	Spawner worker.Spawner
	Logger  *zap.Logger
}

// Entry is a running dispatch process as seen from the parent.
type Entry struct {
	Process worker.Handle
	Pairs   []protocol.Pair

	logger    *zap.Logger
	cancel    context.CancelFunc
	finalized bool
}

// Start builds g once, wraps it in a Demux and spawns a process that serves
// cfg.NumWorkers endpoints until every endpoint is terminated.
func Start(ctx context.Context, g *pipe.Graph, cfg Config) (*Entry, error) {
	if cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("dispatch: need at least one endpoint, got %d", cfg.NumWorkers)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("process", "dispatch"))
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = worker.GoroutineSpawner{Logger: logger}
	}

	stage, err := g.Build(pipe.BuildContext{
		Worker: pipe.WorkerInfo{NumWorkers: 1},
		Dist:   cfg.Dist,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	demux := NewDemux(stage, cfg.NumWorkers, cfg.BufferSize).WithLogger(logger)
	sched := eventloop.New().WithLogger(logger)

	pairs := make([]protocol.Pair, cfg.NumWorkers)
	for i := range pairs {
		name := fmt.Sprintf("dispatch_%d", i)
		pairs[i] = protocol.NewPair(name, cfg.QueueCapacity)
		srv := protocol.NewServer(name, demux.Endpoint(i), pairs[i]).WithLogger(logger)
		sched.Register(name, srv)
	}

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle, err := spawner.Spawn(pctx, "dispatch", sched.Run)
	if err != nil {
		cancel()
		for _, p := range pairs {
			p.Close()
		}
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	logger.Info("dispatch process started", zap.Int("endpoints", cfg.NumWorkers))
	return &Entry{
		Process: handle,
		Pairs:   pairs,
		logger:  logger,
		cancel:  cancel,
	}, nil
}

// Placeholder returns a graph node that stands in for the non-replicable
// segment inside the workers. Built for worker i it yields a blocking client
// on endpoint i.
func (e *Entry) Placeholder() pipe.Node {
	return pipe.Node{
		Name: "dispatch",
		Build: func(bc pipe.BuildContext, _ []pipe.Stage) (pipe.Stage, error) {
			id := bc.Worker.ID
			if id < 0 || id >= len(e.Pairs) {
				return nil, fmt.Errorf("dispatch: no endpoint for worker %d of %d", id, len(e.Pairs))
			}
			return protocol.NewClient(fmt.Sprintf("dispatch_%d", id), e.Pairs[id]).WithLogger(bc.Logger), nil
		},
	}
}

// Finalize terminates every endpoint and waits for the process to exit. The
// whole handshake is bounded by timeout; failures are logged. Finalize is
// idempotent.
func (e *Entry) Finalize(ctx context.Context, timeout time.Duration) {
	if e.finalized {
		return
	}
	e.finalized = true
	if timeout <= 0 {
		timeout = worker.DefaultJoinTimeout
	}
	deadline := time.Now().Add(timeout)

	tctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var g errgroup.Group
	for i, p := range e.Pairs {
		c := protocol.NewClient(fmt.Sprintf("dispatch_%d", i), p).WithLogger(e.logger)
		g.Go(func() error {
			if err := c.Terminate(tctx); err != nil {
				e.logger.Warn("failed to terminate dispatch endpoint", zap.String("endpoint", c.Name()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	err := e.Process.Join(remaining)
	switch {
	case errors.Is(err, worker.ErrJoinTimeout):
		e.logger.Warn("dispatch process did not exit in time, abandoning it", zap.Duration("timeout", timeout))
	case err != nil && !errors.Is(err, context.Canceled):
		e.logger.Warn("dispatch process exited with error", zap.Error(err))
	}

	e.cancel()
	for _, p := range e.Pairs {
		p.Close()
	}
	e.logger.Info("dispatch process finalized")
}
