package reading

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/dispatch"
	"github.com/MasterOfBinary/goloader/internal/metrics"
	"github.com/MasterOfBinary/goloader/pipe"
	"github.com/MasterOfBinary/goloader/prefetch"
	"github.com/MasterOfBinary/goloader/processor"
	"github.com/MasterOfBinary/goloader/worker"
)

// MultiProcessing reads a pipeline graph through a pool of worker processes.
//
// Initialize rewrites the graph as follows:
//
//   - with zero workers the graph is built in-process unchanged;
//   - otherwise a prefetch buffer of depth WorkerPrefetch is appended;
//   - with more than one worker, the smallest segment containing every
//     non-replicable node is moved into a dispatch process and replaced by
//     a placeholder that reads from it;
//   - the rewritten graph is built once per worker, and the worker outputs
//     are merged round-robin, optionally behind a prefetch buffer of depth
//     MainPrefetch.
//
// Every rank builds its graph with the world size and rank reported by the
// Coordinator, so processor.ShardingFilter splits values across ranks and
// workers alike.
//
// MultiProcessing is not safe for concurrent use.
type MultiProcessing struct {
	opts    Options
	coord   Coordinator
	seed    SeedFunc
	spawner worker.Spawner
	logger  *zap.Logger

	state State
	epoch int
	limit int

	end      pipe.Stage
	main     *prefetch.Buffer
	manager  *worker.Manager
	dispatch *dispatch.Entry
}

var (
	_ Service  = (*MultiProcessing)(nil)
	_ Pausable = (*MultiProcessing)(nil)
	_ Limiter  = (*MultiProcessing)(nil)
)

// NewMultiProcessing creates a service. Nothing is started until Initialize.
func NewMultiProcessing(opts Options) *MultiProcessing {
	return &MultiProcessing{
		opts:   opts.normalized(),
		coord:  LocalCoordinator{},
		seed:   RandomSeed,
		logger: zap.NewNop(),
		limit:  -1,
	}
}

func (m *MultiProcessing) mustBeCreated(method string) {
	if m.state != StateCreated {
		panic(fmt.Sprintf("reading: %s cannot be called after Initialize", method))
	}
}

// WithLogger sets the logger. It panics if called after Initialize.
func (m *MultiProcessing) WithLogger(logger *zap.Logger) *MultiProcessing {
	m.mustBeCreated("WithLogger")
	if logger == nil {
		logger = zap.NewNop()
	}
	m.logger = logger
	return m
}

// WithCoordinator sets the coordinator. It panics if called after
// Initialize.
func (m *MultiProcessing) WithCoordinator(c Coordinator) *MultiProcessing {
	m.mustBeCreated("WithCoordinator")
	if c == nil {
		c = LocalCoordinator{}
	}
	m.coord = c
	return m
}

// WithSeedFunc sets the seed generator. It panics if called after
// Initialize.
func (m *MultiProcessing) WithSeedFunc(f SeedFunc) *MultiProcessing {
	m.mustBeCreated("WithSeedFunc")
	if f == nil {
		f = RandomSeed
	}
	m.seed = f
	return m
}

// WithSpawner sets the spawner for worker and dispatch processes. It panics
// if called after Initialize.
func (m *MultiProcessing) WithSpawner(s worker.Spawner) *MultiProcessing {
	m.mustBeCreated("WithSpawner")
	m.spawner = s
	return m
}

// NumWorkers returns the configured number of workers.
func (m *MultiProcessing) NumWorkers() int { return m.opts.NumWorkers }

// State returns the lifecycle state.
func (m *MultiProcessing) State() State { return m.state }

// Epoch returns the number of epochs started so far.
func (m *MultiProcessing) Epoch() int { return m.epoch }

// Dispatching reports whether a dispatch process was started.
func (m *MultiProcessing) Dispatching() bool { return m.dispatch != nil }

// Initialize rewrites g, starts the processes and returns the end stage.
func (m *MultiProcessing) Initialize(ctx context.Context, g *pipe.Graph) (pipe.Stage, error) {
	if m.state != StateCreated {
		return nil, &StateError{Op: "initialize", State: m.state}
	}

	dist := pipe.DistInfo{WorldSize: m.coord.WorldSize(), Rank: m.coord.Rank()}
	logger := m.logger.With(zap.Int("rank", dist.Rank))

	if m.opts.NumWorkers == 0 {
		end, err := m.initializeInProcess(g, dist, logger)
		if err != nil {
			return nil, err
		}
		m.end = end
		m.state = StateInitialized
		return end, nil
	}

	wg := g
	if m.opts.WorkerPrefetch > 0 {
		wg = wg.Append(prefetch.NamedNode("worker prefetch", m.opts.WorkerPrefetch))
	}

	if m.opts.NumWorkers > 1 {
		if id, ok := wg.FindNonReplicable(); ok {
			entry, err := dispatch.Start(ctx, wg.Subgraph(id), dispatch.Config{
				NumWorkers:    m.opts.NumWorkers,
				QueueCapacity: m.opts.QueueCapacity,
				BufferSize:    m.opts.DispatchBuffer,
				Dist:          dist,
				Spawner:       m.spawner,
				Logger:        logger,
			})
			if err != nil {
				return nil, fmt.Errorf("reading: %w", err)
			}
			m.dispatch = entry
			logger.Debug("non-replicable segment moved to dispatch process",
				zap.String("node", wg.Node(id).Name))
			wg = wg.Replace(id, entry.Placeholder())
		}
	}

	m.manager = worker.NewManager(worker.Config{
		NumWorkers:    m.opts.NumWorkers,
		QueueCapacity: m.opts.QueueCapacity,
		JoinTimeout:   m.opts.JoinTimeout,
		Dist:          dist,
		Init:          m.opts.Init,
		Reset:         m.opts.Reset,
	}).WithLogger(logger)
	if m.spawner != nil {
		m.manager.WithSpawner(m.spawner)
	}

	if _, err := m.manager.Start(ctx, wg); err != nil {
		if m.dispatch != nil {
			m.dispatch.Finalize(ctx, m.opts.JoinTimeout)
			m.dispatch = nil
		}
		return nil, fmt.Errorf("reading: %w", err)
	}

	clients := m.manager.Clients()
	inputs := make([]pipe.Stage, len(clients))
	for i, c := range clients {
		inputs[i] = c
	}
	m.end = &workerSet{RoundRobin: processor.NewRoundRobin(inputs...), m: m}

	if m.opts.MainPrefetch > 0 {
		m.main = prefetch.New(m.end, m.opts.MainPrefetch).
			WithName("main prefetch").
			WithLogger(logger)
		m.end = m.main
	}

	m.state = StateInitialized
	logger.Info("reading service initialized",
		zap.Int("workers", m.opts.NumWorkers),
		zap.Bool("dispatch", m.dispatch != nil),
		zap.Int("world_size", dist.WorldSize))
	return m.end, nil
}

func (m *MultiProcessing) initializeInProcess(g *pipe.Graph, dist pipe.DistInfo, logger *zap.Logger) (pipe.Stage, error) {
	info := pipe.WorkerInfo{NumWorkers: 1}
	end, err := g.Build(pipe.BuildContext{Worker: info, Dist: dist, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}
	if m.opts.Init != nil {
		if end, err = m.opts.Init(info, end); err != nil {
			return nil, fmt.Errorf("reading: init: %w", err)
		}
	}
	logger.Info("reading service initialized in-process")
	return end, nil
}

// InitializeIteration agrees on a seed with every rank and resets the whole
// pipeline with it. Prefetching is stopped before anything upstream is
// reset, so no value of the previous epoch leaks into the new one. A limit
// set with Limit is applied again before the prefetch buffers restart.
func (m *MultiProcessing) InitializeIteration(ctx context.Context) error {
	switch m.state {
	case StateInitialized, StateIterating:
	default:
		return &StateError{Op: "start an epoch", State: m.state}
	}

	seed, err := m.coord.BroadcastSeed(ctx, m.seed())
	if err != nil {
		return fmt.Errorf("reading: broadcast seed: %w", err)
	}
	m.epoch++
	state := pipe.ResetState{Seed: seed, Epoch: m.epoch}

	if m.opts.NumWorkers == 0 && m.opts.Reset != nil {
		if err := m.opts.Reset(ctx, pipe.WorkerInfo{NumWorkers: 1}, m.end, state); err != nil {
			return fmt.Errorf("reading: reset epoch %d: %w", m.epoch, err)
		}
	}
	if err := m.end.Reset(ctx, state); err != nil {
		return fmt.Errorf("reading: reset epoch %d: %w", m.epoch, err)
	}

	m.state = StateIterating
	metrics.ReadingEpochs.WithLabelValues(strconv.Itoa(m.opts.NumWorkers)).Inc()
	m.logger.Debug("epoch started", zap.Int("epoch", m.epoch), zap.Uint64("seed", seed))
	return nil
}

// FinalizeIteration marks the current epoch as finished.
func (m *MultiProcessing) FinalizeIteration(ctx context.Context) error {
	if m.state != StateIterating {
		return &StateError{Op: "finish an epoch", State: m.state}
	}
	m.state = StateInitialized
	m.logger.Debug("epoch finished", zap.Int("epoch", m.epoch))
	return nil
}

// Pause stops the main prefetch buffer and then pauses every worker. It
// returns ErrNoWorkers when reading in-process.
func (m *MultiProcessing) Pause(ctx context.Context) error {
	if m.opts.NumWorkers == 0 {
		return ErrNoWorkers
	}
	if m.state != StateIterating {
		return &StateError{Op: "pause", State: m.state}
	}
	if err := pipe.Pause(ctx, m.end); err != nil {
		return fmt.Errorf("reading: pause: %w", err)
	}
	m.state = StatePaused
	return nil
}

// Resume resumes every worker and then restarts the main prefetch buffer.
// It returns ErrNoWorkers when reading in-process.
func (m *MultiProcessing) Resume(ctx context.Context) error {
	if m.opts.NumWorkers == 0 {
		return ErrNoWorkers
	}
	if m.state != StatePaused {
		return &StateError{Op: "resume", State: m.state}
	}
	if err := pipe.Resume(ctx, m.end); err != nil {
		return fmt.Errorf("reading: resume: %w", err)
	}
	m.state = StateIterating
	return nil
}

// Limit caps the number of values the workers hand out at n, for the rest
// of the current epoch and for every following one. The cap is spread over
// the workers in worker order. Values already in the main prefetch buffer
// are not counted. A negative n removes the cap. It returns ErrNoWorkers
// when reading in-process.
func (m *MultiProcessing) Limit(ctx context.Context, n int) error {
	if m.opts.NumWorkers == 0 {
		return ErrNoWorkers
	}
	switch m.state {
	case StateCreated, StateFinalized:
		return &StateError{Op: "limit", State: m.state}
	}

	m.limit = max(n, -1)
	if m.state == StateInitialized {
		return nil
	}

	// The prefetch loop must not use the clients while they are limited.
	if m.state == StateIterating && m.main != nil {
		if err := m.main.Pause(ctx); err != nil {
			return err
		}
		defer func() {
			if err := m.main.Resume(ctx); err != nil {
				m.logger.Warn("failed to resume main prefetch", zap.Error(err))
			}
		}()
	}
	return m.sendLimit(ctx)
}

// workerSet merges the worker outputs. Its Reset sends the current limit
// right after the workers are reset, before the main prefetch buffer starts
// pulling again.
type workerSet struct {
	*processor.RoundRobin
	m *MultiProcessing
}

func (w *workerSet) Reset(ctx context.Context, state pipe.ResetState) error {
	if err := w.RoundRobin.Reset(ctx, state); err != nil {
		return err
	}
	if w.m.limit < 0 {
		return nil
	}
	return w.m.sendLimit(ctx)
}

// Share returns the part of a limit of n assigned to worker id out of
// workers.
func Share(n, workers, id int) int {
	if n < 0 {
		return -1
	}
	s := n / workers
	if id < n%workers {
		s++
	}
	return s
}

func (m *MultiProcessing) sendLimit(ctx context.Context) error {
	for i, c := range m.manager.Clients() {
		if err := c.Limit(ctx, Share(m.limit, m.opts.NumWorkers, i)); err != nil {
			return fmt.Errorf("reading: limit worker %d: %w", i, err)
		}
	}
	return nil
}

// Finalize closes the prefetch buffers and shuts down the workers, the
// dispatch process and the coordinator, in that order. Shutdown problems of
// single processes are logged, not returned. Finalize is idempotent.
func (m *MultiProcessing) Finalize(ctx context.Context) error {
	if m.state == StateFinalized {
		return nil
	}
	m.state = StateFinalized

	var errs []error
	if m.end != nil {
		if err := pipe.Close(m.end); err != nil {
			errs = append(errs, err)
		}
	}
	if m.manager != nil {
		m.manager.Finalize(ctx)
	}
	if m.dispatch != nil {
		m.dispatch.Finalize(ctx, m.opts.JoinTimeout)
	}
	if err := m.coord.Close(); err != nil {
		errs = append(errs, fmt.Errorf("reading: close coordinator: %w", err))
	}

	m.logger.Info("reading service finalized", zap.Int("epochs", m.epoch))
	return errors.Join(errs...)
}
