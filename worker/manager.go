// Package worker spawns one process per worker, each serving its own copy of
// a pipeline graph over a protocol queue pair.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MasterOfBinary/goloader/internal/metrics"
	"github.com/MasterOfBinary/goloader/pipe"
	"github.com/MasterOfBinary/goloader/protocol"
)

// DefaultJoinTimeout bounds each worker's shutdown handshake.
const DefaultJoinTimeout = 20 * time.Second

// InitFunc runs once per worker after its stage graph is built and may wrap
// or replace the output stage.
type InitFunc func(info pipe.WorkerInfo, stage pipe.Stage) (pipe.Stage, error)

// ResetFunc runs in the worker on every reset, before the stage is reset.
type ResetFunc func(ctx context.Context, info pipe.WorkerInfo, stage pipe.Stage, state pipe.ResetState) error

// Config configures a Manager.
type Config struct {
	NumWorkers    int
	QueueCapacity int
	JoinTimeout   time.Duration
	Dist          pipe.DistInfo

	Init  InitFunc
	Reset ResetFunc
}

// Entry is a running worker as seen from the parent.
type Entry struct {
	Info    pipe.WorkerInfo
	Process Handle
	Pair    protocol.Pair
	Client  *protocol.Client
}

// Manager starts and stops worker processes.
type Manager struct {
	cfg     Config
	spawner Spawner
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	entries   []*Entry
	finalized bool
}

// NewManager creates a manager. It does not start anything.
func NewManager(cfg Config) *Manager {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = protocol.DefaultQueueCapacity
	}

	return &Manager{
		cfg:     cfg,
		spawner: GoroutineSpawner{},
		logger:  zap.NewNop(),
	}
}

// WithSpawner sets the spawner used by Start.
func (m *Manager) WithSpawner(s Spawner) *Manager {
	if m.entries != nil {
		panic("worker: WithSpawner cannot be called after Start")
	}
	m.spawner = s
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *zap.Logger) *Manager {
	if m.entries != nil {
		panic("worker: WithLogger cannot be called after Start")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m.logger = logger
	if gs, ok := m.spawner.(GoroutineSpawner); ok && gs.Logger == nil {
		m.spawner = GoroutineSpawner{Logger: logger}
	}
	return m
}

// Start builds g once per worker, applies the init function and spawns a
// protocol server for each copy. The returned entries are ordered by worker
// id. The workers outlive ctx; they run until Finalize.
//
// If any worker fails to start, the workers started so far are finalized and
// the error is returned.
func (m *Manager) Start(ctx context.Context, g *pipe.Graph) ([]*Entry, error) {
	if m.entries != nil {
		return nil, errors.New("worker: manager already started")
	}
	if m.cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("worker: need at least one worker, got %d", m.cfg.NumWorkers)
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.entries = make([]*Entry, 0, m.cfg.NumWorkers)

	for i := 0; i < m.cfg.NumWorkers; i++ {
		e, err := m.start(i, g)
		if err != nil {
			m.Finalize(ctx)
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		m.entries = append(m.entries, e)
	}

	m.logger.Info("workers started", zap.Int("workers", m.cfg.NumWorkers))
	return m.entries, nil
}

func (m *Manager) start(id int, g *pipe.Graph) (*Entry, error) {
	info := pipe.WorkerInfo{NumWorkers: m.cfg.NumWorkers, ID: id}
	name := fmt.Sprintf("worker_%d", id)
	logger := m.logger.With(zap.Int("worker", id))

	stage, err := g.Build(pipe.BuildContext{
		Worker: info,
		Dist:   m.cfg.Dist,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	if m.cfg.Init != nil {
		if stage, err = m.cfg.Init(info, stage); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}

	pair := protocol.NewPair(name, m.cfg.QueueCapacity)
	srv := protocol.NewServer(name, stage, pair).WithLogger(logger)
	if m.cfg.Reset != nil {
		reset := m.cfg.Reset
		srv.WithResetHook(func(ctx context.Context, state pipe.ResetState) error {
			return reset(ctx, info, stage, state)
		})
	}

	handle, err := m.spawner.Spawn(m.ctx, name, srv.Serve)
	if err != nil {
		pair.Close()
		return nil, err
	}

	return &Entry{
		Info:    info,
		Process: handle,
		Pair:    pair,
		Client:  protocol.NewClient(name, pair).WithLogger(logger),
	}, nil
}

// Entries returns the running workers.
func (m *Manager) Entries() []*Entry {
	return m.entries
}

// Clients returns the worker clients ordered by worker id.
func (m *Manager) Clients() []*protocol.Client {
	clients := make([]*protocol.Client, len(m.entries))
	for i, e := range m.entries {
		clients[i] = e.Client
	}
	return clients
}

// Finalize terminates every worker concurrently and waits for it to exit,
// each bounded by the join timeout. Failures are logged, not returned: a
// worker that does not exit in time is abandoned. Afterwards the workers'
// context is cancelled and their queues are closed so that abandoned workers
// can exit on their own. Finalize is idempotent.
func (m *Manager) Finalize(ctx context.Context) {
	if m.finalized || m.cancel == nil {
		return
	}
	m.finalized = true

	var g errgroup.Group
	for _, e := range m.entries {
		e := e
		g.Go(func() error {
			m.terminate(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	m.cancel()
	for _, e := range m.entries {
		e.Pair.Close()
	}
	m.logger.Info("workers finalized", zap.Int("workers", len(m.entries)))
}

func (m *Manager) terminate(ctx context.Context, e *Entry) {
	logger := m.logger.With(zap.Int("worker", e.Info.ID), zap.String("process_id", e.Process.ID()))
	deadline := time.Now().Add(m.cfg.JoinTimeout)

	tctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result := "ok"
	if err := e.Client.Terminate(tctx); err != nil {
		result = "error"
		logger.Warn("failed to terminate worker", zap.Error(err))
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	err := e.Process.Join(remaining)
	switch {
	case errors.Is(err, ErrJoinTimeout):
		result = "timeout"
		logger.Warn("worker did not exit in time, abandoning it", zap.Duration("timeout", m.cfg.JoinTimeout))
	case err != nil && !errors.Is(err, context.Canceled):
		result = "error"
		logger.Warn("worker exited with error", zap.Error(err))
	}
	metrics.WorkerTerminations.WithLabelValues(result).Inc()
}
