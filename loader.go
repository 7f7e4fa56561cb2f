package goloader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/internal/config"
	"github.com/MasterOfBinary/goloader/internal/logging"
	"github.com/MasterOfBinary/goloader/pipe"
	"github.com/MasterOfBinary/goloader/reading"
)

var (
	// ErrShutdown is returned by every method of a Loader after Shutdown.
	ErrShutdown = errors.New("goloader: loader is shut down")

	// ErrNotPausable is returned by Pause and Resume if the reading service
	// does not implement reading.Pausable.
	ErrNotPausable = errors.New("goloader: reading service cannot pause")

	// ErrNotLimitable is returned by Limit if the reading service does not
	// implement reading.Limiter.
	ErrNotLimitable = errors.New("goloader: reading service cannot limit")
)

// Loader reads a pipeline graph epoch by epoch through a reading service.
// The service is initialized on first use.
//
// A Loader is not safe for concurrent use.
type Loader struct {
	graph  *pipe.Graph
	svc    reading.Service
	logger *zap.Logger
	stats  StatsCollector

	end         pipe.Stage
	active      bool
	paused      bool
	shutdown    bool
	epoch       int
	epochStart  time.Time
	initialized bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logging.OrNop(logger)
	}
}

// WithStats sets the stats collector.
func WithStats(stats StatsCollector) Option {
	return func(l *Loader) {
		if stats == nil {
			stats = &NoOpStatsCollector{}
		}
		l.stats = stats
	}
}

// New creates a Loader reading g through svc. If svc is nil, g is read
// in-process.
func New(g *pipe.Graph, svc reading.Service, opts ...Option) *Loader {
	if svc == nil {
		svc = reading.NewMultiProcessing(reading.DefaultOptions())
	}
	l := &Loader{
		graph:  g,
		svc:    svc,
		logger: zap.NewNop(),
		stats:  NewBasicStatsCollector(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewFromEnv creates a Loader whose reading service and logger are
// configured from GOLOADER_* environment variables.
func NewFromEnv(g *pipe.Graph) (*Loader, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
	})
	if err != nil {
		return nil, fmt.Errorf("goloader: build logger: %w", err)
	}

	svc := reading.NewMultiProcessing(reading.FromConfig(cfg)).WithLogger(logger)
	return New(g, svc, WithLogger(logger)), nil
}

func (l *Loader) initialize(ctx context.Context) error {
	if l.initialized {
		return nil
	}
	end, err := l.svc.Initialize(ctx, l.graph)
	if err != nil {
		return err
	}
	l.end = end
	l.initialized = true
	return nil
}

// StartEpoch starts a new epoch, abandoning the current one if any.
func (l *Loader) StartEpoch(ctx context.Context) error {
	if l.shutdown {
		return ErrShutdown
	}
	if err := l.initialize(ctx); err != nil {
		return err
	}
	if err := l.svc.InitializeIteration(ctx); err != nil {
		return err
	}
	l.epoch++
	l.active = true
	l.epochStart = time.Now()
	l.stats.RecordEpochStart(l.epoch)
	l.logger.Debug("epoch started", zap.Int("epoch", l.epoch))
	return nil
}

// Next returns the next value. If no epoch is running, one is started
// first. At the end of an epoch Next returns pipe.ErrExhausted, and the
// following call starts a new epoch. While paused Next returns
// pipe.ErrPaused.
func (l *Loader) Next(ctx context.Context) (any, error) {
	switch {
	case l.shutdown:
		return nil, ErrShutdown
	case l.paused:
		return nil, pipe.ErrPaused
	case !l.active:
		if err := l.StartEpoch(ctx); err != nil {
			return nil, err
		}
	}

	v, err := l.end.Next(ctx)
	switch {
	case errors.Is(err, pipe.ErrExhausted):
		return nil, l.finishEpoch(ctx)
	case err != nil:
		l.stats.RecordError()
		return nil, err
	}
	l.stats.RecordItem()
	return v, nil
}

func (l *Loader) finishEpoch(ctx context.Context) error {
	l.active = false
	if err := l.svc.FinalizeIteration(ctx); err != nil {
		return err
	}
	elapsed := time.Since(l.epochStart)
	l.stats.RecordEpochComplete(l.epoch, elapsed)
	l.logger.Debug("epoch finished", zap.Int("epoch", l.epoch), zap.Duration("elapsed", elapsed))
	return pipe.ErrExhausted
}

// All starts a new epoch and returns an iterator over its values. The
// iterator stops after the first error, which it yields with a nil value.
func (l *Loader) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if err := l.StartEpoch(ctx); err != nil {
			yield(nil, err)
			return
		}
		for {
			v, err := l.Next(ctx)
			if errors.Is(err, pipe.ErrExhausted) {
				return
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Pause suspends background reading. The service must implement
// reading.Pausable.
func (l *Loader) Pause(ctx context.Context) error {
	if l.shutdown {
		return ErrShutdown
	}
	p, ok := l.svc.(reading.Pausable)
	if !ok {
		return ErrNotPausable
	}
	if err := p.Pause(ctx); err != nil {
		return err
	}
	l.paused = true
	l.stats.RecordPause()
	return nil
}

// Resume continues reading after Pause.
func (l *Loader) Resume(ctx context.Context) error {
	if l.shutdown {
		return ErrShutdown
	}
	p, ok := l.svc.(reading.Pausable)
	if !ok {
		return ErrNotPausable
	}
	if err := p.Resume(ctx); err != nil {
		return err
	}
	l.paused = false
	return nil
}

// Limit caps the number of values read per epoch. The service must
// implement reading.Limiter. It initializes the service if needed, so it
// can be called before the first epoch.
func (l *Loader) Limit(ctx context.Context, n int) error {
	if l.shutdown {
		return ErrShutdown
	}
	lim, ok := l.svc.(reading.Limiter)
	if !ok {
		return ErrNotLimitable
	}
	if err := l.initialize(ctx); err != nil {
		return err
	}
	return lim.Limit(ctx, n)
}

// Epoch returns the number of epochs started.
func (l *Loader) Epoch() int { return l.epoch }

// Stats returns a snapshot of the loader statistics.
func (l *Loader) Stats() Stats { return l.stats.GetStats() }

// Shutdown finalizes the reading service. It is idempotent.
func (l *Loader) Shutdown(ctx context.Context) error {
	if l.shutdown {
		return nil
	}
	l.shutdown = true
	l.active = false
	if err := l.svc.Finalize(ctx); err != nil {
		return fmt.Errorf("goloader: shutdown: %w", err)
	}
	l.logger.Info("loader shut down", zap.Int("epochs", l.epoch))
	return nil
}
