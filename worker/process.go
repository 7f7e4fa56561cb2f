package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// ErrJoinTimeout is returned by Handle.Join when the process did not exit in
// time.
var ErrJoinTimeout = errors.New("worker: join timed out")

// Target is the body of a process. It should return when ctx is cancelled.
type Target func(ctx context.Context) error

// Handle controls a spawned process.
type Handle interface {
	// ID is unique across all processes.
	ID() string

	// Name is the name given to Spawn.
	Name() string

	// Join waits for the process to exit and returns its error. A timeout
	// of zero or less waits forever. On timeout it returns ErrJoinTimeout
	// and the process keeps running.
	Join(timeout time.Duration) error

	// Done is closed when the process exits.
	Done() <-chan struct{}
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, name string, target Target) (Handle, error)
}

// GoroutineSpawner runs every process on a goroutine of its own. A panic in
// the target is recovered and returned by Join as an error.
type GoroutineSpawner struct {
	Logger *zap.Logger
}

// Spawn starts target on a new goroutine.
func (s GoroutineSpawner) Spawn(ctx context.Context, name string, target Target) (Handle, error) {
	if target == nil {
		return nil, fmt.Errorf("worker: spawn %s: nil target", name)
	}

	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Process{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
	logger = logger.With(zap.String("process", name), zap.String("process_id", p.id))

	go func() {
		defer close(p.done)

		var pc panics.Catcher
		pc.Try(func() {
			p.err = target(ctx)
		})
		if r := pc.Recovered(); r != nil {
			p.err = r.AsError()
			logger.Error("process panicked", zap.Error(p.err))
			return
		}
		if p.err != nil && !errors.Is(p.err, context.Canceled) {
			logger.Warn("process exited with error", zap.Error(p.err))
			return
		}
		logger.Debug("process exited")
	}()

	return p, nil
}

// Process is the Handle returned by GoroutineSpawner.
type Process struct {
	id   string
	name string
	done chan struct{}
	err  error
}

// ID implements Handle.
func (p *Process) ID() string { return p.id }

// Name implements Handle.
func (p *Process) Name() string { return p.name }

// Done implements Handle.
func (p *Process) Done() <-chan struct{} { return p.done }

// Join implements Handle.
func (p *Process) Join(timeout time.Duration) error {
	if timeout <= 0 {
		<-p.done
		return p.err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return p.err
	case <-t.C:
		return ErrJoinTimeout
	}
}
