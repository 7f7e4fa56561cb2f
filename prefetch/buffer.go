// Package prefetch provides a stage that pulls ahead of its consumer on a
// background goroutine.
package prefetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/internal/metrics"
	"github.com/MasterOfBinary/goloader/pipe"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("prefetch: buffer closed")

// result is one buffered outcome of upstream.Next. Errors other than
// exhaustion are buffered in order with the values around them.
type result struct {
	v   any
	err error
}

// Buffer is a pausable, resettable prefetch stage. While running it pulls
// from its upstream until capacity items are buffered.
//
// Buffered items survive Pause and are served first after Resume. Reset
// discards them.
type Buffer struct {
	name     string
	upstream pipe.Stage
	capacity int
	logger   *zap.Logger
	gauge    prometheus.Gauge

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	cond  *sync.Cond
	items *circularbuffer.Queue

	// running asks the loop to keep pulling; active is true while the loop
	// goroutine exists. running implies active.
	running   bool
	active    bool
	started   bool
	paused    bool
	exhausted bool
	closed    bool
}

var (
	_ pipe.Stage  = (*Buffer)(nil)
	_ pipe.Pauser = (*Buffer)(nil)
	_ pipe.Parent = (*Buffer)(nil)
	_ pipe.Closer = (*Buffer)(nil)
)

// New creates a buffer holding up to capacity items pulled from upstream.
// A capacity below 1 is treated as 1. The background loop starts on the
// first call to Next or Reset, whichever comes first.
func New(upstream pipe.Stage, capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffer{
		name:     "prefetch",
		upstream: upstream,
		capacity: capacity,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		items:    circularbuffer.New(capacity),
	}
	b.cond = sync.NewCond(&b.mu)
	b.gauge = metrics.PrefetchBuffered.WithLabelValues(b.name)
	return b
}

// WithName sets the name used in logs and in the buffered items gauge.
func (b *Buffer) WithName(name string) *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.name = name
	b.gauge = metrics.PrefetchBuffered.WithLabelValues(name)
	return b
}

// WithLogger sets the logger.
func (b *Buffer) WithLogger(logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger = logger
	return b
}

// Capacity returns the maximum number of buffered items.
func (b *Buffer) Capacity() int { return b.capacity }

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.items.Size()
}

// Running reports whether the background loop is pulling.
func (b *Buffer) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.running
}

// Inputs implements pipe.Parent.
func (b *Buffer) Inputs() []pipe.Stage {
	return []pipe.Stage{b.upstream}
}

// Next returns the oldest buffered item, waiting for the loop if the buffer
// is empty. It returns pipe.ErrPaused while paused and pipe.ErrExhausted
// once upstream is exhausted and every buffered item has been served.
func (b *Buffer) Next(ctx context.Context) (any, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		switch {
		case b.closed:
			return nil, ErrClosed
		case b.paused:
			return nil, pipe.ErrPaused
		}

		if r, ok := b.items.Dequeue(); ok {
			b.gauge.Set(float64(b.items.Size()))
			b.cond.Broadcast()
			res := r.(result)
			return res.v, res.err
		}

		if b.exhausted {
			return nil, pipe.ErrExhausted
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !b.started {
			b.started = true
			b.start()
		}
		b.cond.Wait()
	}
}

// start launches the loop. Must hold b.mu.
func (b *Buffer) start() {
	if b.active {
		b.running = true
		return
	}
	b.running = true
	b.active = true
	go b.loop()
}

// stop asks the loop to stop and waits until it has exited. Any pull in
// flight lands in the buffer first. Must hold b.mu.
func (b *Buffer) stop() {
	b.running = false
	b.cond.Broadcast()
	for b.active {
		b.cond.Wait()
	}
}

func (b *Buffer) loop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Microsecond
	bo.MaxInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = 0

	defer func() {
		b.mu.Lock()
		b.running = false
		b.active = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}()

	for {
		b.mu.Lock()
		for b.running && b.items.Full() {
			b.cond.Wait()
		}
		if !b.running || b.ctx.Err() != nil {
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		v, err := b.upstream.Next(b.ctx)

		if errors.Is(err, pipe.ErrNotAvailable) {
			t := time.NewTimer(bo.NextBackOff())
			select {
			case <-b.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}
		bo.Reset()

		b.mu.Lock()
		switch {
		case errors.Is(err, pipe.ErrExhausted):
			b.exhausted = true
			b.running = false
			b.logger.Debug("upstream exhausted", zap.String("buffer", b.name))
		case b.ctx.Err() != nil:
			// Closed while pulling; the result is dropped with the buffer.
		default:
			b.items.Enqueue(result{v: v, err: err})
			b.gauge.Set(float64(b.items.Size()))
		}
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// Pause stops the background loop. It returns once any pull in flight has
// landed in the buffer, so that upstream stages can be paused safely after
// it. Buffered items are kept.
func (b *Buffer) Pause(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.paused = true
	b.stop()
	b.logger.Debug("paused", zap.String("buffer", b.name), zap.Int("buffered", b.items.Size()))
	return nil
}

// Resume restarts the background loop if it was running before Pause.
func (b *Buffer) Resume(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.paused = false
	if b.started && !b.exhausted {
		b.start()
	}
	b.cond.Broadcast()
	return nil
}

// Reset stops the loop, discards buffered items and resets upstream. Once
// upstream is reset the loop starts again right away, so the next epoch is
// prefetched before the first call to Next.
func (b *Buffer) Reset(ctx context.Context, state pipe.ResetState) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.stop()
	b.items.Clear()
	b.gauge.Set(0)
	b.started = false
	b.paused = false
	b.exhausted = false
	b.mu.Unlock()

	if err := b.upstream.Reset(ctx, state); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed && !b.paused && !b.started {
		b.started = true
		b.start()
	}
	return nil
}

// Close stops the loop for good. It does not close upstream.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	b.stop()
	b.items.Clear()
	b.gauge.Set(0)
	return nil
}

// Node returns a graph node that puts a Buffer of the given capacity on top
// of its single input.
func Node(capacity int) pipe.Node {
	return NamedNode("prefetch", capacity)
}

// NamedNode is like Node, naming the buffer.
func NamedNode(name string, capacity int) pipe.Node {
	return pipe.Node{
		Name: name,
		Build: func(bc pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			if len(inputs) != 1 {
				return nil, errors.New("prefetch: expected exactly one input")
			}
			return New(inputs[0], capacity).WithName(name).WithLogger(bc.Logger), nil
		},
	}
}
