package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"
	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/internal/metrics"
	"github.com/MasterOfBinary/goloader/pipe"
)

// DefaultBufferSize is the default number of items held per destination.
const DefaultBufferSize = 1000

// Demux splits one upstream stage into n endpoint stages. Item m of an epoch
// goes to endpoint m mod n. An endpoint that needs an item pulls from
// upstream on behalf of whichever endpoint is next in turn and parks items
// for the others in per-destination buffers. If the buffer of the endpoint
// next in turn is full the pull is refused with pipe.ErrNotAvailable.
//
// Control requests are aggregated: upstream is reset once every endpoint has
// been reset, paused once every endpoint is paused, resumed by the first
// resume after that, and closed once every endpoint is closed.
//
// A Demux is not safe for concurrent use; all endpoints must be driven from
// one goroutine.
type Demux struct {
	upstream pipe.Stage
	n        int
	logger   *zap.Logger

	buffers   []*circularbuffer.Queue
	next      int
	exhausted bool

	resetting []bool
	resets    int

	paused         []bool
	pauses         int
	upstreamPaused bool

	closed []bool
	closes int
}

// NewDemux creates a demultiplexer with n endpoints and size items of
// buffer per endpoint.
func NewDemux(upstream pipe.Stage, n, size int) *Demux {
	if n < 1 {
		n = 1
	}
	if size < 1 {
		size = DefaultBufferSize
	}

	d := &Demux{
		upstream:  upstream,
		n:         n,
		logger:    zap.NewNop(),
		buffers:   make([]*circularbuffer.Queue, n),
		resetting: make([]bool, n),
		paused:    make([]bool, n),
		closed:    make([]bool, n),
	}
	for i := range d.buffers {
		d.buffers[i] = circularbuffer.New(size)
	}
	return d
}

// WithLogger sets the logger.
func (d *Demux) WithLogger(logger *zap.Logger) *Demux {
	if logger == nil {
		logger = zap.NewNop()
	}
	d.logger = logger
	return d
}

// Endpoint returns the stage for destination i.
func (d *Demux) Endpoint(i int) pipe.Stage {
	if i < 0 || i >= d.n {
		panic(fmt.Sprintf("dispatch: endpoint %d out of range [0, %d)", i, d.n))
	}
	return &endpoint{d: d, id: i}
}

// Buffered returns the number of items parked for destination i.
func (d *Demux) Buffered(i int) int {
	return d.buffers[i].Size()
}

func (d *Demux) pull(ctx context.Context, id int) (any, error) {
	if d.resetting[id] {
		return nil, pipe.ErrNotAvailable
	}

	for {
		if v, ok := d.buffers[id].Dequeue(); ok {
			return v, nil
		}
		if d.exhausted {
			return nil, pipe.ErrExhausted
		}

		dest := d.next
		if dest != id && !d.resetting[dest] && d.buffers[dest].Full() {
			return nil, pipe.ErrNotAvailable
		}

		v, err := d.upstream.Next(ctx)
		switch {
		case errors.Is(err, pipe.ErrExhausted):
			d.exhausted = true
			continue
		case err != nil:
			return nil, err
		}

		d.next = (dest + 1) % d.n
		metrics.DispatchedItems.Inc()
		switch {
		case dest == id:
			return v, nil
		case d.resetting[dest]:
			// Already reset for the next epoch; its buffer is cleared anyway.
		default:
			d.buffers[dest].Enqueue(v)
		}
	}
}

func (d *Demux) reset(ctx context.Context, id int, state pipe.ResetState) error {
	if !d.resetting[id] {
		d.resetting[id] = true
		d.resets++
	}
	d.buffers[id].Clear()
	if d.resets < d.n {
		return nil
	}

	d.logger.Debug("all endpoints reset, resetting upstream", zap.Int("epoch", state.Epoch))
	for i := range d.buffers {
		d.buffers[i].Clear()
		d.resetting[i] = false
		d.paused[i] = false
	}
	d.resets = 0
	d.pauses = 0
	d.upstreamPaused = false
	d.next = 0
	d.exhausted = false
	return d.upstream.Reset(ctx, state)
}

func (d *Demux) pause(ctx context.Context, id int) error {
	if !d.paused[id] {
		d.paused[id] = true
		d.pauses++
	}
	if d.pauses < d.n || d.upstreamPaused {
		return nil
	}
	d.logger.Debug("all endpoints paused, pausing upstream")
	if err := pipe.Pause(ctx, d.upstream); err != nil {
		return err
	}
	d.upstreamPaused = true
	return nil
}

func (d *Demux) resume(ctx context.Context, id int) error {
	if d.paused[id] {
		d.paused[id] = false
		d.pauses--
	}
	if !d.upstreamPaused {
		return nil
	}
	d.logger.Debug("resuming upstream")
	if err := pipe.Resume(ctx, d.upstream); err != nil {
		return err
	}
	d.upstreamPaused = false
	return nil
}

func (d *Demux) close(id int) error {
	if d.closed[id] {
		return nil
	}
	d.closed[id] = true
	d.closes++
	if d.closes < d.n {
		return nil
	}
	return pipe.Close(d.upstream)
}

// endpoint does not implement pipe.Parent, so walkers started from one
// endpoint stop before the shared upstream.
type endpoint struct {
	d  *Demux
	id int
}

func (e *endpoint) Next(ctx context.Context) (any, error) {
	return e.d.pull(ctx, e.id)
}

func (e *endpoint) Reset(ctx context.Context, state pipe.ResetState) error {
	return e.d.reset(ctx, e.id, state)
}

func (e *endpoint) Pause(ctx context.Context) error {
	return e.d.pause(ctx, e.id)
}

func (e *endpoint) Resume(ctx context.Context) error {
	return e.d.resume(ctx, e.id)
}

func (e *endpoint) Close() error {
	return e.d.close(e.id)
}
