package eventloop

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/internal/metrics"
)

// ErrDisabled is returned by Run on a disabled scheduler.
var ErrDisabled = errors.New("eventloop: scheduler disabled")

// Scheduler runs registered handlers one step at a time.
type Scheduler struct {
	logger   *zap.Logger
	disabled bool

	handlers []*Handler
	nextID   int

	// stack holds the ids of the handlers currently executing a step,
	// outermost first.
	stack []int

	// cursors[d] is the round-robin position for nesting depth d+1.
	cursors []int
	depth   int
}

// New creates an empty, enabled Scheduler.
func New() *Scheduler {
	return &Scheduler{
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger used to surface handler failures.
func (s *Scheduler) WithLogger(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
	return s
}

// Register adds gen to the scheduler and returns its handler. Ids start at 1
// and are never reused.
func (s *Scheduler) Register(name string, gen Generator) *Handler {
	s.nextID++
	h := &Handler{
		gen:  gen,
		name: name,
		id:   s.nextID,
	}
	s.handlers = append(s.handlers, h)
	s.logger.Debug("handler registered", zap.String("handler", name), zap.Int("id", h.id))
	return h
}

// SetEnabled turns the scheduler on or off. A disabled scheduler's
// Iteration returns immediately without running anything.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.disabled = !enabled
}

// Enabled reports whether Iteration runs handlers.
func (s *Scheduler) Enabled() bool {
	return !s.disabled
}

// Depth returns the current nesting depth of Iteration calls.
func (s *Scheduler) Depth() int {
	return s.depth
}

// Stack returns a copy of the reentrancy stack.
func (s *Scheduler) Stack() []int {
	return append([]int(nil), s.stack...)
}

// Handlers returns the registered handlers in registration order.
func (s *Scheduler) Handlers() []*Handler {
	return append([]*Handler(nil), s.handlers...)
}

// Iteration advances at most one handler by one step. Handlers are tried in
// round-robin order using the cursor of the current nesting depth; handlers
// that are exhausted or already executing are skipped. If every handler is
// skipped, Iteration returns nil without doing anything.
//
// The reentrancy stack and the depth are restored before Iteration returns,
// including when the handler fails or panics. A failing handler is marked
// exhausted and its error is returned as a *HandlerError.
func (s *Scheduler) Iteration(ctx context.Context) error {
	_, err := s.iterate(ctx)
	return err
}

func (s *Scheduler) iterate(ctx context.Context) (progressed bool, err error) {
	if s.disabled || len(s.handlers) == 0 {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.depth++
	defer func() { s.depth-- }()
	for len(s.cursors) < s.depth {
		s.cursors = append(s.cursors, 0)
	}

	n := len(s.handlers)
	for i := 0; i < n; i++ {
		cur := s.cursors[s.depth-1] % n
		s.cursors[s.depth-1] = cur + 1

		h := s.handlers[cur]
		if h.state != Ready || s.onStack(h.id) {
			continue
		}
		return s.resume(ctx, h)
	}
	return false, nil
}

func (s *Scheduler) onStack(id int) bool {
	for _, v := range s.stack {
		if v == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) resume(ctx context.Context, h *Handler) (bool, error) {
	base := len(s.stack)
	s.stack = append(s.stack, h.id)
	h.state = Suspended
	defer func() {
		s.stack = s.stack[:base]
		if h.state == Suspended {
			h.state = Ready
		}
	}()

	step, err := h.gen.Advance(ctx)
	metrics.SchedulerIterations.Inc()
	if err != nil {
		h.state = Exhausted
		h.err = err
		s.logger.Error("handler failed",
			zap.String("handler", h.name),
			zap.Int("id", h.id),
			zap.Int("depth", s.depth),
			zap.Error(err))
		return true, &HandlerError{Name: h.name, ID: h.id, Err: err}
	}

	switch step {
	case StepDone:
		h.state = Exhausted
		s.logger.Debug("handler done", zap.String("handler", h.name), zap.Int("id", h.id))
		return true, nil
	case StepPending:
		return false, nil
	default:
		return true, nil
	}
}

// Live returns the number of handlers that are not exhausted.
func (s *Scheduler) Live() int {
	live := 0
	for _, h := range s.handlers {
		if h.state != Exhausted {
			live++
		}
	}
	return live
}

// Run calls Iteration until every registered handler is exhausted, the
// context is cancelled or a handler fails. After a full pass in which no
// handler made progress it backs off exponentially, up to a few
// milliseconds.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.disabled {
		return ErrDisabled
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()

	for s.Live() > 0 {
		progressed := false
		for i := 0; i < len(s.handlers); i++ {
			p, err := s.iterate(ctx)
			if err != nil {
				return err
			}
			progressed = progressed || p
		}
		if progressed {
			b.Reset()
			continue
		}

		t := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
