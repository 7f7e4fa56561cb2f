package eventloop

import (
	"context"
	"fmt"
)

// Step is the outcome of advancing a Generator once.
type Step int

const (
	// StepYielded means the generator did some work and can be advanced
	// again.
	StepYielded Step = iota

	// StepPending means the generator had nothing to do. It stays runnable.
	StepPending

	// StepDone means the generator finished and must not be advanced again.
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepYielded:
		return "yielded"
	case StepPending:
		return "pending"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// Generator is a resumable unit of work. Advance runs one step and returns
// without blocking.
type Generator interface {
	Advance(ctx context.Context) (Step, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context) (Step, error)

// Advance calls f(ctx).
func (f GeneratorFunc) Advance(ctx context.Context) (Step, error) {
	return f(ctx)
}

// State is the lifecycle state of a Handler.
type State int

const (
	// Ready handlers can be picked by Iteration.
	Ready State = iota

	// Suspended handlers are executing a step, possibly waiting in a nested
	// Iteration. They are on the reentrancy stack.
	Suspended

	// Exhausted handlers returned StepDone or an error. They are never
	// resumed again.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Suspended:
		return "suspended"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler is a Generator registered with a Scheduler.
type Handler struct {
	gen   Generator
	name  string
	id    int
	state State
	err   error
}

// ID returns the handler id, unique for the lifetime of its Scheduler.
func (h *Handler) ID() int { return h.id }

// Name returns the name given at registration.
func (h *Handler) Name() string { return h.name }

// State returns the current lifecycle state.
func (h *Handler) State() State { return h.state }

// Err returns the error that exhausted the handler, if any.
func (h *Handler) Err() error { return h.err }

// HandlerError is returned by Iteration when a handler step fails.
type HandlerError struct {
	Name string
	ID   int
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s_%d: %v", e.Name, e.ID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
