package reading

import (
	"context"
	"errors"
	"fmt"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Service adapts a pipeline graph for reading and drives it through epochs.
type Service interface {
	// Initialize rewrites and builds g and returns the stage the consumer
	// reads from.
	Initialize(ctx context.Context, g *pipe.Graph) (pipe.Stage, error)

	// InitializeIteration starts a new epoch. It must be called before the
	// first value of every epoch is read.
	InitializeIteration(ctx context.Context) error

	// FinalizeIteration is called once the consumer has exhausted an epoch.
	FinalizeIteration(ctx context.Context) error

	// Finalize releases everything started by Initialize.
	Finalize(ctx context.Context) error
}

// Pausable is implemented by services that can suspend reading mid-epoch.
type Pausable interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Limiter is implemented by services that can cap the number of values read
// in the current epoch.
type Limiter interface {
	Limit(ctx context.Context, n int) error
}

// ErrNoWorkers is returned by operations that need worker processes when the
// service reads in-process.
var ErrNoWorkers = errors.New("reading: operation requires at least one worker")

// State is the lifecycle state of a MultiProcessing service.
type State int

const (
	// StateCreated is the state before Initialize.
	StateCreated State = iota

	// StateInitialized is the state between epochs.
	StateInitialized

	// StateIterating is the state during an epoch.
	StateIterating

	// StatePaused is the state after Pause, until Resume.
	StatePaused

	// StateFinalized is the state after Finalize.
	StateFinalized
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateIterating:
		return "iterating"
	case StatePaused:
		return "paused"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateError is returned when an operation is not valid in the current
// state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("reading: cannot %s while %s", e.Op, e.State)
}
