package pipe

import (
	"context"
	"errors"
)

var (
	// ErrExhausted is returned by Next when a stage has no more values for
	// the current epoch.
	ErrExhausted = errors.New("pipe: exhausted")

	// ErrNotAvailable is returned by non-blocking stages when no value can
	// be produced right now. Callers should let other work run and retry.
	ErrNotAvailable = errors.New("pipe: not available")

	// ErrPaused is returned by Next while a stage is paused.
	ErrPaused = errors.New("pipe: paused")
)

// ResetState is passed down the pipeline at the start of every epoch.
type ResetState struct {
	// Seed is shared by every participant for the epoch. Randomized stages
	// derive their generators from it so that all workers agree.
	Seed uint64

	// Epoch counts the resets issued by the reading service, starting at 1.
	Epoch int
}

// Stage is a single pipeline endpoint.
type Stage interface {
	// Next returns the next value. It returns ErrExhausted at the end of the
	// sequence and ErrNotAvailable if a non-blocking stage has nothing ready.
	Next(ctx context.Context) (any, error)

	// Reset re-arms the stage for a new epoch. Implementations must reset
	// their inputs as well.
	Reset(ctx context.Context, state ResetState) error
}

// Pauser is implemented by stages that do work in the background or forward
// control messages to another process.
type Pauser interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Parent is implemented by stages that wrap other stages in the same
// process. The walkers in this package only descend through Parents.
type Parent interface {
	Inputs() []Stage
}

// Closer is implemented by stages that hold resources such as goroutines.
type Closer interface {
	Close() error
}

// WorkerInfo identifies the worker a stage is built for.
type WorkerInfo struct {
	NumWorkers int
	ID         int
}

// DistInfo identifies the rank a stage is built for in a multi-rank setup.
type DistInfo struct {
	WorldSize int
	Rank      int
}

// Shards returns the total number of shards and the index of the shard
// owned by the given worker on this rank. Zero values count as a single
// worker on a single rank.
func Shards(w WorkerInfo, d DistInfo) (total, index int) {
	workers := w.NumWorkers
	if workers < 1 {
		workers = 1
	}
	world := d.WorldSize
	if world < 1 {
		world = 1
	}
	return workers * world, d.Rank*workers + w.ID
}
