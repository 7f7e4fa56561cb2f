package processor

import (
	"context"
	"errors"

	"github.com/MasterOfBinary/goloader/pipe"
)

// RoundRobin merges its inputs by taking one value from each in turn.
// Exhausted inputs are skipped; the merge is exhausted once every input is.
// An error from an input is returned in that input's turn and the turn moves
// on. pipe.ErrNotAvailable does not move the turn.
type RoundRobin struct {
	inputs []pipe.Stage
	done   []bool
	live   int
	cur    int
}

var _ pipe.Parent = (*RoundRobin)(nil)

// NewRoundRobin merges inputs in the given order.
func NewRoundRobin(inputs ...pipe.Stage) *RoundRobin {
	return &RoundRobin{
		inputs: inputs,
		done:   make([]bool, len(inputs)),
		live:   len(inputs),
	}
}

// Merge returns a node merging the given nodes round-robin.
func Merge(inputs ...pipe.NodeID) pipe.Node {
	return pipe.Node{
		Name:   "round_robin",
		Inputs: inputs,
		Build: func(_ pipe.BuildContext, in []pipe.Stage) (pipe.Stage, error) {
			return NewRoundRobin(in...), nil
		},
	}
}

// Inputs implements pipe.Parent.
func (r *RoundRobin) Inputs() []pipe.Stage {
	return r.inputs
}

// Next returns the next value in round-robin order.
func (r *RoundRobin) Next(ctx context.Context) (any, error) {
	for r.live > 0 {
		i := r.cur
		if r.done[i] {
			r.cur = (i + 1) % len(r.inputs)
			continue
		}

		v, err := r.inputs[i].Next(ctx)
		switch {
		case errors.Is(err, pipe.ErrNotAvailable):
			return nil, err
		case errors.Is(err, pipe.ErrExhausted):
			r.done[i] = true
			r.live--
		}
		r.cur = (i + 1) % len(r.inputs)
		if !errors.Is(err, pipe.ErrExhausted) {
			return v, err
		}
	}
	return nil, pipe.ErrExhausted
}

// Reset resets every input and starts again from the first one.
func (r *RoundRobin) Reset(ctx context.Context, state pipe.ResetState) error {
	for _, in := range r.inputs {
		if err := in.Reset(ctx, state); err != nil {
			return err
		}
	}
	for i := range r.done {
		r.done[i] = false
	}
	r.live = len(r.inputs)
	r.cur = 0
	return nil
}
