package source

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Error is a source that produces no data. Each epoch it returns Err once,
// after Count values taken from a counter starting at 0, and is exhausted
// afterwards. It is useful for testing how failures travel through a
// pipeline.
type Error struct {
	Err   error
	Count int
}

// Node returns a graph node for the source.
func (s *Error) Node() pipe.Node {
	cfg := *s
	return pipe.Node{
		Name: "error",
		Build: func(_ pipe.BuildContext, _ []pipe.Stage) (pipe.Stage, error) {
			return &errorStage{cfg: cfg}, nil
		},
	}
}

type errorStage struct {
	cfg  Error
	pos  int
	done bool
}

func (s *errorStage) Next(_ context.Context) (any, error) {
	switch {
	case s.done:
		return nil, pipe.ErrExhausted
	case s.pos < s.cfg.Count:
		s.pos++
		return s.pos - 1, nil
	}
	s.done = true
	return nil, s.cfg.Err
}

func (s *errorStage) Reset(_ context.Context, _ pipe.ResetState) error {
	s.pos = 0
	s.done = false
	return nil
}
