package source

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Range returns a node producing the integers in [start, stop).
func Range(start, stop int) pipe.Node {
	return pipe.Node{
		Name: "range",
		Build: func(_ pipe.BuildContext, _ []pipe.Stage) (pipe.Stage, error) {
			return &rangeStage{start: start, stop: stop, pos: start}, nil
		},
	}
}

type rangeStage struct {
	start, stop, pos int
}

func (s *rangeStage) Next(_ context.Context) (any, error) {
	if s.pos >= s.stop {
		return nil, pipe.ErrExhausted
	}
	v := s.pos
	s.pos++
	return v, nil
}

func (s *rangeStage) Reset(_ context.Context, _ pipe.ResetState) error {
	s.pos = s.start
	return nil
}

// Slice returns a node producing values in order.
func Slice(values ...any) pipe.Node {
	return pipe.Node{
		Name: "slice",
		Build: func(_ pipe.BuildContext, _ []pipe.Stage) (pipe.Stage, error) {
			return &sliceStage{values: values}, nil
		},
	}
}

type sliceStage struct {
	values []any
	pos    int
}

func (s *sliceStage) Next(_ context.Context) (any, error) {
	if s.pos >= len(s.values) {
		return nil, pipe.ErrExhausted
	}
	v := s.values[s.pos]
	s.pos++
	return v, nil
}

func (s *sliceStage) Reset(_ context.Context, _ pipe.ResetState) error {
	s.pos = 0
	return nil
}
