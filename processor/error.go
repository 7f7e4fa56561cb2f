package processor

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Error is a stage that replaces values with an error. It is mostly useful
// for testing error handling across worker boundaries.
type Error struct {
	Err error

	// Every replaces every Every-th value, counting from 1. Zero or one
	// replaces all values.
	Every int
}

// Node returns a graph node for the stage.
func (p *Error) Node() pipe.Node {
	cfg := *p
	return pipe.Node{
		Name: "error",
		Build: func(_ pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			in, err := single("error", inputs)
			if err != nil {
				return nil, err
			}
			return &errorStage{unary: unary{in: in}, cfg: cfg}, nil
		},
	}
}

type errorStage struct {
	unary
	cfg   Error
	count int
}

func (s *errorStage) Next(ctx context.Context) (any, error) {
	v, err := s.in.Next(ctx)
	if err != nil {
		return v, err
	}
	s.count++
	if s.cfg.Every <= 1 || s.count%s.cfg.Every == 0 {
		return nil, s.cfg.Err
	}
	return v, nil
}

func (s *errorStage) Reset(ctx context.Context, state pipe.ResetState) error {
	s.count = 0
	return s.unary.Reset(ctx, state)
}
