package processor

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// TransformFunc transforms one value.
type TransformFunc func(data any) (any, error)

// Transform is a stage that applies a transformation function to each value.
type Transform struct {
	// Func is the transformation function to apply to each value.
	// If nil, values pass through unchanged.
	Func TransformFunc

	// StopOnError determines whether the stage ends the epoch after the first
	// transformation error. If false, the error is returned for that value
	// and the next call continues with the following value.
	StopOnError bool
}

// Map returns a node applying f to every value.
func Map(f TransformFunc) pipe.Node {
	return (&Transform{Func: f}).Node()
}

// Node returns a graph node for the transform.
func (p *Transform) Node() pipe.Node {
	cfg := *p
	return pipe.Node{
		Name: "map",
		Build: func(_ pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			in, err := single("map", inputs)
			if err != nil {
				return nil, err
			}
			return &transformStage{unary: unary{in: in}, cfg: cfg}, nil
		},
	}
}

type transformStage struct {
	unary
	cfg    Transform
	failed bool
}

func (s *transformStage) Next(ctx context.Context) (any, error) {
	if s.failed {
		return nil, pipe.ErrExhausted
	}

	v, err := s.in.Next(ctx)
	if err != nil || s.cfg.Func == nil {
		return v, err
	}

	out, err := s.cfg.Func(v)
	if err != nil {
		if s.cfg.StopOnError {
			s.failed = true
		}
		return nil, err
	}
	return out, nil
}

func (s *transformStage) Reset(ctx context.Context, state pipe.ResetState) error {
	s.failed = false
	return s.unary.Reset(ctx, state)
}
