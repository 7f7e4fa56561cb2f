package processor

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Nil returns a node that passes values through unchanged.
func Nil() pipe.Node {
	return pipe.Node{
		Name:  "nil",
		Build: buildNil,
	}
}

// Dispatch returns a pass-through node marked non-replicable. Everything
// upstream of it runs once and its output is distributed round-robin among
// the workers instead of being replicated in each of them.
func Dispatch() pipe.Node {
	return pipe.Node{
		Name:          "dispatch",
		NonReplicable: true,
		Build:         buildNil,
	}
}

func buildNil(_ pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
	in, err := single("nil", inputs)
	if err != nil {
		return nil, err
	}
	return &nilStage{unary{in: in}}, nil
}

type nilStage struct {
	unary
}

func (s *nilStage) Next(ctx context.Context) (any, error) {
	return s.in.Next(ctx)
}
