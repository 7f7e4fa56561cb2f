package source

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Nil returns a node that doesn't produce anything. It can be used as a mock
// source.
func Nil() pipe.Node {
	return pipe.Node{
		Name: "nil",
		Build: func(_ pipe.BuildContext, _ []pipe.Stage) (pipe.Stage, error) {
			return nilStage{}, nil
		},
	}
}

type nilStage struct{}

func (nilStage) Next(_ context.Context) (any, error) {
	return nil, pipe.ErrExhausted
}

func (nilStage) Reset(_ context.Context, _ pipe.ResetState) error {
	return nil
}
