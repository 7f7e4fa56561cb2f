package processor

import (
	"context"
	"fmt"

	"github.com/MasterOfBinary/goloader/pipe"
)

// unary is embedded by stages with a single input.
type unary struct {
	in pipe.Stage
}

func (u *unary) Inputs() []pipe.Stage {
	return []pipe.Stage{u.in}
}

func (u *unary) Reset(ctx context.Context, state pipe.ResetState) error {
	return u.in.Reset(ctx, state)
}

// single returns the only input, or an error naming the node.
func single(name string, inputs []pipe.Stage) (pipe.Stage, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("processor: %s expects exactly one input, got %d", name, len(inputs))
	}
	return inputs[0], nil
}
