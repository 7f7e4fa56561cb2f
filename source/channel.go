package source

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Channel returns a node reading values from items until it is closed.
// The node is non-replicable, and resetting it does not rewind the channel:
// a new epoch continues with whatever the channel delivers next.
func Channel(items <-chan any) pipe.Node {
	return pipe.Node{
		Name:          "channel",
		NonReplicable: true,
		Build: func(_ pipe.BuildContext, _ []pipe.Stage) (pipe.Stage, error) {
			return &channelStage{items: items}, nil
		},
	}
}

type channelStage struct {
	items <-chan any
}

func (s *channelStage) Next(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case v, ok := <-s.items:
		if !ok {
			return nil, pipe.ErrExhausted
		}
		return v, nil
	}
}

func (s *channelStage) Reset(_ context.Context, _ pipe.ResetState) error {
	return nil
}
