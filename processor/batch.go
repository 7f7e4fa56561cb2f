package processor

import (
	"context"
	"errors"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Batcher is a stage that groups consecutive values into []any batches.
type Batcher struct {
	// MaxItems is the number of values per batch. Values below 1 are
	// treated as 1.
	MaxItems int

	// DropLast drops the last batch of an epoch if it has fewer than
	// MaxItems values. Otherwise it is returned as is.
	DropLast bool
}

// Batch returns a node grouping values into batches of n.
func Batch(n int) pipe.Node {
	return (&Batcher{MaxItems: n}).Node()
}

// Node returns a graph node for the batcher.
func (p *Batcher) Node() pipe.Node {
	cfg := *p
	cfg.MaxItems = max(cfg.MaxItems, 1)
	return pipe.Node{
		Name: "batch",
		Build: func(_ pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			in, err := single("batch", inputs)
			if err != nil {
				return nil, err
			}
			return &batchStage{unary: unary{in: in}, cfg: cfg}, nil
		},
	}
}

type batchStage struct {
	unary
	cfg Batcher
	buf []any
}

// Next fills the pending batch. Errors from upstream are returned as they
// come, and the values collected so far stay pending for the next call.
func (s *batchStage) Next(ctx context.Context) (any, error) {
	for len(s.buf) < s.cfg.MaxItems {
		v, err := s.in.Next(ctx)
		if errors.Is(err, pipe.ErrExhausted) {
			if len(s.buf) == 0 || s.cfg.DropLast {
				s.buf = nil
				return nil, err
			}
			break
		}
		if err != nil {
			return nil, err
		}
		s.buf = append(s.buf, v)
	}

	out := s.buf
	s.buf = nil
	return out, nil
}

func (s *batchStage) Reset(ctx context.Context, state pipe.ResetState) error {
	s.buf = nil
	return s.unary.Reset(ctx, state)
}
