package processor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/pipe"
)

// Logging returns a pass-through node that logs every value, error and
// reset at debug level, using the logger of the BuildContext. name
// identifies the node in the log.
func Logging(name string) pipe.Node {
	return pipe.Node{
		Name: "logging",
		Build: func(bc pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			in, err := single("logging", inputs)
			if err != nil {
				return nil, err
			}
			return &loggingStage{
				unary: unary{in: in},
				logger: bc.Logger.With(
					zap.String("stage", name),
					zap.Int("worker", bc.Worker.ID),
				),
			}, nil
		},
	}
}

type loggingStage struct {
	unary
	logger *zap.Logger
	count  int
	start  time.Time
}

func (s *loggingStage) Next(ctx context.Context) (any, error) {
	if s.start.IsZero() {
		s.start = time.Now()
	}

	v, err := s.in.Next(ctx)
	switch {
	case errors.Is(err, pipe.ErrExhausted):
		s.logger.Debug("exhausted", zap.Int("values", s.count), zap.Duration("elapsed", time.Since(s.start)))
	case errors.Is(err, pipe.ErrNotAvailable):
	case err != nil:
		s.logger.Debug("error", zap.Int("index", s.count), zap.Error(err))
	default:
		s.logger.Debug("value", zap.Int("index", s.count), zap.Any("value", v))
		s.count++
	}
	return v, err
}

func (s *loggingStage) Reset(ctx context.Context, state pipe.ResetState) error {
	s.logger.Debug("reset", zap.Uint64("seed", state.Seed), zap.Int("epoch", state.Epoch))
	s.count = 0
	s.start = time.Time{}
	return s.unary.Reset(ctx, state)
}
