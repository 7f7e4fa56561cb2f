package processor

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// ShardingFilter returns a node that keeps only the values owned by the
// worker it is built for. Values are numbered from 0 in every epoch and
// value k belongs to shard k mod total, where total and the shard index
// cover every worker on every rank (see pipe.Shards).
func ShardingFilter() pipe.Node {
	return pipe.Node{
		Name: "sharding_filter",
		Build: func(bc pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			in, err := single("sharding_filter", inputs)
			if err != nil {
				return nil, err
			}
			total, index := pipe.Shards(bc.Worker, bc.Dist)
			return &shardingStage{unary: unary{in: in}, total: total, index: index}, nil
		},
	}
}

type shardingStage struct {
	unary
	total, index int
	seen         int
}

func (s *shardingStage) Next(ctx context.Context) (any, error) {
	for {
		v, err := s.in.Next(ctx)
		if err != nil {
			return v, err
		}
		k := s.seen
		s.seen++
		if k%s.total == s.index {
			return v, nil
		}
	}
}

func (s *shardingStage) Reset(ctx context.Context, state pipe.ResetState) error {
	s.seen = 0
	return s.unary.Reset(ctx, state)
}
