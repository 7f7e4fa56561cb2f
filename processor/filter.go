package processor

import (
	"context"

	"github.com/MasterOfBinary/goloader/pipe"
)

// FilterFunc decides whether a value should be kept.
// Return true to keep the value, false to drop it.
type FilterFunc func(data any) bool

// Filter is a stage that drops values based on a predicate function.
type Filter struct {
	// Predicate returns true for values that should be kept.
	// If nil, no filtering occurs.
	Predicate FilterFunc

	// InvertMatch inverts the predicate logic: if true, values matching the
	// predicate are dropped instead of kept.
	InvertMatch bool
}

// Where returns a node keeping the values for which keep returns true.
func Where(keep FilterFunc) pipe.Node {
	return (&Filter{Predicate: keep}).Node()
}

// Node returns a graph node for the filter.
func (p *Filter) Node() pipe.Node {
	cfg := *p
	return pipe.Node{
		Name: "filter",
		Build: func(_ pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			in, err := single("filter", inputs)
			if err != nil {
				return nil, err
			}
			return &filterStage{unary: unary{in: in}, cfg: cfg}, nil
		},
	}
}

type filterStage struct {
	unary
	cfg Filter
}

func (s *filterStage) Next(ctx context.Context) (any, error) {
	for {
		v, err := s.in.Next(ctx)
		if err != nil || s.cfg.Predicate == nil {
			return v, err
		}
		if s.cfg.Predicate(v) != s.cfg.InvertMatch {
			return v, nil
		}
	}
}
