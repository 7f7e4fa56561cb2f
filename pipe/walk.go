package pipe

import (
	"context"
	"errors"
	"fmt"
)

// Walk visits s and every stage reachable from it through Parent.Inputs,
// breadth first, so that a stage is always visited before the stages it
// reads from. Stages shared by several parents are visited once. Stages
// must be comparable values, which pointer receivers always are.
//
// Walk stops at the first error returned by fn.
func Walk(s Stage, fn func(Stage) error) error {
	for _, stage := range order(s) {
		if err := fn(stage); err != nil {
			return err
		}
	}
	return nil
}

func order(s Stage) []Stage {
	if s == nil {
		return nil
	}

	var (
		seen  = map[Stage]bool{s: true}
		queue = []Stage{s}
		out   []Stage
	)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)

		p, ok := cur.(Parent)
		if !ok {
			continue
		}
		for _, in := range p.Inputs() {
			if in == nil || seen[in] {
				continue
			}
			seen[in] = true
			queue = append(queue, in)
		}
	}
	return out
}

// Pause pauses every Pauser reachable from s, downstream stages first. A
// prefetch buffer therefore stops pulling before the stages it pulls from
// receive their pause.
func Pause(ctx context.Context, s Stage) error {
	return Walk(s, func(stage Stage) error {
		p, ok := stage.(Pauser)
		if !ok {
			return nil
		}
		if err := p.Pause(ctx); err != nil {
			return fmt.Errorf("pause %T: %w", stage, err)
		}
		return nil
	})
}

// Resume resumes every Pauser reachable from s in the reverse order of
// Pause: upstream stages are running again before their consumers restart.
func Resume(ctx context.Context, s Stage) error {
	stages := order(s)
	for i := len(stages) - 1; i >= 0; i-- {
		p, ok := stages[i].(Pauser)
		if !ok {
			continue
		}
		if err := p.Resume(ctx); err != nil {
			return fmt.Errorf("resume %T: %w", stages[i], err)
		}
	}
	return nil
}

// Close closes every Closer reachable from s, downstream first. Unlike
// Pause it does not stop at the first failure; all errors are joined.
func Close(s Stage) error {
	var errs []error
	for _, stage := range order(s) {
		c, ok := stage.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", stage, err))
		}
	}
	return errors.Join(errs...)
}

// Drain reads s until it is exhausted and returns every value read. Any
// error other than ErrExhausted is returned together with the values read
// so far.
func Drain(ctx context.Context, s Stage) ([]any, error) {
	var out []any
	for {
		v, err := s.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
