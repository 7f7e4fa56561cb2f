package processor_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MasterOfBinary/goloader/pipe"
	. "github.com/MasterOfBinary/goloader/processor"
	"github.com/MasterOfBinary/goloader/source"
)

func build(t *testing.T, b *pipe.Builder, bc pipe.BuildContext) pipe.Stage {
	t.Helper()
	s, err := b.Graph().Build(bc)
	require.NoError(t, err)
	return s
}

func drain(t *testing.T, s pipe.Stage) []any {
	t.Helper()
	got, err := pipe.Drain(context.Background(), s)
	require.NoError(t, err)
	return got
}

// result is one scripted return value of a scripted stage.
type result struct {
	v   any
	err error
}

// scripted returns its results in order, then ErrExhausted.
type scripted struct {
	results []result
	pos     int
	resets  int
}

func (s *scripted) Next(context.Context) (any, error) {
	if s.pos >= len(s.results) {
		return nil, pipe.ErrExhausted
	}
	r := s.results[s.pos]
	s.pos++
	return r.v, r.err
}

func (s *scripted) Reset(context.Context, pipe.ResetState) error {
	s.pos = 0
	s.resets++
	return nil
}

func values(vs ...any) []result {
	out := make([]result, len(vs))
	for i, v := range vs {
		out[i] = result{v: v}
	}
	return out
}

func TestTransform(t *testing.T) {
	ctx := context.Background()
	errOdd := errors.New("odd")

	t.Run("transforms values", func(t *testing.T) {
		s := build(t, pipe.From(source.Range(0, 4)).Then(Map(func(v any) (any, error) {
			return strconv.Itoa(v.(int) * 2), nil
		})), pipe.BuildContext{})

		assert.Equal(t, []any{"0", "2", "4", "6"}, drain(t, s))
	})

	t.Run("nil func passes values through", func(t *testing.T) {
		s := build(t, pipe.From(source.Range(0, 3)).Then((&Transform{}).Node()), pipe.BuildContext{})
		assert.Equal(t, []any{0, 1, 2}, drain(t, s))
	})

	odd := func(v any) (any, error) {
		if v.(int)%2 == 1 {
			return nil, errOdd
		}
		return v, nil
	}

	t.Run("errors continue by default", func(t *testing.T) {
		s := build(t, pipe.From(source.Range(0, 4)).Then(Map(odd)), pipe.BuildContext{})

		var got []any
		var errs int
		for {
			v, err := s.Next(ctx)
			if errors.Is(err, pipe.ErrExhausted) {
				break
			}
			if err != nil {
				assert.ErrorIs(t, err, errOdd)
				errs++
				continue
			}
			got = append(got, v)
		}
		assert.Equal(t, []any{0, 2}, got)
		assert.Equal(t, 2, errs)
	})

	t.Run("StopOnError ends the epoch until reset", func(t *testing.T) {
		s := build(t, pipe.From(source.Range(0, 4)).Then((&Transform{Func: odd, StopOnError: true}).Node()), pipe.BuildContext{})

		got, err := pipe.Drain(ctx, s)
		assert.ErrorIs(t, err, errOdd)
		assert.Equal(t, []any{0}, got)

		_, err = s.Next(ctx)
		assert.ErrorIs(t, err, pipe.ErrExhausted)

		require.NoError(t, s.Reset(ctx, pipe.ResetState{Epoch: 1}))
		v, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, v)
	})

	t.Run("requires one input", func(t *testing.T) {
		_, err := pipe.From(Map(nil)).Graph().Build(pipe.BuildContext{})
		assert.Error(t, err)
	})
}

func TestFilter(t *testing.T) {
	even := func(v any) bool { return v.(int)%2 == 0 }

	tests := []struct {
		name   string
		filter *Filter
		want   []any
	}{
		{"keeps matching", &Filter{Predicate: even}, []any{0, 2, 4}},
		{"inverted", &Filter{Predicate: even, InvertMatch: true}, []any{1, 3, 5}},
		{"nil predicate", &Filter{}, []any{0, 1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := build(t, pipe.From(source.Range(0, 6)).Then(tt.filter.Node()), pipe.BuildContext{})
			assert.Equal(t, tt.want, drain(t, s))
		})
	}

	t.Run("Where", func(t *testing.T) {
		s := build(t, pipe.From(source.Range(0, 6)).Then(Where(even)), pipe.BuildContext{})
		assert.Equal(t, []any{0, 2, 4}, drain(t, s))
	})
}

func TestShardingFilter(t *testing.T) {
	tests := []struct {
		name string
		bc   pipe.BuildContext
		want []any
	}{
		{"single worker", pipe.BuildContext{}, []any{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"worker 1 of 3", pipe.BuildContext{Worker: pipe.WorkerInfo{NumWorkers: 3, ID: 1}}, []any{1, 4, 7}},
		{
			"worker 1 of 2 on rank 1 of 2",
			pipe.BuildContext{
				Worker: pipe.WorkerInfo{NumWorkers: 2, ID: 1},
				Dist:   pipe.DistInfo{WorldSize: 2, Rank: 1},
			},
			[]any{3, 7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := build(t, pipe.From(source.Range(0, 10)).Then(ShardingFilter()), tt.bc)
			assert.Equal(t, tt.want, drain(t, s))

			require.NoError(t, s.Reset(context.Background(), pipe.ResetState{Epoch: 1}))
			assert.Equal(t, tt.want, drain(t, s))
		})
	}

	t.Run("shards cover every value once", func(t *testing.T) {
		seen := make(map[any]int)
		for id := 0; id < 4; id++ {
			bc := pipe.BuildContext{Worker: pipe.WorkerInfo{NumWorkers: 4, ID: id}}
			for _, v := range drain(t, build(t, pipe.From(source.Range(0, 21)).Then(ShardingFilter()), bc)) {
				seen[v]++
			}
		}
		assert.Len(t, seen, 21)
		for v, n := range seen {
			assert.Equal(t, 1, n, "value %v", v)
		}
	})
}

func TestShuffle(t *testing.T) {
	ctx := context.Background()
	newShuffle := func(size int) pipe.Stage {
		return build(t, pipe.From(source.Range(0, 100)).Then(Shuffle(size)), pipe.BuildContext{})
	}

	t.Run("is a permutation", func(t *testing.T) {
		got := drain(t, newShuffle(16))
		assert.Len(t, got, 100)
		assert.ElementsMatch(t, drain(t, build(t, pipe.From(source.Range(0, 100)), pipe.BuildContext{})), got)
	})

	t.Run("same seed same order", func(t *testing.T) {
		a, b := newShuffle(0), newShuffle(0)
		state := pipe.ResetState{Seed: 42, Epoch: 1}
		require.NoError(t, a.Reset(ctx, state))
		require.NoError(t, b.Reset(ctx, state))
		assert.Equal(t, drain(t, a), drain(t, b))
	})

	t.Run("different seeds differ", func(t *testing.T) {
		s := newShuffle(0)
		require.NoError(t, s.Reset(ctx, pipe.ResetState{Seed: 1, Epoch: 1}))
		first := drain(t, s)
		require.NoError(t, s.Reset(ctx, pipe.ResetState{Seed: 2, Epoch: 2}))
		assert.NotEqual(t, first, drain(t, s))
	})

	t.Run("reset discards buffered values", func(t *testing.T) {
		s := newShuffle(8)
		_, err := s.Next(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Reset(ctx, pipe.ResetState{Seed: 3, Epoch: 1}))
		assert.Len(t, drain(t, s), 100)
	})

	t.Run("errors pass through", func(t *testing.T) {
		errTest := errors.New("boom")
		s := build(t, pipe.From((&source.Error{Err: errTest, Count: 3}).Node()).Then(Shuffle(10)), pipe.BuildContext{})

		_, err := s.Next(ctx)
		assert.ErrorIs(t, err, errTest)
		assert.Len(t, drain(t, s), 3)
	})
}

func TestRoundRobin(t *testing.T) {
	ctx := context.Background()
	errTest := errors.New("boom")

	t.Run("interleaves and skips exhausted inputs", func(t *testing.T) {
		r := NewRoundRobin(
			&scripted{results: values("a0", "a1", "a2")},
			&scripted{results: values("b0")},
			&scripted{results: values("c0", "c1")},
		)
		assert.Equal(t, []any{"a0", "b0", "c0", "a1", "c1", "a2"}, drain(t, r))

		_, err := r.Next(ctx)
		assert.ErrorIs(t, err, pipe.ErrExhausted)
	})

	t.Run("no inputs", func(t *testing.T) {
		_, err := NewRoundRobin().Next(ctx)
		assert.ErrorIs(t, err, pipe.ErrExhausted)
	})

	t.Run("not available keeps the turn", func(t *testing.T) {
		r := NewRoundRobin(
			&scripted{results: []result{{err: pipe.ErrNotAvailable}, {v: "a0"}}},
			&scripted{results: values("b0")},
		)
		_, err := r.Next(ctx)
		assert.ErrorIs(t, err, pipe.ErrNotAvailable)
		assert.Equal(t, []any{"a0", "b0"}, drain(t, r))
	})

	t.Run("errors take a turn", func(t *testing.T) {
		r := NewRoundRobin(
			&scripted{results: []result{{err: errTest}, {v: "a1"}}},
			&scripted{results: values("b0", "b1")},
		)
		_, err := r.Next(ctx)
		assert.ErrorIs(t, err, errTest)
		assert.Equal(t, []any{"b0", "a1", "b1"}, drain(t, r))
	})

	t.Run("reset", func(t *testing.T) {
		a := &scripted{results: values("a0")}
		b := &scripted{results: values("b0", "b1")}
		r := NewRoundRobin(a, b)
		drain(t, r)

		require.NoError(t, r.Reset(ctx, pipe.ResetState{Epoch: 1}))
		assert.Equal(t, 1, a.resets)
		assert.Equal(t, 1, b.resets)
		assert.Equal(t, []any{"a0", "b0", "b1"}, drain(t, r))
		assert.Equal(t, []pipe.Stage{a, b}, r.Inputs())
	})

	t.Run("Merge node", func(t *testing.T) {
		g := pipe.NewGraph()
		a := g.Add(source.Range(0, 2))
		b := g.Add(source.Slice("x", "y", "z"))
		g.Add(Merge(a, b))

		s, err := g.Build(pipe.BuildContext{})
		require.NoError(t, err)
		assert.Equal(t, []any{0, "x", 1, "y", "z"}, drain(t, s))
	})
}

func TestError(t *testing.T) {
	errTest := errors.New("boom")
	s := build(t, pipe.From(source.Range(0, 6)).Then((&Error{Err: errTest, Every: 3}).Node()), pipe.BuildContext{})

	var got []any
	for i := 0; i < 6; i++ {
		v, err := s.Next(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, errTest)
			got = append(got, "err")
			continue
		}
		got = append(got, v)
	}
	assert.Equal(t, []any{0, 1, "err", 3, 4, "err"}, got)
}

func TestNilAndDispatch(t *testing.T) {
	assert.False(t, Nil().NonReplicable)
	assert.True(t, Dispatch().NonReplicable)

	g := pipe.From(source.Range(0, 3)).Then(Nil()).Then(Dispatch()).Graph()
	id, ok := g.FindNonReplicable()
	require.True(t, ok)
	assert.Equal(t, g.Output(), id)

	s, err := g.Build(pipe.BuildContext{})
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2}, drain(t, s))
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bc := pipe.BuildContext{
		Worker: pipe.WorkerInfo{NumWorkers: 2, ID: 1},
		Logger: zap.New(core),
	}
	s := build(t, pipe.From(source.Range(0, 2)).Then(Logging("numbers")), bc)

	assert.Equal(t, []any{0, 1}, drain(t, s))
	require.NoError(t, s.Reset(context.Background(), pipe.ResetState{Seed: 7, Epoch: 1}))

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
		assert.Equal(t, "numbers", e.ContextMap()["stage"])
		assert.EqualValues(t, 1, e.ContextMap()["worker"])
	}
	assert.Equal(t, []string{"value", "value", "exhausted", "reset"}, msgs)
	assert.EqualValues(t, 2, logs.FilterMessage("exhausted").All()[0].ContextMap()["values"])
}

func TestBatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		batcher *Batcher
		want    []any
	}{
		{"keeps last", &Batcher{MaxItems: 3}, []any{[]any{0, 1, 2}, []any{3, 4, 5}, []any{6}}},
		{"drops last", &Batcher{MaxItems: 3, DropLast: true}, []any{[]any{0, 1, 2}, []any{3, 4, 5}}},
		{"size below one", &Batcher{}, []any{[]any{0}, []any{1}, []any{2}, []any{3}, []any{4}, []any{5}, []any{6}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := build(t, pipe.From(source.Range(0, 7)).Then(tt.batcher.Node()), pipe.BuildContext{})
			assert.Equal(t, tt.want, drain(t, s))
		})
	}

	t.Run("errors keep the pending batch", func(t *testing.T) {
		errTest := errors.New("boom")
		up := &scripted{results: []result{{v: 1}, {err: errTest}, {v: 2}, {v: 3}}}
		b := build(t, pipe.From(scriptedNode(up)).Then(Batch(2)), pipe.BuildContext{})

		_, err := b.Next(ctx)
		assert.ErrorIs(t, err, errTest)
		assert.Equal(t, []any{[]any{1, 2}, []any{3}}, drain(t, b))
	})

	t.Run("reset discards the pending batch", func(t *testing.T) {
		errTest := errors.New("boom")
		up := &scripted{results: []result{{v: 1}, {err: errTest}}}
		b := build(t, pipe.From(scriptedNode(up)).Then(Batch(2)), pipe.BuildContext{})

		_, err := b.Next(ctx)
		assert.ErrorIs(t, err, errTest)

		require.NoError(t, b.Reset(ctx, pipe.ResetState{Epoch: 1}))
		up.results = values("a", "b", "c")
		assert.Equal(t, []any{[]any{"a", "b"}, []any{"c"}}, drain(t, b))
	})
}

func scriptedNode(s *scripted) pipe.Node {
	return pipe.Node{
		Name:  "scripted",
		Build: func(pipe.BuildContext, []pipe.Stage) (pipe.Stage, error) { return s, nil },
	}
}
