package protocol_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MasterOfBinary/goloader/eventloop"
	"github.com/MasterOfBinary/goloader/pipe"
	. "github.com/MasterOfBinary/goloader/protocol"
)

// sliceStage yields its values, then ErrExhausted. Every value equal to
// failOn is replaced by an error.
type sliceStage struct {
	values  []any
	pos     int
	failOn  any
	resets  []pipe.ResetState
	paused  bool
	closed  bool
	pending int // ErrNotAvailable answers left before each value
	waits   int
}

var errBadValue = errors.New("bad value")

func (s *sliceStage) Next(context.Context) (any, error) {
	if s.waits < s.pending {
		s.waits++
		return nil, pipe.ErrNotAvailable
	}
	s.waits = 0
	if s.pos >= len(s.values) {
		return nil, pipe.ErrExhausted
	}
	v := s.values[s.pos]
	s.pos++
	if s.failOn != nil && v == s.failOn {
		return nil, errBadValue
	}
	return v, nil
}

func (s *sliceStage) Reset(_ context.Context, state pipe.ResetState) error {
	s.pos = 0
	s.resets = append(s.resets, state)
	return nil
}

func (s *sliceStage) Pause(context.Context) error  { s.paused = true; return nil }
func (s *sliceStage) Resume(context.Context) error { s.paused = false; return nil }
func (s *sliceStage) Close() error                 { s.closed = true; return nil }

// serve runs a blocking server for stage and returns its client and a
// function that waits for Serve to return.
func serve(t *testing.T, stage pipe.Stage) (*Client, func() error) {
	t.Helper()
	pair := NewPair(t.Name(), 4)
	srv := NewServer(t.Name(), stage, pair)
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background())
	}()
	return NewClient(t.Name(), pair), func() error { return <-done }
}

func TestClientServer_Values(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	stage := &sliceStage{values: []any{1, 2, 3}}
	c, wait := serve(t, stage)

	values, err := pipe.Drain(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, values)

	// Exhaustion sticks until reset.
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, pipe.ErrExhausted)

	require.NoError(t, c.Reset(ctx, pipe.ResetState{Seed: 7, Epoch: 2}))
	values, err = pipe.Drain(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, values)

	require.NoError(t, c.Terminate(ctx))
	require.NoError(t, wait())
	assert.True(t, stage.closed)
	assert.Equal(t, []pipe.ResetState{{Seed: 7, Epoch: 2}}, stage.resets)
}

func TestServer_InvalidateAfterStopIteration(t *testing.T) {
	ctx := context.Background()
	pair := NewPair("raw", 4)
	srv := NewServer("raw", &sliceStage{values: []any{"a"}}, pair)

	for i := 0; i < 3; i++ {
		require.NoError(t, pair.Requests.Put(ctx, GetNextRequest{}))
		_, err := srv.Advance(ctx)
		require.NoError(t, err)
	}

	var got []Response
	for pair.Responses.Len() > 0 {
		resp, err := pair.Responses.Get(ctx)
		require.NoError(t, err)
		got = append(got, resp)
	}
	assert.Equal(t, []Response{
		ValueResponse{Value: "a"},
		StopIterationResponse{},
		InvalidateResponse{},
	}, got)
}

func TestClient_Invalidated(t *testing.T) {
	ctx := context.Background()
	pair := NewPair("raw", 4)
	c := NewClient("raw", pair)

	require.NoError(t, pair.Responses.Put(ctx, InvalidateResponse{}))
	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, ErrInvalidated)

	// Sticky without contacting the server again.
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrInvalidated)
	assert.Equal(t, 1, pair.Requests.Len())
}

func TestClientServer_Failure(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	c, wait := serve(t, &sliceStage{values: []any{1, 2, 3}, failOn: 2})

	v, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = c.Next(ctx)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.ErrorIs(t, err, errBadValue)

	// A failure does not end the sequence.
	v, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	require.NoError(t, c.Terminate(ctx))
	require.NoError(t, wait())
}

func TestClientServer_PauseResume(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	stage := &sliceStage{values: []any{1, 2, 3}}
	c, wait := serve(t, stage)

	v, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, c.Pause(ctx))
	assert.True(t, c.Paused())

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, pipe.ErrPaused)

	require.NoError(t, c.Resume(ctx))
	values, err := pipe.Drain(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []any{2, 3}, values)

	require.NoError(t, c.Terminate(ctx))
	require.NoError(t, wait())
}

func TestServer_GetNextWhilePaused(t *testing.T) {
	ctx := context.Background()
	pair := NewPair("raw", 4)
	stage := &sliceStage{values: []any{1}}
	srv := NewServer("raw", stage, pair)

	require.NoError(t, pair.Requests.Put(ctx, PauseRequest{}))
	require.NoError(t, pair.Requests.Put(ctx, GetNextRequest{}))
	for i := 0; i < 2; i++ {
		_, err := srv.Advance(ctx)
		require.NoError(t, err)
	}
	assert.True(t, stage.paused)

	resp, err := pair.Responses.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, PauseResponse{}, resp)

	resp, err = pair.Responses.Get(ctx)
	require.NoError(t, err)
	f, ok := resp.(FailureResponse)
	require.True(t, ok)
	assert.ErrorIs(t, f.Err, pipe.ErrPaused)
}

func TestClientServer_Limit(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	c, wait := serve(t, &sliceStage{values: []any{1, 2, 3, 4}})

	require.NoError(t, c.Limit(ctx, 2))
	values, err := pipe.Drain(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, values)

	// Reset clears the limit.
	require.NoError(t, c.Reset(ctx, pipe.ResetState{}))
	values, err = pipe.Drain(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, 4}, values)

	require.NoError(t, c.Reset(ctx, pipe.ResetState{}))
	require.NoError(t, c.Limit(ctx, 0))
	values, err = pipe.Drain(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, values)

	// A negative limit removes the cap.
	require.NoError(t, c.Reset(ctx, pipe.ResetState{}))
	require.NoError(t, c.Limit(ctx, 1))
	require.NoError(t, c.Limit(ctx, -1))
	values, err = pipe.Drain(ctx, c)
	require.NoError(t, err)
	assert.Len(t, values, 4)

	require.NoError(t, c.Terminate(ctx))
	require.NoError(t, wait())
}

func TestClient_TerminateIdempotentAndSkipsStale(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	pair := NewPair("stale", 4)
	srv := NewServer("stale", &sliceStage{values: []any{1, 2}}, pair)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// A request whose response is never read by the client.
	require.NoError(t, pair.Requests.Put(ctx, GetNextRequest{}))

	c := NewClient("stale", pair)
	require.NoError(t, c.Terminate(ctx))
	require.NoError(t, c.Terminate(ctx))
	assert.True(t, c.Terminated())
	require.NoError(t, <-done)
	assert.True(t, srv.Terminated())

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, c.Pause(ctx), ErrTerminated)
}

func TestServer_TerminateAnswersPendingGet(t *testing.T) {
	ctx := context.Background()
	pair := NewPair("pending", 4)
	stage := &sliceStage{values: []any{1}, pending: 1 << 30}
	srv := NewServer("pending", stage, pair)

	require.NoError(t, pair.Requests.Put(ctx, GetNextRequest{}))
	step, err := srv.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, eventloop.StepYielded, step)

	step, err = srv.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, eventloop.StepPending, step)
	assert.Equal(t, 0, pair.Responses.Len())

	require.NoError(t, pair.Requests.Put(ctx, TerminateRequest{}))
	step, err = srv.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, eventloop.StepDone, step)

	resp, err := pair.Responses.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, InvalidateResponse{}, resp)
	resp, err = pair.Responses.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, TerminateResponse{}, resp)
	assert.True(t, stage.closed)

	step, err = srv.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, eventloop.StepDone, step)
}

func TestServer_ExitsWhenRequestsClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	pair := NewPair("closed", 1)
	stage := &sliceStage{}
	srv := NewServer("closed", stage, pair)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	pair.Close()
	require.NoError(t, <-done)
	assert.True(t, stage.closed)
}

func TestServer_ResetHook(t *testing.T) {
	ctx := context.Background()
	hookErr := errors.New("hook failed")

	var seen []pipe.ResetState
	stage := &sliceStage{values: []any{1}}
	pair := NewPair("hook", 2)
	srv := NewServer("hook", stage, pair).WithResetHook(func(_ context.Context, state pipe.ResetState) error {
		seen = append(seen, state)
		if state.Epoch == 2 {
			return hookErr
		}
		return nil
	})
	sched := eventloop.New()
	sched.Register("hook", srv)
	c := NewClient("hook", pair).WithScheduler(sched)

	require.NoError(t, c.Reset(ctx, pipe.ResetState{Epoch: 1}))
	err := c.Reset(ctx, pipe.ResetState{Epoch: 2})
	assert.ErrorIs(t, err, hookErr)

	assert.Len(t, seen, 2)
	assert.Equal(t, []pipe.ResetState{{Epoch: 1}}, stage.resets)
}

func TestWrapHandler_Chain(t *testing.T) {
	ctx := context.Background()
	sched := eventloop.New()

	// inner is only ready every other call, so the outer server has to wait
	// for it by running the scheduler from inside its own step.
	inner := WrapHandler(sched, "inner", &sliceStage{values: []any{1, 2, 3}, pending: 1}, 1)
	outer := WrapHandler(sched, "outer", inner, 1)

	values, err := pipe.Drain(ctx, outer)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, values)
	assert.Equal(t, 0, sched.Depth())
	assert.Empty(t, sched.Stack())
}
