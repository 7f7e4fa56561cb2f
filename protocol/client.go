package protocol

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/eventloop"
	"github.com/MasterOfBinary/goloader/pipe"
)

// Client is the local stage standing in for a stage served on the other end
// of a Pair. It implements pipe.Stage and pipe.Pauser.
//
// A Client waits for responses in one of two ways. Without a scheduler, or
// with a disabled one, it blocks on the response queue. With an enabled
// scheduler it polls the response queue and runs Scheduler.Iteration in
// between, so that servers registered with the same scheduler can make
// progress on the same goroutine.
//
// A Client is not safe for concurrent use.
type Client struct {
	name   string
	pair   Pair
	sched  *eventloop.Scheduler
	logger *zap.Logger

	paused     bool
	exhausted  bool
	invalid    bool
	terminated bool
}

var (
	_ pipe.Stage  = (*Client)(nil)
	_ pipe.Pauser = (*Client)(nil)
)

// NewClient creates a client for the client side of pair.
func NewClient(name string, pair Pair) *Client {
	return &Client{
		name:   name,
		pair:   pair,
		logger: zap.NewNop(),
	}
}

// WithScheduler makes the client wait cooperatively using sched.
func (c *Client) WithScheduler(sched *eventloop.Scheduler) *Client {
	c.sched = sched
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger.With(zap.String("endpoint", c.name))
	return c
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// Pair returns the queue pair the client talks on.
func (c *Client) Pair() Pair { return c.pair }

// Paused reports whether the client is paused.
func (c *Client) Paused() bool { return c.paused }

// Terminated reports whether Terminate completed.
func (c *Client) Terminated() bool { return c.terminated }

// Next requests the next value. It returns pipe.ErrPaused without contacting
// the server while the client is paused, and pipe.ErrExhausted once the
// server reported the end of the epoch.
func (c *Client) Next(ctx context.Context) (any, error) {
	switch {
	case c.terminated:
		return nil, ErrTerminated
	case c.paused:
		return nil, pipe.ErrPaused
	case c.invalid:
		return nil, ErrInvalidated
	case c.exhausted:
		return nil, pipe.ErrExhausted
	}

	req := GetNextRequest{}
	resp, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}

	switch resp := resp.(type) {
	case ValueResponse:
		return resp.Value, nil
	case StopIterationResponse:
		c.exhausted = true
		return nil, pipe.ErrExhausted
	case InvalidateResponse:
		c.invalid = true
		return nil, ErrInvalidated
	case FailureResponse:
		return nil, &RemoteError{Endpoint: c.name, Err: resp.Err}
	default:
		return nil, &ProtocolError{Endpoint: c.name, Request: req, Response: resp}
	}
}

// Reset resets the remote stage and clears the local pause, exhaustion and
// invalidation flags.
func (c *Client) Reset(ctx context.Context, state pipe.ResetState) error {
	if err := c.control(ctx, ResetRequest{State: state}); err != nil {
		return err
	}
	c.paused = false
	c.exhausted = false
	c.invalid = false
	return nil
}

// Pause pauses the remote stage graph.
func (c *Client) Pause(ctx context.Context) error {
	if err := c.control(ctx, PauseRequest{}); err != nil {
		return err
	}
	c.paused = true
	return nil
}

// Resume resumes the remote stage graph.
func (c *Client) Resume(ctx context.Context) error {
	if err := c.control(ctx, ResumeRequest{}); err != nil {
		return err
	}
	c.paused = false
	return nil
}

// Limit caps the number of values the server hands out until the next
// reset. Zero stops the server at once; a negative n removes the cap.
func (c *Client) Limit(ctx context.Context, n int) error {
	return c.control(ctx, LimitRequest{N: n})
}

// Terminate stops the server. Responses to earlier requests that are still
// in the queue are skipped. Terminate is idempotent.
func (c *Client) Terminate(ctx context.Context) error {
	if c.terminated {
		return nil
	}

	if err := c.pair.Requests.Put(ctx, TerminateRequest{}); err != nil {
		return err
	}
	for {
		resp, err := c.receive(ctx)
		if err != nil {
			return err
		}
		if _, ok := resp.(TerminateResponse); ok {
			c.terminated = true
			return nil
		}
		c.logger.Debug("skipping stale response", zap.String("response", resp.Kind()))
	}
}

// control sends a request that is answered by its own acknowledgement or by
// a FailureResponse.
func (c *Client) control(ctx context.Context, req Request) error {
	if c.terminated {
		return ErrTerminated
	}

	resp, err := c.call(ctx, req)
	if err != nil {
		return err
	}
	if f, ok := resp.(FailureResponse); ok {
		return &RemoteError{Endpoint: c.name, Err: f.Err}
	}
	if resp.Kind() != req.Kind() {
		return &ProtocolError{Endpoint: c.name, Request: req, Response: resp}
	}
	return nil
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	if err := c.pair.Requests.Put(ctx, req); err != nil {
		return nil, err
	}
	return c.receive(ctx)
}

func (c *Client) receive(ctx context.Context) (Response, error) {
	if c.sched == nil || !c.sched.Enabled() {
		return c.pair.Responses.Get(ctx)
	}

	for {
		resp, err := c.pair.Responses.TryGet()
		if !errors.Is(err, ErrEmpty) {
			return resp, err
		}
		if err := c.sched.Iteration(ctx); err != nil {
			return nil, err
		}
	}
}
