package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/eventloop"
	"github.com/MasterOfBinary/goloader/internal/metrics"
	"github.com/MasterOfBinary/goloader/pipe"
)

// ResetHook runs before the stage is reset.
type ResetHook func(ctx context.Context, state pipe.ResetState) error

// Server serves a stage on the server side of a Pair.
//
// A Server can run in two modes. Serve blocks on the request queue and is
// meant for a goroutine of its own. Advance handles at most one request
// without blocking and is meant for a cooperative Scheduler; Server
// implements eventloop.Generator.
type Server struct {
	name      string
	stage     pipe.Stage
	pair      Pair
	logger    *zap.Logger
	resetHook ResetHook

	// pending is set while a GetNext is waiting for a value.
	pending    bool
	exhausted  bool
	paused     bool
	limited    bool
	remaining  int
	terminated bool
}

var _ eventloop.Generator = (*Server)(nil)

// NewServer creates a server for stage.
func NewServer(name string, stage pipe.Stage, pair Pair) *Server {
	return &Server{
		name:   name,
		stage:  stage,
		pair:   pair,
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger.
func (s *Server) WithLogger(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger.With(zap.String("endpoint", s.name))
	return s
}

// WithResetHook sets a hook run on every ResetRequest before the stage is
// reset. A hook error is reported to the client and the stage is not reset.
func (s *Server) WithResetHook(hook ResetHook) *Server {
	s.resetHook = hook
	return s
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// Terminated reports whether the server handled a TerminateRequest or lost
// its request queue.
func (s *Server) Terminated() bool { return s.terminated }

// Serve handles requests until a TerminateRequest arrives, the request
// queue is closed or ctx is cancelled. A stage returning ErrNotAvailable is
// retried with exponential backoff.
func (s *Server) Serve(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 0

	for !s.terminated {
		if s.pending {
			req, err := s.pair.Requests.TryGet()
			if err == nil {
				if err := s.interrupt(ctx, req); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, ErrClosed) {
				s.abandon()
				return nil
			}

			t := time.NewTimer(b.NextBackOff())
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			if _, err := s.produce(ctx); err != nil {
				return err
			}
			continue
		}

		b.Reset()
		req, err := s.pair.Requests.Get(ctx)
		if errors.Is(err, ErrClosed) {
			s.abandon()
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.handle(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Advance handles at most one request, or retries the pending GetNext. It
// never blocks on the queues.
func (s *Server) Advance(ctx context.Context) (eventloop.Step, error) {
	if s.terminated {
		return eventloop.StepDone, nil
	}

	req, err := s.pair.Requests.TryGet()
	switch {
	case err == nil && s.pending:
		if err := s.interrupt(ctx, req); err != nil {
			return eventloop.StepDone, err
		}
		return s.step(), nil
	case err == nil:
		if err := s.handle(ctx, req); err != nil {
			return eventloop.StepDone, err
		}
		return s.step(), nil
	case errors.Is(err, ErrClosed):
		s.abandon()
		return eventloop.StepDone, nil
	}

	if !s.pending {
		return eventloop.StepPending, nil
	}
	answered, err := s.produce(ctx)
	if err != nil {
		return eventloop.StepDone, err
	}
	if !answered {
		return eventloop.StepPending, nil
	}
	return eventloop.StepYielded, nil
}

func (s *Server) step() eventloop.Step {
	if s.terminated {
		return eventloop.StepDone
	}
	return eventloop.StepYielded
}

// interrupt handles a request that arrived while a GetNext was pending. The
// pending request is answered with an InvalidateResponse first so that no
// request is left without a response.
func (s *Server) interrupt(ctx context.Context, req Request) error {
	s.logger.Debug("request interrupts pending get", zap.String("request", req.Kind()))
	s.pending = false
	if err := s.respond(ctx, InvalidateResponse{}); err != nil {
		return err
	}
	return s.handle(ctx, req)
}

func (s *Server) handle(ctx context.Context, req Request) error {
	metrics.ProtocolRequests.WithLabelValues(req.Kind()).Inc()

	switch req := req.(type) {
	case GetNextRequest:
		switch {
		case s.paused:
			return s.fail(ctx, req, pipe.ErrPaused)
		case s.exhausted:
			return s.respond(ctx, InvalidateResponse{})
		case s.limited && s.remaining <= 0:
			s.exhausted = true
			return s.respond(ctx, StopIterationResponse{})
		}
		s.pending = true
		_, err := s.produce(ctx)
		return err

	case ResetRequest:
		if s.resetHook != nil {
			if err := s.resetHook(ctx, req.State); err != nil {
				return s.fail(ctx, req, err)
			}
		}
		if err := s.stage.Reset(ctx, req.State); err != nil {
			return s.fail(ctx, req, err)
		}
		s.exhausted = false
		s.paused = false
		s.limited = false
		s.remaining = 0
		return s.respond(ctx, ResetResponse{})

	case PauseRequest:
		if err := pipe.Pause(ctx, s.stage); err != nil {
			return s.fail(ctx, req, err)
		}
		s.paused = true
		return s.respond(ctx, PauseResponse{})

	case ResumeRequest:
		if err := pipe.Resume(ctx, s.stage); err != nil {
			return s.fail(ctx, req, err)
		}
		s.paused = false
		return s.respond(ctx, ResumeResponse{})

	case LimitRequest:
		s.limited = req.N >= 0
		s.remaining = req.N
		return s.respond(ctx, LimitResponse{})

	case TerminateRequest:
		if err := pipe.Close(s.stage); err != nil {
			s.logger.Warn("failed to close stage", zap.Error(err))
		}
		s.terminated = true
		s.logger.Debug("terminated")
		return s.respond(ctx, TerminateResponse{})

	default:
		return s.fail(ctx, req, &ProtocolError{Endpoint: s.name, Request: req})
	}
}

// produce tries to answer the pending GetNext. It reports false if the stage
// had no value available yet.
func (s *Server) produce(ctx context.Context) (bool, error) {
	v, err := s.stage.Next(ctx)
	switch {
	case errors.Is(err, pipe.ErrNotAvailable):
		return false, nil
	case errors.Is(err, pipe.ErrExhausted):
		s.pending = false
		s.exhausted = true
		return true, s.respond(ctx, StopIterationResponse{})
	case err != nil:
		s.pending = false
		return true, s.fail(ctx, GetNextRequest{}, err)
	}

	s.pending = false
	if s.limited {
		s.remaining--
	}
	return true, s.respond(ctx, ValueResponse{Value: v})
}

func (s *Server) fail(ctx context.Context, req Request, err error) error {
	metrics.ProtocolFailures.WithLabelValues(req.Kind()).Inc()
	s.logger.Debug("request failed", zap.String("request", req.Kind()), zap.Error(err))
	return s.respond(ctx, FailureResponse{Err: err})
}

func (s *Server) respond(ctx context.Context, resp Response) error {
	return s.pair.Responses.Put(ctx, resp)
}

// abandon shuts the server down after its client went away without
// terminating it.
func (s *Server) abandon() {
	s.logger.Warn("request queue closed, shutting down")
	if err := pipe.Close(s.stage); err != nil {
		s.logger.Warn("failed to close stage", zap.Error(err))
	}
	s.pending = false
	s.terminated = true
}
