package protocol

import (
	"go.uber.org/zap"

	"github.com/MasterOfBinary/goloader/eventloop"
	"github.com/MasterOfBinary/goloader/pipe"
)

// WrapHandler puts stage behind a new queue pair, registers a server for it
// with sched and returns a cooperative client for it. stage may return
// pipe.ErrNotAvailable; the server keeps the request pending and the client
// keeps running the scheduler until a value arrives.
func WrapHandler(sched *eventloop.Scheduler, name string, stage pipe.Stage, capacity int) *Client {
	return WrapHandlerWithLogger(sched, name, stage, capacity, nil)
}

// WrapHandlerWithLogger is WrapHandler with a logger for both ends.
func WrapHandlerWithLogger(sched *eventloop.Scheduler, name string, stage pipe.Stage, capacity int, logger *zap.Logger) *Client {
	pair := NewPair(name, capacity)
	srv := NewServer(name, stage, pair).WithLogger(logger)
	sched.Register(name, srv)
	return NewClient(name, pair).WithScheduler(sched).WithLogger(logger)
}
