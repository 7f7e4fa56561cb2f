package protocol

import "github.com/MasterOfBinary/goloader/pipe"

// Request is a message sent from a client to a server. The set of requests
// is closed: only the types in this package implement it.
type Request interface {
	// Kind returns a short, stable name for logs and metrics.
	Kind() string
	request()
}

// Response is a message sent from a server to a client. Every request is
// answered by exactly one response, in order.
type Response interface {
	Kind() string
	response()
}

type (
	// GetNextRequest asks for the next value.
	GetNextRequest struct{}

	// ResetRequest re-arms the server's stage for a new epoch.
	ResetRequest struct {
		State pipe.ResetState
	}

	// PauseRequest pauses background work in the server's stage graph.
	PauseRequest struct{}

	// ResumeRequest undoes a PauseRequest.
	ResumeRequest struct{}

	// LimitRequest caps the number of values served until the next reset.
	// N < 0 removes the cap.
	LimitRequest struct {
		N int
	}

	// TerminateRequest stops the server for good.
	TerminateRequest struct{}
)

func (GetNextRequest) Kind() string   { return "get_next" }
func (ResetRequest) Kind() string     { return "reset" }
func (PauseRequest) Kind() string     { return "pause" }
func (ResumeRequest) Kind() string    { return "resume" }
func (LimitRequest) Kind() string     { return "limit" }
func (TerminateRequest) Kind() string { return "terminate" }

func (GetNextRequest) request()   {}
func (ResetRequest) request()     {}
func (PauseRequest) request()     {}
func (ResumeRequest) request()    {}
func (LimitRequest) request()     {}
func (TerminateRequest) request() {}

type (
	// ValueResponse carries one value.
	ValueResponse struct {
		Value any
	}

	// StopIterationResponse reports that the sequence is exhausted for the
	// current epoch.
	StopIterationResponse struct{}

	// InvalidateResponse answers a GetNext that can no longer be served:
	// the sequence was already exhausted, or the server is shutting down.
	InvalidateResponse struct{}

	// FailureResponse carries an error raised while serving a request.
	FailureResponse struct {
		Err error
	}

	// ResetResponse acknowledges a ResetRequest.
	ResetResponse struct{}

	// PauseResponse acknowledges a PauseRequest once the stages stopped.
	PauseResponse struct{}

	// ResumeResponse acknowledges a ResumeRequest.
	ResumeResponse struct{}

	// LimitResponse acknowledges a LimitRequest.
	LimitResponse struct{}

	// TerminateResponse is the last response of a server.
	TerminateResponse struct{}
)

func (ValueResponse) Kind() string         { return "value" }
func (StopIterationResponse) Kind() string { return "stop_iteration" }
func (InvalidateResponse) Kind() string    { return "invalidate" }
func (FailureResponse) Kind() string       { return "failure" }
func (ResetResponse) Kind() string         { return "reset" }
func (PauseResponse) Kind() string         { return "pause" }
func (ResumeResponse) Kind() string        { return "resume" }
func (LimitResponse) Kind() string         { return "limit" }
func (TerminateResponse) Kind() string     { return "terminate" }

func (ValueResponse) response()         {}
func (StopIterationResponse) response() {}
func (InvalidateResponse) response()    {}
func (FailureResponse) response()       {}
func (ResetResponse) response()         {}
func (PauseResponse) response()         {}
func (ResumeResponse) response()        {}
func (LimitResponse) response()         {}
func (TerminateResponse) response()     {}
