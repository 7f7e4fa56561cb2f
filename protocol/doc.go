/*
Package protocol implements the request/response protocol that connects a
stage to its consumer across a worker boundary.

Two bounded queues form a Pair: the client puts Requests on one and reads
Responses from the other. Every request gets exactly one response, in order:

	GetNextRequest   -> ValueResponse | StopIterationResponse | InvalidateResponse | FailureResponse
	ResetRequest     -> ResetResponse | FailureResponse
	PauseRequest     -> PauseResponse | FailureResponse
	ResumeRequest    -> ResumeResponse | FailureResponse
	LimitRequest     -> LimitResponse
	TerminateRequest -> TerminateResponse

Once a server has answered StopIterationResponse it answers every further
GetNextRequest with InvalidateResponse until the next ResetRequest. Errors
raised by the served stage are data: they travel as FailureResponse and the
client returns them as a *RemoteError.

A Server either blocks in Serve on a goroutine of its own, or is advanced one
step at a time by an eventloop.Scheduler. A Client implements pipe.Stage, so
the far side of a pair can be used anywhere a local stage can.
*/
package protocol
