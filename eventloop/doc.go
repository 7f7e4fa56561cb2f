/*
Package eventloop implements a cooperative, single-goroutine scheduler.

Handlers are resumable units of work registered with a Scheduler. Each call to
Iteration advances exactly one handler by one step. Iteration is reentrant: a
handler that is waiting for another handler may call Iteration from inside its
own step, which lets other handlers make progress on the same goroutine. The
scheduler keeps a stack of the handlers currently executing and never resumes a
handler that is already on the stack, so a handler can not be re-entered while
it is suspended in a nested Iteration.

Every nesting depth has its own round-robin cursor, so a nested Iteration does
not disturb the fairness of the outer one.

A Scheduler is not safe for concurrent use. It is meant to be driven by one
goroutine, typically the goroutine of a dispatch process or the consumer.
*/
package eventloop
