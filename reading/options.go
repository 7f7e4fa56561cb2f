package reading

import (
	"time"

	"github.com/MasterOfBinary/goloader/dispatch"
	"github.com/MasterOfBinary/goloader/internal/config"
	"github.com/MasterOfBinary/goloader/worker"
)

const (
	// DefaultWorkerPrefetch is the depth of the prefetch buffer appended to
	// the graph inside each worker.
	DefaultWorkerPrefetch = 10

	// DefaultMainPrefetch is the depth of the prefetch buffer on top of the
	// merged worker outputs.
	DefaultMainPrefetch = 10

	// DefaultDispatchBuffer is the number of values the dispatch process
	// parks per worker.
	DefaultDispatchBuffer = dispatch.DefaultBufferSize
)

// Options configures a MultiProcessing service.
type Options struct {
	// NumWorkers is the number of worker processes. Zero reads in-process.
	NumWorkers int

	// WorkerPrefetch and MainPrefetch are prefetch depths. Zero disables the
	// buffer.
	WorkerPrefetch int
	MainPrefetch   int

	// QueueCapacity is the capacity of every protocol queue.
	QueueCapacity int

	// DispatchBuffer is the number of values parked per worker in the
	// dispatch process. It is raised to 2*WorkerPrefetch+2 if lower so that
	// pausing every worker cannot stall the dispatcher.
	DispatchBuffer int

	// JoinTimeout bounds the shutdown handshake of each process.
	JoinTimeout time.Duration

	// Init runs once per worker after its graph is built. With zero
	// workers it runs once in-process.
	Init worker.InitFunc

	// Reset runs at the start of every epoch, before the stages are reset.
	Reset worker.ResetFunc
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		WorkerPrefetch: DefaultWorkerPrefetch,
		MainPrefetch:   DefaultMainPrefetch,
		DispatchBuffer: DefaultDispatchBuffer,
		JoinTimeout:    worker.DefaultJoinTimeout,
	}
}

// FromConfig maps environment configuration to options.
func FromConfig(cfg *config.Config) Options {
	return Options{
		NumWorkers:     cfg.NumWorkers,
		WorkerPrefetch: cfg.WorkerPrefetch,
		MainPrefetch:   cfg.MainPrefetch,
		QueueCapacity:  cfg.QueueCapacity,
		DispatchBuffer: cfg.DispatchBuffer,
		JoinTimeout:    cfg.JoinTimeout,
	}
}

func (o Options) normalized() Options {
	o.NumWorkers = max(o.NumWorkers, 0)
	o.WorkerPrefetch = max(o.WorkerPrefetch, 0)
	o.MainPrefetch = max(o.MainPrefetch, 0)
	if o.DispatchBuffer < 1 {
		o.DispatchBuffer = DefaultDispatchBuffer
	}
	o.DispatchBuffer = max(o.DispatchBuffer, 2*o.WorkerPrefetch+2)
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = worker.DefaultJoinTimeout
	}
	return o
}
