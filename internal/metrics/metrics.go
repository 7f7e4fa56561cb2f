// Package metrics holds the Prometheus collectors shared by goloader
// components. Collectors are registered with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "goloader"

var (
	// ProtocolRequests counts requests handled by protocol servers, by
	// request kind.
	ProtocolRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "requests_total",
		Help:      "The total number of requests handled by queue protocol servers.",
	}, []string{"request"})

	// ProtocolFailures counts requests answered with a failure response.
	ProtocolFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "failures_total",
		Help:      "The total number of requests answered with a failure.",
	}, []string{"request"})

	// SchedulerIterations counts handler steps taken by cooperative
	// schedulers.
	SchedulerIterations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventloop",
		Name:      "iterations_total",
		Help:      "The total number of handler steps taken by schedulers.",
	})

	// PrefetchBuffered tracks the number of items waiting in prefetch
	// buffers, by buffer name.
	PrefetchBuffered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "prefetch",
		Name:      "buffered_items",
		Help:      "The number of items waiting in prefetch buffers.",
	}, []string{"buffer"})

	// WorkerTerminations counts worker shutdowns by result ("ok", "timeout",
	// "error").
	WorkerTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "terminations_total",
		Help:      "The total number of worker shutdowns by result.",
	}, []string{"result"})

	// DispatchedItems counts items distributed by dispatch processes.
	DispatchedItems = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "items_total",
		Help:      "The total number of items distributed to workers.",
	})

	// ReadingEpochs counts epochs started by reading services, by number of
	// workers.
	ReadingEpochs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reading",
		Name:      "epochs_total",
		Help:      "The total number of epochs started by reading services.",
	}, []string{"workers"})
)
