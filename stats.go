package goloader

import (
	"sync"
	"sync/atomic"
	"time"
)

// StatsCollector defines the interface for collecting metrics while a Loader
// is read. Implementations can store metrics in memory, send them to
// monitoring systems, or export them to various formats. If none is given,
// a BasicStatsCollector is used.
type StatsCollector interface {
	// RecordEpochStart is called when an epoch starts.
	RecordEpochStart(epoch int)

	// RecordEpochComplete is called when an epoch is exhausted. duration is
	// the time from the start of the epoch.
	RecordEpochComplete(epoch int, duration time.Duration)

	// RecordItem is called for each value returned to the consumer.
	RecordItem()

	// RecordError is called for each error returned to the consumer, other
	// than the end of an epoch.
	RecordError()

	// RecordPause is called when reading is paused.
	RecordPause()

	// GetStats returns a snapshot of the current statistics.
	GetStats() Stats
}

// Stats holds aggregated statistics about a Loader.
type Stats struct {
	// EpochsStarted is the total number of epochs that have started.
	EpochsStarted uint64

	// EpochsCompleted is the total number of epochs read to the end.
	EpochsCompleted uint64

	// ItemsRead is the total number of values returned.
	ItemsRead uint64

	// Errors is the total number of errors returned.
	Errors uint64

	// Pauses is the total number of pauses.
	Pauses uint64

	// TotalEpochTime is the cumulative time spent in completed epochs.
	TotalEpochTime time.Duration

	// MinEpochTime is the shortest completed epoch.
	MinEpochTime time.Duration

	// MaxEpochTime is the longest completed epoch.
	MaxEpochTime time.Duration

	// StartTime is when statistics collection began.
	StartTime time.Time

	// LastUpdateTime is when statistics were last updated.
	LastUpdateTime time.Time
}

// NoOpStatsCollector is a stats collector that discards all metrics.
type NoOpStatsCollector struct{}

// RecordEpochStart implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordEpochStart(int) {}

// RecordEpochComplete implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordEpochComplete(int, time.Duration) {}

// RecordItem implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordItem() {}

// RecordError implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordError() {}

// RecordPause implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordPause() {}

// GetStats implements the StatsCollector interface.
func (n *NoOpStatsCollector) GetStats() Stats {
	return Stats{}
}

// BasicStatsCollector is a simple in-memory implementation of
// StatsCollector. All operations are thread-safe.
type BasicStatsCollector struct {
	mu    sync.RWMutex
	stats Stats

	// Atomic counters for lock-free updates
	epochsStarted   uint64
	epochsCompleted uint64
	itemsRead       uint64
	errors          uint64
	pauses          uint64
}

// NewBasicStatsCollector creates a new BasicStatsCollector.
func NewBasicStatsCollector() *BasicStatsCollector {
	now := time.Now()
	return &BasicStatsCollector{
		stats: Stats{
			StartTime:      now,
			LastUpdateTime: now,
		},
	}
}

// RecordEpochStart implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordEpochStart(int) {
	atomic.AddUint64(&b.epochsStarted, 1)
	b.touch()
}

// RecordEpochComplete implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordEpochComplete(_ int, duration time.Duration) {
	completed := atomic.AddUint64(&b.epochsCompleted, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.LastUpdateTime = time.Now()
	b.stats.TotalEpochTime += duration

	if duration < b.stats.MinEpochTime || completed == 1 {
		b.stats.MinEpochTime = duration
	}
	if duration > b.stats.MaxEpochTime {
		b.stats.MaxEpochTime = duration
	}
}

// RecordItem implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordItem() {
	atomic.AddUint64(&b.itemsRead, 1)
}

// RecordError implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordError() {
	atomic.AddUint64(&b.errors, 1)
}

// RecordPause implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordPause() {
	atomic.AddUint64(&b.pauses, 1)
	b.touch()
}

func (b *BasicStatsCollector) touch() {
	b.mu.Lock()
	b.stats.LastUpdateTime = time.Now()
	b.mu.Unlock()
}

// GetStats implements the StatsCollector interface.
// It returns a snapshot of the current statistics.
func (b *BasicStatsCollector) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := b.stats
	stats.EpochsStarted = atomic.LoadUint64(&b.epochsStarted)
	stats.EpochsCompleted = atomic.LoadUint64(&b.epochsCompleted)
	stats.ItemsRead = atomic.LoadUint64(&b.itemsRead)
	stats.Errors = atomic.LoadUint64(&b.errors)
	stats.Pauses = atomic.LoadUint64(&b.pauses)
	return stats
}
