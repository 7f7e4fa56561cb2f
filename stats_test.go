package goloader_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "github.com/MasterOfBinary/goloader"
)

func TestBasicStatsCollector(t *testing.T) {
	c := NewBasicStatsCollector()
	start := c.GetStats().StartTime
	assert.False(t, start.IsZero())

	c.RecordEpochStart(1)
	c.RecordEpochComplete(1, 30*time.Millisecond)
	c.RecordEpochStart(2)
	c.RecordEpochComplete(2, 10*time.Millisecond)
	c.RecordEpochStart(3)
	c.RecordPause()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordItem()
			if i%2 == 0 {
				c.RecordError()
			}
		}()
	}
	wg.Wait()

	stats := c.GetStats()
	assert.EqualValues(t, 3, stats.EpochsStarted)
	assert.EqualValues(t, 2, stats.EpochsCompleted)
	assert.EqualValues(t, 10, stats.ItemsRead)
	assert.EqualValues(t, 5, stats.Errors)
	assert.EqualValues(t, 1, stats.Pauses)
	assert.Equal(t, 40*time.Millisecond, stats.TotalEpochTime)
	assert.Equal(t, 10*time.Millisecond, stats.MinEpochTime)
	assert.Equal(t, 30*time.Millisecond, stats.MaxEpochTime)
	assert.Equal(t, start, stats.StartTime)
	assert.False(t, stats.LastUpdateTime.Before(start))
}

func TestNoOpStatsCollector(t *testing.T) {
	c := &NoOpStatsCollector{}
	c.RecordEpochStart(1)
	c.RecordItem()
	c.RecordError()
	c.RecordPause()
	c.RecordEpochComplete(1, time.Second)
	assert.Equal(t, Stats{}, c.GetStats())
}
