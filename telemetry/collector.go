package telemetry

import (
	"sync"
	"time"
)

// DatabaseStats is implemented by the in-memory database.
type DatabaseStats interface {
	NumSubjects() int
	NumSchemas() int
	NumSchemaVersions() int
}

// WatcherStats is implemented by the offset watcher.
type WatcherStats interface {
	GreatestOffset() int64
	Waiters() int
}

// MetricsCollector periodically samples database and watcher state into gauges
type MetricsCollector struct {
	database DatabaseStats
	watcher  WatcherStats
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(database DatabaseStats, watcher WatcherStats, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		database: database,
		watcher:  watcher,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.database != nil {
		SubjectsLive.Set(float64(mc.database.NumSubjects()))
		SchemasStored.Set(float64(mc.database.NumSchemas()))
		SchemaVersionsStored.Set(float64(mc.database.NumSchemaVersions()))
	}

	if mc.watcher != nil {
		SchemaTopicOffset.Set(float64(mc.watcher.GreatestOffset()))
		OffsetWaiters.Set(float64(mc.watcher.Waiters()))
	}
}
