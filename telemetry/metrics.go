package telemetry

// Histogram bucket definitions
var (
	// ApplyBuckets for in-memory record application (map updates, no IO)
	ApplyBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

	// WaitBuckets for producer read-your-writes waits
	WaitBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
)

// Replay Metrics
var (
	// RecordsProcessedTotal counts replayed records by keytype and result (applied, tombstone, skipped)
	RecordsProcessedTotal CounterVec = noopCounterVec{}

	// RecordDecodeFailuresTotal counts records skipped for an undecodable key
	RecordDecodeFailuresTotal Counter = NoopStat{}

	// PollErrorsTotal counts failed poll/watermark round trips
	PollErrorsTotal Counter = NoopStat{}

	// ApplyDurationSeconds measures per-record apply latency
	ApplyDurationSeconds Histogram = NoopStat{}

	// ReaderReady is 1 once the reader caught up to the high watermark
	ReaderReady Gauge = NoopStat{}

	// SchemaTopicOffset tracks the last applied topic offset
	SchemaTopicOffset Gauge = NoopStat{}

	// OffsetWaiters tracks goroutines blocked on WaitForOffset
	OffsetWaiters Gauge = NoopStat{}
)

// Materialized View Metrics
var (
	// SubjectsLive tracks subjects with at least one live version
	SubjectsLive Gauge = NoopStat{}

	// SchemasStored tracks entries of the global schema id table
	SchemasStored Gauge = NoopStat{}

	// SchemaVersionsStored tracks (subject, version) entries, soft-deleted included
	SchemaVersionsStored Gauge = NoopStat{}
)

// InitMetrics initializes all metrics. Must be called after InitializeTelemetry.
// Without a registry every metric stays a noop.
func InitMetrics() {
	RecordsProcessedTotal = NewCounterVec(
		"records_processed_total",
		"Schemas topic records replayed by keytype and result",
		[]string{"keytype", "result"},
	)
	RecordDecodeFailuresTotal = NewCounter(
		"record_decode_failures_total",
		"Records skipped because their key could not be decoded",
	)
	PollErrorsTotal = NewCounter(
		"poll_errors_total",
		"Failed poll or watermark round trips against the schemas topic",
	)
	ApplyDurationSeconds = NewHistogramWithBuckets(
		"apply_duration_seconds",
		"Latency of applying one record to the in-memory database",
		ApplyBuckets,
	)
	ReaderReady = NewGauge(
		"reader_ready",
		"1 once the schema reader has caught up to the high watermark",
	)
	SchemaTopicOffset = NewGauge(
		"schema_topic_offset",
		"Last applied schemas topic offset",
	)
	OffsetWaiters = NewGauge(
		"offset_waiters",
		"Goroutines currently blocked waiting for an offset to be applied",
	)

	SubjectsLive = NewGauge(
		"subjects_live",
		"Subjects with at least one live schema version",
	)
	SchemasStored = NewGauge(
		"schemas_stored",
		"Entries in the global schema id table",
	)
	SchemaVersionsStored = NewGauge(
		"schema_versions_stored",
		"Stored (subject, version) entries including soft-deleted ones",
	)
}
