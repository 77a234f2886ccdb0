package reader

import (
	"context"
	"time"
)

// Record is one raw schemas-topic record. Value is empty for tombstones.
type Record struct {
	Key       []byte
	Value     []byte
	Offset    int64
	Timestamp time.Time
}

// Consumer is the minimal capability the reader needs from the messaging
// client: ordered polls from a single partition plus its watermarks.
// Implemented by KafkaConsumer in production and by deterministic fakes
// in tests.
type Consumer interface {
	// Poll returns up to maxRecords records in partition order. An empty
	// result means no records were available within the poll window.
	Poll(ctx context.Context, maxRecords int) ([]Record, error)

	// GetWatermarkOffsets returns the partition's low watermark and high
	// watermark (one past the newest record).
	GetWatermarkOffsets(ctx context.Context) (low int64, high int64, err error)

	Close() error
}
