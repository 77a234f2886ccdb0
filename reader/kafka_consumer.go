package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaConsumer reads the schemas topic through a single-partition
// kafka.Conn. The reader owns the cursor, so no consumer group and no
// offset commits are involved; after a reconnect the connection is
// re-seeked to the next unread offset.
//
// Not safe for concurrent use. The replay goroutine is the only caller.
type KafkaConsumer struct {
	brokers       []string
	topic         string
	partition     int
	dialer        *kafka.Dialer
	pollTimeout   time.Duration
	maxBatchBytes int

	conn       *kafka.Conn
	nextOffset int64 // -1 until the first record or reconnect seek target
}

// KafkaConsumerConfig holds construction parameters for KafkaConsumer
type KafkaConsumerConfig struct {
	Brokers       []string
	Topic         string
	Partition     int
	ClientID      string
	DialTimeout   time.Duration
	PollTimeout   time.Duration
	MaxBatchBytes int
}

// NewKafkaConsumer dials the partition leader and positions the cursor at
// the beginning of the partition.
func NewKafkaConsumer(ctx context.Context, config KafkaConsumerConfig) (*KafkaConsumer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker address")
	}

	c := &KafkaConsumer{
		brokers:   config.Brokers,
		topic:     config.Topic,
		partition: config.Partition,
		dialer: &kafka.Dialer{
			ClientID:  config.ClientID,
			Timeout:   config.DialTimeout,
			DualStack: true,
		},
		pollTimeout:   config.PollTimeout,
		maxBatchBytes: config.MaxBatchBytes,
		nextOffset:    -1,
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *KafkaConsumer) connect(ctx context.Context) error {
	var lastErr error
	for _, broker := range c.brokers {
		conn, err := c.dialer.DialLeader(ctx, "tcp", broker, c.topic, c.partition)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("broker", broker).Msg("Failed to dial partition leader")
			continue
		}

		if c.nextOffset >= 0 {
			if _, err := conn.Seek(c.nextOffset, kafka.SeekAbsolute); err != nil {
				conn.Close()
				lastErr = err
				continue
			}
		} else {
			if _, err := conn.Seek(0, kafka.SeekStart); err != nil {
				conn.Close()
				lastErr = err
				continue
			}
		}

		c.conn = conn
		log.Info().
			Str("broker", broker).
			Str("topic", c.topic).
			Int("partition", c.partition).
			Int64("next_offset", c.nextOffset).
			Msg("Connected to schemas topic")
		return nil
	}
	return fmt.Errorf("failed to connect to any broker: %w", lastErr)
}

func (c *KafkaConsumer) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	return c.connect(ctx)
}

func (c *KafkaConsumer) reset() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Poll reads up to maxRecords records, waiting at most the poll timeout.
// Returning no records with a nil error means the cursor is at the end of
// the currently-available data.
func (c *KafkaConsumer) Poll(ctx context.Context, maxRecords int) ([]Record, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	deadline := time.Now().Add(c.pollTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.reset()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	batch := c.conn.ReadBatch(1, c.maxBatchBytes)

	records := make([]Record, 0, maxRecords)
	var readErr error
	for len(records) < maxRecords {
		msg, err := batch.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		records = append(records, Record{
			Key:       msg.Key,
			Value:     msg.Value,
			Offset:    msg.Offset,
			Timestamp: msg.Time,
		})
	}
	if err := batch.Close(); err != nil && readErr == nil {
		readErr = err
	}

	if len(records) > 0 {
		c.nextOffset = records[len(records)-1].Offset + 1
		return records, nil
	}

	if readErr != nil && !isBenignReadError(readErr) {
		c.reset()
		return nil, fmt.Errorf("read batch: %w", readErr)
	}
	return nil, nil
}

// GetWatermarkOffsets returns the partition's first offset and its log
// end offset (one past the newest record).
func (c *KafkaConsumer) GetWatermarkOffsets(ctx context.Context) (int64, int64, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return 0, 0, fmt.Errorf("connect: %w", err)
	}

	deadline := time.Now().Add(c.pollTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.reset()
		return 0, 0, fmt.Errorf("set deadline: %w", err)
	}

	low, high, err := c.conn.ReadOffsets()
	if err != nil {
		c.reset()
		return 0, 0, fmt.Errorf("read offsets: %w", err)
	}
	return low, high, nil
}

func (c *KafkaConsumer) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// isBenignReadError reports errors that just mean "no more data in this
// poll window" rather than a broken transport.
func isBenignReadError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, kafka.RequestTimedOut) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
