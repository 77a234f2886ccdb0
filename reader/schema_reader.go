package reader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amstee/karapace/cfg"
	"github.com/amstee/karapace/db"
	"github.com/amstee/karapace/notify"
	"github.com/amstee/karapace/telemetry"

	"github.com/rs/zerolog/log"
)

// Cursor sentinels. The cursor holds the offset of the last applied
// record, so -1 means "positioned before an empty or fully-compacted
// beginning" and -2 means the beginning offset was never resolved.
const (
	OffsetEmpty         int64 = -1
	OffsetUninitialized int64 = -2
)

// Batch sizes for the replay loop. Large batches drain the backlog fast
// during catch-up; once ready the reader consumes one record at a time to
// bound the latency impact on request handling.
const (
	maxRecordsOnStartup    = 1000
	maxRecordsAfterStartup = 1
)

// State represents the replay progress of a reader instance
type State int32

const (
	StateStarting State = iota
	StateCatchingUp
	StateReady
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateCatchingUp:
		return "CATCHING_UP"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// LeadershipProvider reports whether this node currently holds the
// master role. The reader only consults the signal; replay is identical
// on leaders and followers.
type LeadershipProvider interface {
	IsLeader() bool
}

// SchemaReader replays the schemas topic into the in-memory database.
// Exactly one goroutine runs the poll-decode-apply loop; it is the sole
// mutator of the database and the sole caller of OffsetSeen.
type SchemaReader struct {
	consumer Consumer
	database *db.InMemoryDatabase
	watcher  *OffsetWatcher
	master   LeadershipProvider
	hub      *notify.Hub

	// Owned by the replay goroutine
	offset     int64
	maxRecords int

	state atomic.Int32
	ready atomic.Bool

	readyCh   chan struct{}
	readyOnce sync.Once

	retryBackoff time.Duration
	maxBackoff   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSchemaReader creates a reader over the given consumer. master and
// hub may be nil.
func NewSchemaReader(consumer Consumer, database *db.InMemoryDatabase, watcher *OffsetWatcher, master LeadershipProvider, hub *notify.Hub) *SchemaReader {
	ctx, cancel := context.WithCancel(context.Background())
	r := &SchemaReader{
		consumer:     consumer,
		database:     database,
		watcher:      watcher,
		master:       master,
		hub:          hub,
		offset:       OffsetUninitialized,
		maxRecords:   maxRecordsOnStartup,
		readyCh:      make(chan struct{}),
		retryBackoff: time.Duration(cfg.Config.Reader.RetryBackoffMS) * time.Millisecond,
		maxBackoff:   time.Duration(cfg.Config.Reader.MaxBackoffMS) * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
	r.state.Store(int32(StateStarting))
	return r
}

// Ready reports whether replay has caught up with the high watermark.
// Transitions false to true exactly once and never reverts.
func (r *SchemaReader) Ready() bool {
	return r.ready.Load()
}

// State returns the current replay state
func (r *SchemaReader) State() State {
	return State(r.state.Load())
}

func (r *SchemaReader) setState(state State) {
	old := State(r.state.Swap(int32(state)))
	if old != state {
		log.Info().
			Str("from", old.String()).
			Str("to", state.String()).
			Msg("Schema reader state changed")
	}
}

// WaitReady blocks until the reader reaches READY or ctx expires.
func (r *SchemaReader) WaitReady(ctx context.Context) error {
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForOffset blocks until the record at offset has been applied,
// giving producers a read-your-writes barrier. False means "not yet
// visible", never an error.
func (r *SchemaReader) WaitForOffset(offset int64, timeout time.Duration) bool {
	return r.watcher.WaitForOffset(offset, timeout)
}

// Start begins the replay loop in a background goroutine
func (r *SchemaReader) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts polling, releases the consumer and wakes pending waiters.
// The running record, if any, is fully applied before the loop exits.
func (r *SchemaReader) Stop() {
	r.cancel()
	r.wg.Wait()

	if err := r.consumer.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close schemas topic consumer")
	}
	r.watcher.Close()
	log.Info().Int64("offset", r.offset).Msg("Schema reader stopped")
}

func (r *SchemaReader) run() {
	defer r.wg.Done()

	backoff := r.retryBackoff

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		if r.offset == OffsetUninitialized {
			if !r.resolveStartOffset() {
				r.sleep(&backoff)
				continue
			}
			r.setState(StateCatchingUp)
		}

		if err := r.handleRecords(r.ctx); err != nil {
			if r.ctx.Err() != nil {
				return
			}
			telemetry.PollErrorsTotal.Inc()
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("Schemas topic replay round failed")
			r.sleep(&backoff)
			continue
		}

		// Reset backoff after a successful round
		backoff = r.retryBackoff
	}
}

func (r *SchemaReader) sleep(backoff *time.Duration) {
	select {
	case <-time.After(*backoff):
	case <-r.ctx.Done():
	}
	*backoff = min(*backoff*2, r.maxBackoff)
}

// resolveStartOffset seeds the cursor to one before the partition's low
// watermark. An empty topic yields OffsetEmpty; a compacted beginning
// yields lowWatermark-1. Until the watermarks resolve the reader can
// never become ready.
func (r *SchemaReader) resolveStartOffset() bool {
	low, _, err := r.consumer.GetWatermarkOffsets(r.ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to resolve beginning offset of schemas topic")
		return false
	}

	r.offset = low - 1
	log.Info().Int64("offset", r.offset).Msg("Resolved replay start offset")
	return true
}

// handleRecords executes one round of the replay loop: read the high
// watermark, poll one batch, apply it in partition order, then evaluate
// readiness once a round drains empty. The cursor advances only after a
// record has been fully processed - applied or deliberately skipped.
func (r *SchemaReader) handleRecords(ctx context.Context) error {
	_, high, err := r.consumer.GetWatermarkOffsets(ctx)
	if err != nil {
		return fmt.Errorf("get watermark offsets: %w", err)
	}

	records, err := r.consumer.Poll(ctx, r.maxRecords)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	for _, rec := range records {
		r.processRecord(rec)
		r.offset = rec.Offset
		r.watcher.OffsetSeen(rec.Offset)
	}

	// The offset range may be non-contiguous after compaction, so the
	// cursor is compared against the watermark rather than a record
	// count. high is one past the newest record.
	if !r.ready.Load() && len(records) == 0 && r.offset >= high-1 {
		r.markReady()
	}

	return nil
}

func (r *SchemaReader) markReady() {
	r.ready.Store(true)
	r.maxRecords = maxRecordsAfterStartup
	r.setState(StateReady)
	telemetry.ReaderReady.Set(1)

	isLeader := false
	if r.master != nil {
		isLeader = r.master.IsLeader()
	}
	log.Info().
		Int64("offset", r.offset).
		Bool("master", isLeader).
		Msg("Schemas topic replay caught up")

	r.readyOnce.Do(func() { close(r.readyCh) })
}

// processRecord decodes and applies one record. Decode failures are
// swallowed here so the caller always advances the cursor past the
// record.
func (r *SchemaReader) processRecord(rec Record) {
	key, err := ParseKey(rec.Key)
	if err != nil {
		telemetry.RecordDecodeFailuresTotal.Inc()
		log.Warn().Err(err).Int64("offset", rec.Offset).Msg("Skipping record with undecodable key")
		return
	}

	start := time.Now()

	switch key.Type {
	case MessageTypeSchema:
		r.applySchema(key, rec)
	case MessageTypeConfig:
		r.applyConfig(key, rec)
	case MessageTypeDeleteSubject:
		r.applyDeleteSubject(key, rec)
	case MessageTypeNoop, MessageTypeUnknown:
		telemetry.RecordsProcessedTotal.With(key.Type.String(), "skipped").Inc()
		return
	}

	telemetry.ApplyDurationSeconds.Observe(time.Since(start).Seconds())
}

func (r *SchemaReader) applySchema(key RecordKey, rec Record) {
	val, err := parseSchemaValue(rec.Value)
	if err != nil {
		// Tombstone, or a value only compaction could have mangled:
		// either way the keyed version is gone for good.
		if !r.database.HardDeleteVersion(key.Subject, key.Version) {
			log.Warn().
				Str("subject", string(key.Subject)).
				Int("version", int(key.Version)).
				Msg("Hard delete: version did not exist, should have")
		}
		telemetry.RecordsProcessedTotal.With("SCHEMA", "tombstone").Inc()
		r.signal(string(key.Subject), rec.Offset)
		return
	}

	// Subject and version come from the value: a compacted topic can
	// retain a record whose value belongs to a different subject than
	// the key suggests, and the value is authoritative.
	r.database.InsertSchemaVersion(db.SchemaVersion{
		Subject: db.Subject(val.Subject),
		Version: db.Version(val.Version),
		ID:      db.SchemaID(val.ID),
		Schema:  val.Schema,
		Type:    val.SchemaType,
		Deleted: val.Deleted,
	})
	telemetry.RecordsProcessedTotal.With("SCHEMA", "applied").Inc()
	r.signal(val.Subject, rec.Offset)
}

func (r *SchemaReader) applyConfig(key RecordKey, rec Record) {
	if len(rec.Value) == 0 {
		if key.Subject == "" {
			r.database.DeleteGlobalCompatibility()
		} else if !r.database.DeleteCompatibility(key.Subject) {
			log.Warn().
				Str("subject", string(key.Subject)).
				Msg("Config delete: subject had no compatibility override")
		}
		telemetry.RecordsProcessedTotal.With("CONFIG", "tombstone").Inc()
		return
	}

	val, err := parseConfigValue(rec.Value)
	if err != nil {
		log.Warn().Err(err).Int64("offset", rec.Offset).Msg("Skipping config record with undecodable value")
		telemetry.RecordsProcessedTotal.With("CONFIG", "skipped").Inc()
		return
	}

	if key.Subject == "" {
		r.database.SetGlobalCompatibility(val.CompatibilityLevel)
	} else {
		r.database.SetCompatibility(key.Subject, val.CompatibilityLevel)
	}
	telemetry.RecordsProcessedTotal.With("CONFIG", "applied").Inc()
}

func (r *SchemaReader) applyDeleteSubject(key RecordKey, rec Record) {
	val, err := parseDeleteSubjectValue(rec.Value)
	if err != nil {
		// Tombstone: compaction removed every trace of the subject
		if !r.database.HardDeleteSubject(key.Subject) {
			log.Warn().
				Str("subject", string(key.Subject)).
				Msg("Hard delete: subject did not exist, should have")
		}
		telemetry.RecordsProcessedTotal.With("DELETE_SUBJECT", "tombstone").Inc()
		r.signal(string(key.Subject), rec.Offset)
		return
	}

	subject := db.Subject(val.Subject)
	if !r.database.FindSubject(subject) {
		log.Warn().
			Str("subject", val.Subject).
			Msg("Delete subject: subject did not exist, should have")
	} else {
		deleted := r.database.SoftDeleteSubjectVersions(subject, db.Version(val.Version))
		log.Debug().
			Str("subject", val.Subject).
			Int("versions", deleted).
			Msg("Soft deleted subject versions")
	}
	telemetry.RecordsProcessedTotal.With("DELETE_SUBJECT", "applied").Inc()
	r.signal(val.Subject, rec.Offset)
}

func (r *SchemaReader) signal(subject string, offset int64) {
	if r.hub != nil {
		r.hub.Signal(subject, offset)
	}
}
