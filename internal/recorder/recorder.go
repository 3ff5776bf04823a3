// Package recorder persists subscription data received by the sync agent.
//
// The recorder listens on the event bus, buffers every subscription_data
// event and batch-inserts the rows into the sync_events table. Inserts are
// append-only and keyed by a content-derived id, so a redelivered update is
// counted as a conflict instead of a second row.
package recorder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bacoco/DevFlow-sub010/internal/connection"
	"github.com/bacoco/DevFlow-sub010/internal/events"
	"github.com/bacoco/DevFlow-sub010/internal/queue"
)

// eventNamespace seeds the content-derived row ids.
var eventNamespace = uuid.MustParse("5b0c6a0e-3f7e-4c55-9a43-8f1d2d6f0d61")

// Batcher sends a pgx batch. *pgxpool.Pool satisfies it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // received events held before dropping
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks recorder activity.
type Metrics struct {
	Received  int64
	Dropped   int64
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

type eventRow struct {
	ID         uuid.UUID
	Topic      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Recorder writes subscription data to PostgreSQL in batches.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus
	db     Batcher

	input    *queue.Buffer[connection.SubscriptionData]
	listener uuid.UUID

	batch   []eventRow
	batchMu sync.Mutex

	flushTicker *time.Ticker
	ctx         context.Context
	cancel      context.CancelFunc
	consumeDone chan struct{}
	wg          sync.WaitGroup

	metrics Metrics
}

// New creates a Recorder. It does nothing until Start.
func New(cfg Config, bus *events.Bus, db Batcher, logger *slog.Logger) *Recorder {
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "recorder"),
		bus:    bus,
		db:     db,
		input:  queue.New[connection.SubscriptionData](64),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start attaches to the bus and begins writing.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)
	r.consumeDone = make(chan struct{})

	r.listener = events.Listen(r.bus, r.receive)

	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop detaches from the bus, writes what is buffered and waits for the
// background goroutines, bounded by ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.bus.Off(r.listener)
	r.input.Close()

	if r.consumeDone != nil {
		select {
		case <-r.consumeDone:
		case <-ctx.Done():
			r.logger.Warn("recorder drain timed out", "pending", r.input.Len())
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	r.wg.Wait()

	// Final flush
	r.flush(ctx)

	r.logger.Info("recorder stopped")
	return ctx.Err()
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

func (r *Recorder) receive(ev connection.SubscriptionData) {
	r.batchMu.Lock()
	r.metrics.Received++
	full := r.input.Len() >= r.cfg.BufferSize
	if full {
		r.metrics.Dropped++
	}
	r.batchMu.Unlock()

	if full {
		r.logger.Warn("recorder buffer full, dropping event", "topic", ev.Topic)
		return
	}
	r.input.Push(ev)
}

// consumeLoop moves buffered events into the batch until the input closes.
func (r *Recorder) consumeLoop() {
	defer close(r.consumeDone)

	for {
		ev, ok := r.input.Pop()
		if !ok {
			return
		}
		r.handleEvent(ev)
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

func (r *Recorder) handleEvent(ev connection.SubscriptionData) {
	row := transform(ev)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// transform converts an event into a row. The id is derived from topic,
// receive time and payload.
func transform(ev connection.SubscriptionData) eventRow {
	payload := ev.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	receivedAt := ev.ReceivedAt.UTC()

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(receivedAt.UnixNano()))
	key := make([]byte, 0, len(ev.Topic)+1+len(ts)+len(payload))
	key = append(key, ev.Topic...)
	key = append(key, 0)
	key = append(key, ts[:]...)
	key = append(key, payload...)

	return eventRow{
		ID:         uuid.NewSHA1(eventNamespace, key),
		Topic:      ev.Topic,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed sync events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO sync_events (id, topic, payload, received_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.Topic, []byte(row.Payload), row.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
