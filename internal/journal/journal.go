package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewire/accountsync/internal/connection"
	"github.com/tradewire/accountsync/internal/metrics"
	"github.com/tradewire/accountsync/internal/model"
)

// Config contains journal recorder settings.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial event buffer capacity.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		BufferSize:    256,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
}

// eventRow is a row for the connection_events table.
type eventRow struct {
	ID           uuid.UUID
	OccurredAt   time.Time
	AccountID    string
	InstanceID   string
	Region       string
	Kind         string
	Replicas     int
	Synchronized bool
}

// Recorder journals connection events to the connection_events table in
// batches. RecordEvent never blocks; events are buffered and written by a
// background consumer.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	input *eventBuffer
	db    *pgxpool.Pool

	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics RecorderMetrics
}

// RecorderMetrics holds journal counters.
type RecorderMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

// NewRecorder creates a journal recorder writing to db.
func NewRecorder(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		cfg:    cfg,
		logger: logger,
		input:  newEventBuffer(cfg.BufferSize),
		db:     db,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// RecordEvent queues an event for journaling. Never blocks.
func (r *Recorder) RecordEvent(ev connection.Event) {
	if !r.input.Send(ev) {
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
	}
}

// Start begins consuming events and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("journal recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the recorder down, draining buffered events and flushing the
// final batch within ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping journal recorder")

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("journal recorder stop timed out")
	}

	// Drain whatever the consumer did not get to.
	r.input.Close()
	for _, ev := range r.input.DrainTo(0) {
		r.append(ctx, ev)
	}
	r.flush(ctx)

	r.logger.Info("journal recorder stopped")
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() RecorderMetrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// consumeLoop reads events from the buffer and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			ev, ok := r.input.TryReceive()
			if !ok {
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			r.append(r.ctx, ev)
		}
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

// append transforms an event and adds it to the batch, flushing when the
// batch is full.
func (r *Recorder) append(ctx context.Context, ev connection.Event) {
	row := r.transform(ev)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(ctx)
	}
}

// transform converts a connection event to an eventRow. The region is
// derived from the instance id when one is present.
func (r *Recorder) transform(ev connection.Event) eventRow {
	region := ""
	if ev.InstanceID != "" {
		if inst, err := model.ParseInstance(ev.InstanceID); err == nil {
			region = inst.Region
		}
	}

	return eventRow{
		ID:           uuid.New(),
		OccurredAt:   ev.At,
		AccountID:    ev.AccountID,
		InstanceID:   ev.InstanceID,
		Region:       region,
		Kind:         string(ev.Kind),
		Replicas:     ev.Replicas,
		Synchronized: ev.Synchronized,
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	if r.db == nil {
		r.batchMu.Lock()
		r.metrics.Dropped += int64(len(batch))
		r.batchMu.Unlock()
		return
	}

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, batch)
	if err != nil {
		metrics.JournalErrors.Inc()
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	metrics.JournalFlushes.Inc()
	metrics.JournalRows.Add(float64(len(batch) - conflicts))

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed events",
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
			INSERT INTO connection_events (id, occurred_at, account_id, instance_id, region, kind, replicas, synchronized)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.OccurredAt, row.AccountID, row.InstanceID, row.Region, row.Kind, row.Replicas, row.Synchronized)
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
