package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tradewire/accountsync/internal/connection"
)

func TestRecorder_Transform(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil, nil)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := connection.Event{
		At:           at,
		AccountID:    "acct-1",
		InstanceID:   "vint-hill:1:ps-mpa-1",
		Kind:         connection.EventConnected,
		Replicas:     2,
		Synchronized: true,
	}

	row := r.transform(event)

	if row.ID == uuid.Nil {
		t.Error("ID should be generated")
	}
	if !row.OccurredAt.Equal(at) {
		t.Errorf("OccurredAt = %v, want %v", row.OccurredAt, at)
	}
	if row.AccountID != "acct-1" {
		t.Errorf("AccountID = %s, want acct-1", row.AccountID)
	}
	if row.InstanceID != "vint-hill:1:ps-mpa-1" {
		t.Errorf("InstanceID = %s, want vint-hill:1:ps-mpa-1", row.InstanceID)
	}
	if row.Region != "vint-hill" {
		t.Errorf("Region = %s, want vint-hill", row.Region)
	}
	if row.Kind != "connected" {
		t.Errorf("Kind = %s, want connected", row.Kind)
	}
	if row.Replicas != 2 {
		t.Errorf("Replicas = %d, want 2", row.Replicas)
	}
	if !row.Synchronized {
		t.Error("Synchronized = false, want true")
	}
}

func TestRecorder_Transform_NoInstance(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil, nil)

	row := r.transform(connection.Event{
		AccountID: "acct-1",
		Kind:      connection.EventOpened,
	})

	if row.Region != "" {
		t.Errorf("Region = %q, want empty for events without an instance", row.Region)
	}
	if row.Kind != "opened" {
		t.Errorf("Kind = %s, want opened", row.Kind)
	}
}

func TestRecorder_Transform_UnparsableInstance(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil, nil)

	row := r.transform(connection.Event{
		AccountID:  "acct-1",
		InstanceID: "garbage",
		Kind:       connection.EventDisconnected,
	})

	if row.Region != "" {
		t.Errorf("Region = %q, want empty for unparsable instance ids", row.Region)
	}
	if row.InstanceID != "garbage" {
		t.Errorf("InstanceID = %s, want the raw value preserved", row.InstanceID)
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	cfg := Config{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
		BufferSize:    16,
	}

	// No database: tests the goroutine lifecycle only.
	r := NewRecorder(cfg, nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestRecorder_RecordEventAddsToBatch(t *testing.T) {
	cfg := Config{
		BatchSize:     100, // large batch so no auto-flush
		FlushInterval: time.Hour,
		BufferSize:    16,
	}
	r := NewRecorder(cfg, nil, nil)

	r.append(context.Background(), connection.Event{
		AccountID: "acct-1",
		Kind:      connection.EventConnected,
	})

	r.batchMu.Lock()
	batchLen := len(r.batch)
	r.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestRecorder_StopDrainsBuffer(t *testing.T) {
	cfg := Config{
		BatchSize:     1000,
		FlushInterval: time.Hour,
		BufferSize:    16,
	}
	r := NewRecorder(cfg, nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 25; i++ {
		r.RecordEvent(connection.Event{
			AccountID: "acct-1",
			Kind:      connection.EventConnected,
		})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	// With no database every drained row is counted dropped rather than
	// lost silently.
	stats := r.Stats()
	if stats.Dropped != 25 {
		t.Errorf("Dropped = %d, want 25", stats.Dropped)
	}
	if r.input.Len() != 0 {
		t.Errorf("buffer should be empty after Stop, has %d", r.input.Len())
	}
}

func TestRecorder_RecordAfterStopIsCounted(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(stopCtx)

	r.RecordEvent(connection.Event{AccountID: "acct-1"})

	stats := r.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
}

func TestRecorder_Stats(t *testing.T) {
	r := NewRecorder(DefaultConfig(), nil, nil)

	stats := r.Stats()
	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
	if stats.Flushes != 0 {
		t.Errorf("initial Flushes = %d, want 0", stats.Flushes)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if cfg.BufferSize != 256 {
		t.Errorf("BufferSize = %d, want 256", cfg.BufferSize)
	}
}
