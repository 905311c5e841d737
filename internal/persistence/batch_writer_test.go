package persistence

import (
	"context"
	"testing"
	"time"

	"webhook-trader/internal/monitor"
	"webhook-trader/pkg/db"
)

func TestBatchWriterFlushOnClose(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bw := NewBatchWriter(database.DB, 100, time.Hour)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		bw.Enqueue(WriteOp{Query: db.InsertActivitySQL, Args: []any{int64(i), "INFO", "msg", now}})
	}
	bw.Close()

	records, err := database.RecentActivity(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records after close, got %d", len(records))
	}
	if records[0].Seq != 5 {
		t.Errorf("expected newest seq 5, got %d", records[0].Seq)
	}

	writes, batches, errs := bw.Stats()
	if writes != 5 || batches != 1 || errs != 0 {
		t.Errorf("unexpected stats: writes=%d batches=%d errors=%d", writes, batches, errs)
	}
}

func TestBatchWriterFlushOnFullBuffer(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bw := NewBatchWriter(database.DB, 2, time.Hour)
	defer bw.Close()

	now := time.Now()
	bw.Enqueue(WriteOp{Query: db.InsertActivitySQL, Args: []any{int64(1), "INFO", "a", now}})
	bw.Enqueue(WriteOp{Query: db.InsertActivitySQL, Args: []any{int64(2), "WARN", "b", now}})

	records, err := database.RecentActivity(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected flush at full buffer, got %d records", len(records))
	}
}

func TestBatchWriterRecordsLatency(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	hist := monitor.NewLatencyHistogram(16)
	bw := NewBatchWriter(database.DB, 100, time.Hour)
	bw.SetLatency(hist)

	now := time.Now()
	bw.Enqueue(WriteOp{Query: db.InsertActivitySQL, Args: []any{int64(1), "INFO", "a", now}})
	bw.Flush()
	bw.Enqueue(WriteOp{Query: db.InsertActivitySQL, Args: []any{int64(2), "INFO", "b", now}})
	bw.Close()

	if got := hist.Stats().Count; got != 2 {
		t.Errorf("latency sample count = %d, want one per flushed batch (2)", got)
	}
}
