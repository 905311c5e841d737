package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"webhook-trader/internal/events"
	"webhook-trader/internal/persistence"
	"webhook-trader/pkg/db"
)

// Level classifies an activity record for presentation.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarn    Level = "WARN"
	LevelError   Level = "ERROR"
)

// Record is one human-readable pipeline event, ordered by Seq.
type Record struct {
	Seq     int64     `json:"seq"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Log is the append-only activity history. Appends assign the sequence id
// atomically; records fan out to the bus for live streaming and are
// persisted through the batch writer.
type Log struct {
	mu      sync.RWMutex
	records []Record
	seq     int64
	limit   int
	bus     *events.Bus
	writer  *persistence.BatchWriter
}

// New creates a log retaining at most limit records in memory.
func New(bus *events.Bus, writer *persistence.BatchWriter, limit int) *Log {
	if limit <= 0 {
		limit = 1000
	}
	return &Log{
		records: make([]Record, 0, limit),
		limit:   limit,
		bus:     bus,
		writer:  writer,
	}
}

// Load resumes the sequence counter and recent history from the DB.
func (l *Log) Load(ctx context.Context, database *db.Database) error {
	if database == nil {
		return nil
	}
	seq, err := database.MaxActivitySeq(ctx)
	if err != nil {
		return err
	}
	rows, err := database.RecentActivity(ctx, l.limit)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = seq
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		l.records = append(l.records, Record{Seq: r.Seq, Level: Level(r.Level), Message: r.Message, At: r.CreatedAt})
	}
	return nil
}

// Append stores a record, publishes it, and schedules persistence.
func (l *Log) Append(level Level, format string, args ...any) Record {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	l.seq++
	rec := Record{Seq: l.seq, Level: level, Message: msg, At: time.Now()}
	l.records = append(l.records, rec)
	if len(l.records) > l.limit {
		l.records = l.records[len(l.records)-l.limit:]
	}
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(events.EventActivityRecord, rec)
	}
	if l.writer != nil {
		l.writer.Enqueue(persistence.WriteOp{
			Query: db.InsertActivitySQL,
			Args:  []any{rec.Seq, string(rec.Level), rec.Message, rec.At},
		})
	}
	return rec
}

func (l *Log) Info(format string, args ...any) Record    { return l.Append(LevelInfo, format, args...) }
func (l *Log) Success(format string, args ...any) Record { return l.Append(LevelSuccess, format, args...) }
func (l *Log) Warn(format string, args ...any) Record    { return l.Append(LevelWarn, format, args...) }
func (l *Log) Error(format string, args ...any) Record   { return l.Append(LevelError, format, args...) }

// Recent returns up to limit records, newest first.
func (l *Log) Recent(limit int) []Record {
	if limit <= 0 {
		limit = 50
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.records)
	if limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// Len returns the number of records retained in memory.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
