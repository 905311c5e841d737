package persistence

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"webhook-trader/internal/monitor"
)

// WriteOp is one buffered database write.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter coalesces high-volume appends (activity records) into
// transactional batches. Operations are flushed in enqueue order, so
// sequence-ordered inserts stay ordered on disk.
type BatchWriter struct {
	db       *sql.DB
	mu       sync.Mutex
	buffer   []WriteOp
	maxSize  int
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup

	latency *monitor.LatencyHistogram

	totalWrites  uint64
	totalBatches uint64
	totalErrors  uint64
}

// NewBatchWriter creates a writer flushing at maxSize operations or every
// interval, whichever comes first.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		db:       db,
		buffer:   make([]WriteOp, 0, maxSize),
		maxSize:  maxSize,
		interval: interval,
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.loop()
	return bw
}

// Enqueue buffers one write. Triggers an immediate flush when the buffer
// is full.
func (b *BatchWriter) Enqueue(op WriteOp) {
	b.mu.Lock()
	b.buffer = append(b.buffer, op)
	full := len(b.buffer) >= b.maxSize
	b.mu.Unlock()

	if full {
		b.Flush()
	}
}

// SetLatency wires a histogram that receives the wall time of each
// flushed batch.
func (b *BatchWriter) SetLatency(h *monitor.LatencyHistogram) {
	b.mu.Lock()
	b.latency = h
	b.mu.Unlock()
}

// Flush writes all buffered operations in one transaction.
func (b *BatchWriter) Flush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = make([]WriteOp, 0, b.maxSize)
	hist := b.latency
	b.mu.Unlock()

	start := time.Now()
	tx, err := b.db.Begin()
	if err != nil {
		log.Printf("batch writer: begin: %v", err)
		b.mu.Lock()
		b.totalErrors++
		b.mu.Unlock()
		return
	}
	for _, op := range batch {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			log.Printf("batch writer: exec: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("batch writer: commit: %v", err)
		b.mu.Lock()
		b.totalErrors++
		b.mu.Unlock()
		return
	}
	if hist != nil {
		hist.RecordDuration(time.Since(start))
	}

	b.mu.Lock()
	b.totalWrites += uint64(len(batch))
	b.totalBatches++
	b.mu.Unlock()
}

func (b *BatchWriter) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			b.Flush()
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

// Stats returns writes, batches and errors so far.
func (b *BatchWriter) Stats() (writes, batches, errors uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalWrites, b.totalBatches, b.totalErrors
}

// Close flushes remaining operations and stops the background loop.
func (b *BatchWriter) Close() {
	close(b.done)
	b.wg.Wait()
}
