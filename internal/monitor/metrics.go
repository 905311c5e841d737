package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks pipeline throughput and latency.
type SystemMetrics struct {
	// Latency histograms
	ExecLatency     *LatencyHistogram
	PipelineLatency *LatencyHistogram
	DBLatency       *LatencyHistogram
	APILatency      *LatencyHistogram

	// Counters
	signalsReceived    uint64
	signalsDropped     uint64
	ordersFilled       uint64
	ordersRejected     uint64
	ordersDeduplicated uint64
	apiRequests        uint64
	errorsCount        uint64
}

// LatencyHistogram tracks latency samples with a sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ExecLatency:     NewLatencyHistogram(1000),
		PipelineLatency: NewLatencyHistogram(1000),
		DBLatency:       NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementReceived increments the accepted-signal counter.
func (m *SystemMetrics) IncrementReceived() {
	atomic.AddUint64(&m.signalsReceived, 1)
}

// IncrementDropped increments the parse-drop counter.
func (m *SystemMetrics) IncrementDropped() {
	atomic.AddUint64(&m.signalsDropped, 1)
}

// IncrementFilled increments the fill counter.
func (m *SystemMetrics) IncrementFilled() {
	atomic.AddUint64(&m.ordersFilled, 1)
}

// IncrementRejected increments the rejection counter.
func (m *SystemMetrics) IncrementRejected() {
	atomic.AddUint64(&m.ordersRejected, 1)
}

// IncrementDeduplicated increments the duplicate-delivery counter.
func (m *SystemMetrics) IncrementDeduplicated() {
	atomic.AddUint64(&m.ordersDeduplicated, 1)
}

// IncrementAPIRequests increments the HTTP request counter.
func (m *SystemMetrics) IncrementAPIRequests() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementErrors increments the internal error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	ExecLatency        LatencyStats `json:"exec_latency"`
	PipelineLatency    LatencyStats `json:"pipeline_latency"`
	DBLatency          LatencyStats `json:"db_latency"`
	APILatency         LatencyStats `json:"api_latency"`
	SignalsReceived    uint64       `json:"signals_received"`
	SignalsDropped     uint64       `json:"signals_dropped"`
	OrdersFilled       uint64       `json:"orders_filled"`
	OrdersRejected     uint64       `json:"orders_rejected"`
	OrdersDeduplicated uint64       `json:"orders_deduplicated"`
	APIRequests        uint64       `json:"api_requests"`
	ErrorsCount        uint64       `json:"errors_count"`
	GoroutineCount     int          `json:"goroutine_count"`
	HeapAlloc          uint64       `json:"heap_alloc_bytes"`
	HeapSys            uint64       `json:"heap_sys_bytes"`
	Timestamp          time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		ExecLatency:        m.ExecLatency.Stats(),
		PipelineLatency:    m.PipelineLatency.Stats(),
		DBLatency:          m.DBLatency.Stats(),
		APILatency:         m.APILatency.Stats(),
		SignalsReceived:    atomic.LoadUint64(&m.signalsReceived),
		SignalsDropped:     atomic.LoadUint64(&m.signalsDropped),
		OrdersFilled:       atomic.LoadUint64(&m.ordersFilled),
		OrdersRejected:     atomic.LoadUint64(&m.ordersRejected),
		OrdersDeduplicated: atomic.LoadUint64(&m.ordersDeduplicated),
		APIRequests:        atomic.LoadUint64(&m.apiRequests),
		ErrorsCount:        atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		HeapSys:            memStats.HeapSys,
		Timestamp:          time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
