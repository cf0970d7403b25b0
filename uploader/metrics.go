package uploader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session results recorded by Metrics.
const (
	resultComplete     = "complete"
	resultDeduplicated = "deduplicated"
	resultFailed       = "failed"
	resultCanceled     = "canceled"
)

// Chunk failure kinds recorded by Metrics.
const (
	failureRead   = "read"
	failureUpload = "upload"
)

// Metrics holds the Prometheus collectors of upload sessions. A nil *Metrics records nothing.
type Metrics struct {
	ChunksUploaded prometheus.Counter
	BytesUploaded  prometheus.Counter
	ChunkFailures  *prometheus.CounterVec
	ChunkDuration  prometheus.Histogram
	Inflight       prometheus.Gauge
	Sessions       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChunksUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "uploader",
			Name:      "chunks_uploaded_total",
			Help:      "Total number of chunks confirmed by the server",
		}),
		BytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "uploader",
			Name:      "bytes_uploaded_total",
			Help:      "Total number of chunk bytes confirmed by the server",
		}),
		ChunkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "uploader",
			Name:      "chunk_failures_total",
			Help:      "Total number of failed chunk reads and uploads",
		}, []string{"kind"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chunkup",
			Subsystem: "uploader",
			Name:      "chunk_upload_duration_seconds",
			Help:      "Duration of successful chunk uploads",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		Inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "chunkup",
			Subsystem: "uploader",
			Name:      "inflight_chunks",
			Help:      "Number of chunk upload requests in progress",
		}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunkup",
			Subsystem: "uploader",
			Name:      "sessions_total",
			Help:      "Total number of finished upload sessions by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) chunkUploaded(length int64, took time.Duration) {
	if m == nil {
		return
	}
	m.ChunksUploaded.Inc()
	m.BytesUploaded.Add(float64(length))
	m.ChunkDuration.Observe(took.Seconds())
}

func (m *Metrics) chunkFailed(kind string) {
	if m == nil {
		return
	}
	m.ChunkFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) requestStarted() {
	if m == nil {
		return
	}
	m.Inflight.Inc()
}

func (m *Metrics) requestFinished() {
	if m == nil {
		return
	}
	m.Inflight.Dec()
}

func (m *Metrics) sessionFinished(result string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(result).Inc()
}
