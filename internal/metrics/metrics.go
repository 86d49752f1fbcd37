// Package metrics holds the Prometheus collectors of the batch commands.
//
// The commands are short-lived, so nothing is served over HTTP: each run
// registers its collectors on a private registry and, when asked, writes
// them once in the text exposition format for the node_exporter textfile
// collector.
package metrics

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solar"

// Metrics is the set of collectors for one command run.
type Metrics struct {
	reg *prometheus.Registry

	RowsTotal       *prometheus.CounterVec // by stage: raw, processed, loaded, exported
	ChunksTotal     prometheus.Counter
	BytesWritten    prometheus.Counter
	ChunkDuration   prometheus.Histogram
	RunDuration     prometheus.Gauge
	LastSuccess     prometheus.Gauge
	RawCacheHits    prometheus.Counter
	CacheLookups    *prometheus.CounterVec // by result: hit, miss
	PredictRequests *prometheus.CounterVec // by outcome: ok, error, rejected
}

// New registers a fresh set of collectors labelled with the command name.
func New(command string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"command": command}, reg))

	return &Metrics{
		reg: reg,
		RowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Registry rows handled, by pipeline stage.",
		}, []string{"stage"}),
		ChunksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks processed.",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written to cache and export files.",
		}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time spent per chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		RawCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_cache_hits_total",
			Help:      "Preprocessing runs served from the raw cache.",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memo_lookups_total",
			Help:      "In-process cache lookups, by result.",
		}, []string{"result"}),
		PredictRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predict_requests_total",
			Help:      "Prediction requests, by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveChunk records one processed chunk.
func (m *Metrics) ObserveChunk(rows int, d time.Duration) {
	m.ChunksTotal.Inc()
	m.RowsTotal.WithLabelValues("processed").Add(float64(rows))
	m.ChunkDuration.Observe(d.Seconds())
}

// Finish records the run duration and, when ok, the success timestamp.
func (m *Metrics) Finish(start time.Time, ok bool) {
	m.RunDuration.Set(time.Since(start).Seconds())
	if ok {
		m.LastSuccess.SetToCurrentTime()
	}
}

// WriteTextfile writes every collector to path. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return errors.Wrapf(err, "write metrics %s", path)
	}
	return nil
}
