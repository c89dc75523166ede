package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	snapshotsAppended *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	recoveriesTotal   *prometheus.CounterVec
	lastPCR           *prometheus.GaugeVec
	latency           *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder registered on reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		snapshotsAppended: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pcrpull_snapshots_appended_total",
				Help: "Total number of PCR snapshots persisted",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pcrpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		recoveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pcrpull_store_recoveries_total",
				Help: "Loads that could not use the primary document, by recovery source",
			},
			[]string{"source"},
		),
		lastPCR: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pcrpull_last_pcr",
				Help: "Last recorded put-call ratio for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pcrpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordAppend records a persisted snapshot.
func (r *Recorder) RecordAppend(symbol string, pcr float64) {
	r.snapshotsAppended.WithLabelValues(symbol).Inc()
	r.lastPCR.WithLabelValues(symbol).Set(pcr)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordRecovery records a load served from the backup or from an empty document.
func (r *Recorder) RecordRecovery(source string) {
	r.recoveriesTotal.WithLabelValues(source).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
