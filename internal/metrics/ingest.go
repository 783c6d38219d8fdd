package metrics

import "github.com/prometheus/client_golang/prometheus"

type ingestMetrics struct {
	uploads      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	stage        *prometheus.HistogramVec
	uncompressed prometheus.Histogram
	limit        *prometheus.GaugeVec
}

func newIngestMetrics(reg prometheus.Registerer) ingestMetrics {
	im := ingestMetrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_uploads_total",
			Help: "Finished archive ingestions by outcome and reject reason",
		}, []string{"outcome", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "End to end ingestion time by outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_stage_duration_seconds",
			Help:    "Time spent in each passed ingestion stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"stage"}),
		uncompressed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_uncompressed_bytes",
			Help:    "Declared uncompressed size of inspected archives",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB .. 256GiB
		}),
		limit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ingest_limit",
			Help: "Configured ingestion limits (label names the limit)",
		}, []string{"limit"}),
	}
	reg.MustRegister(im.uploads, im.duration, im.stage, im.uncompressed, im.limit)
	return im
}

// ObserveIngestStage records the time spent in a stage that passed.
func (im ingestMetrics) ObserveIngestStage(stage string, seconds float64) {
	im.stage.WithLabelValues(stage).Observe(seconds)
}

// ObserveIngest records a finished ingestion. reason is empty for accepted
// uploads, uncompressedBytes is 0 when the archive was never inspected.
func (im ingestMetrics) ObserveIngest(outcome, reason string, seconds float64, uncompressedBytes int64) {
	im.uploads.WithLabelValues(outcome, reason).Inc()
	im.duration.WithLabelValues(outcome).Observe(seconds)
	if uncompressedBytes > 0 {
		im.uncompressed.Observe(float64(uncompressedBytes))
	}
}

// SetIngestLimits publishes the active policy, set once at startup.
func (im ingestMetrics) SetIngestLimits(maxUncompressedBytes, maxUploadBytes int64, maxEntries int) {
	im.limit.WithLabelValues("max_uncompressed_bytes").Set(float64(maxUncompressedBytes))
	im.limit.WithLabelValues("max_upload_bytes").Set(float64(maxUploadBytes))
	im.limit.WithLabelValues("max_entries").Set(float64(maxEntries))
}
