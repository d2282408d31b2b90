package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the emergency pipeline.
type Metrics struct {
	ReportsTotal        *prometheus.CounterVec
	DeliveriesTotal     *prometheus.CounterVec
	SamplesTotal        *prometheus.CounterVec
	OracleFailuresTotal prometheus.Counter
	MatchedRecipients   prometheus.Histogram
	PipelineDuration    prometheus.Histogram
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertai_reports_total",
			Help: "Total emergency reports by final verification status.",
		}, []string{"status"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertai_deliveries_total",
			Help: "Total delivery attempts by channel and outcome.",
		}, []string{"channel", "status"}),
		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertai_detection_samples_total",
			Help: "Total detection samples by resulting source state.",
		}, []string{"state"}),
		OracleFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alertai_oracle_failures_total",
			Help: "Total oracle calls that failed outright.",
		}),
		MatchedRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertai_matched_recipients",
			Help:    "Recipients matched per verified incident.",
			Buckets: prometheus.LinearBuckets(0, 5, 11), // 0 .. 50
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertai_pipeline_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
	}

	reg.MustRegister(
		m.ReportsTotal,
		m.DeliveriesTotal,
		m.SamplesTotal,
		m.OracleFailuresTotal,
		m.MatchedRecipients,
		m.PipelineDuration,
	)

	return m
}
