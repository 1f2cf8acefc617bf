package monitor

import "github.com/prometheus/client_golang/prometheus"

// Collectors are the exported pipeline metrics. They register against
// the given registry so tests can use an isolated one.
type Collectors struct {
	Decisions  *prometheus.CounterVec
	Latency    prometheus.Histogram
	Scores     *prometheus.HistogramVec
	DriftPSI   *prometheus.GaugeVec
	Brier      *prometheus.GaugeVec
	Throughput prometheus.Gauge
}

func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_decisions_total",
			Help: "Total fraud decisions by action.",
		}, []string{"action"}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_decision_latency_seconds",
			Help:    "Scoring and decision stage latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fraud_model_scores",
			Help:    "Model score distribution.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}, []string{"model_name"}),
		DriftPSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fraud_feature_drift_psi",
			Help: "Population stability index per tracked feature.",
		}, []string{"feature_name"}),
		Brier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fraud_model_calibration_brier",
			Help: "Model calibration Brier score.",
		}, []string{"model_name"}),
		Throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_throughput_per_second",
			Help: "Decisions per second over the sliding window.",
		}),
	}

	reg.MustRegister(c.Decisions, c.Latency, c.Scores, c.DriftPSI, c.Brier, c.Throughput)
	return c
}
