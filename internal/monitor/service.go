package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/models"
)

const (
	calibrationSampleSize = 100
	throughputWindowSize  = 60
	driftCheckInterval    = 100
	defaultBufferSize     = 10000
)

// Models whose calibration is snapshotted.
var calibrationModels = []string{"xgb", "nn", "ensemble"}

// MetricsStore is the persistence surface the monitor needs.
// *repositories.MetricsRepository implements it.
type MetricsStore interface {
	InsertModelMetric(ctx context.Context, row *models.ModelMetricRow) error
	InsertFeatureDrift(ctx context.Context, row *models.FeatureDriftRow) error
	RecentModelMetrics(ctx context.Context, metricType string, limit int) ([]*models.ModelMetricRow, error)
	RecentFeatureDrift(ctx context.Context, since time.Time, limit int) ([]*models.FeatureDriftRow, error)
	RecentLatencies(ctx context.Context, since time.Time, limit int) ([]float64, error)
}

// LabelSource supplies ground-truth labels for calibration scoring. The
// source name is stamped into each snapshot's metadata so consumers can
// tell real outcomes from the proxy.
type LabelSource interface {
	Name() string
	Labels(scores []float64) []float64
}

// proxyLabels derives y = (score > 0.5). It overstates calibration
// quality on well-separated scores; swap in an outcome feed when the
// case store starts exporting one.
type proxyLabels struct{}

func (proxyLabels) Name() string { return "proxy" }

func (proxyLabels) Labels(scores []float64) []float64 {
	labels := make([]float64, len(scores))
	for i, score := range scores {
		if score > 0.5 {
			labels[i] = 1
		}
	}
	return labels
}

// Service accumulates rolling score, feature and timing samples and
// exports the derived metrics. Persistence is best effort: a store
// failure is logged and never fails the record that triggered it.
type Service struct {
	cfg        configs.MonitorConfig
	collectors *Collectors
	store      MetricsStore
	labels     LabelSource

	mu         sync.Mutex
	scores     map[string]*window
	drift      map[string]*driftTracker
	throughput []time.Time
}

// NewService wires the monitor. A nil labels source falls back to the
// score-threshold proxy.
func NewService(cfg configs.MonitorConfig, collectors *Collectors, store MetricsStore, labels LabelSource) *Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if labels == nil {
		labels = proxyLabels{}
	}
	return &Service{
		cfg:        cfg,
		collectors: collectors,
		store:      store,
		labels:     labels,
		scores:     make(map[string]*window),
		drift:      make(map[string]*driftTracker),
	}
}

// HandleScore folds one score record into the per-model distributions
// and the scoring latency histogram.
func (s *Service) HandleScore(ctx context.Context, score *models.ScoreOutput) {
	s.mu.Lock()
	for name, value := range modelScoreValues(score.Scores) {
		s.collectors.Scores.WithLabelValues(name).Observe(value)
		s.scoreWindow(name).add(value)
	}
	s.mu.Unlock()

	if score.ComputationTimeMs > 0 {
		s.collectors.Latency.Observe(score.ComputationTimeMs / 1000)
	}

	row := &models.ModelMetricRow{
		ModelName:   "ensemble",
		MetricType:  "latency_ms",
		MetricValue: score.ComputationTimeMs,
		Metadata:    models.JSONB{"event_id": score.EventID},
	}
	if err := s.store.InsertModelMetric(ctx, row); err != nil {
		log.Warn().Err(err).Str("event_id", score.EventID).Msg("Failed to persist scoring latency")
	}
}

// HandleDecision counts the action, observes the stage latency and
// refreshes the throughput gauge.
func (s *Service) HandleDecision(ctx context.Context, decision *models.DecisionOutput) {
	s.collectors.Decisions.WithLabelValues(decision.Action).Inc()
	if decision.DecisionTimeMs > 0 {
		s.collectors.Latency.Observe(decision.DecisionTimeMs / 1000)
	}

	s.mu.Lock()
	s.throughput = append(s.throughput, time.Now())
	if len(s.throughput) > throughputWindowSize {
		s.throughput = s.throughput[1:]
	}
	rate := Throughput(s.throughput)
	s.mu.Unlock()

	if rate > 0 {
		s.collectors.Throughput.Set(rate)
	}

	row := &models.ModelMetricRow{
		ModelName:   "ensemble",
		MetricType:  "decision_latency_ms",
		MetricValue: decision.DecisionTimeMs,
		Metadata: models.JSONB{
			"event_id": decision.EventID,
			"action":   decision.Action,
		},
	}
	if err := s.store.InsertModelMetric(ctx, row); err != nil {
		log.Warn().Err(err).Str("event_id", decision.EventID).Msg("Failed to persist decision latency")
	}
}

// HandleFeatures folds the vector's tracked numeric fields into their
// drift buffers and checks PSI every hundredth observation.
func (s *Service) HandleFeatures(ctx context.Context, vector *models.FeatureVector) {
	for name, value := range trackedValues(vector) {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		s.observeFeature(ctx, name, value)
	}
}

func (s *Service) observeFeature(ctx context.Context, name string, value float64) {
	s.mu.Lock()
	tracker, ok := s.drift[name]
	if !ok {
		tracker = newDriftTracker(s.cfg.BufferSize)
		s.drift[name] = tracker
	}
	tracker.add(value)

	var psi float64
	computed := false
	if tracker.seen%driftCheckInterval == 0 {
		psi, computed = tracker.psi()
	}
	s.mu.Unlock()

	if !computed {
		return
	}
	s.collectors.DriftPSI.WithLabelValues(name).Set(psi)
	if psi <= s.cfg.PSIAlertThreshold {
		return
	}

	log.Warn().Str("feature_name", name).Float64("psi", psi).Msg("Feature drift detected")

	now := time.Now().UTC()
	row := &models.FeatureDriftRow{
		FeatureName:          name,
		PSIValue:             psi,
		ReferencePeriodStart: now.Add(-24 * time.Hour),
		ReferencePeriodEnd:   now.Add(-time.Hour),
		CurrentPeriodStart:   now.Add(-time.Hour),
		CurrentPeriodEnd:     now,
	}
	if err := s.store.InsertFeatureDrift(ctx, row); err != nil {
		log.Warn().Err(err).Str("feature_name", name).Msg("Failed to persist feature drift")
	}
}

// SnapshotCalibration computes a Brier score per model over its most
// recent scores, refreshes the gauges and persists the snapshots.
func (s *Service) SnapshotCalibration(ctx context.Context) {
	type sample struct {
		model  string
		scores []float64
	}

	s.mu.Lock()
	samples := make([]sample, 0, len(calibrationModels))
	for _, model := range calibrationModels {
		w, ok := s.scores[model]
		if !ok || w.size() < calibrationSampleSize {
			continue
		}
		scores := append([]float64(nil), w.last(calibrationSampleSize)...)
		samples = append(samples, sample{model: model, scores: scores})
	}
	s.mu.Unlock()

	for _, sm := range samples {
		brier := Brier(sm.scores, s.labels.Labels(sm.scores))
		s.collectors.Brier.WithLabelValues(sm.model).Set(brier)
		if brier > s.cfg.BrierAlertThreshold {
			log.Warn().Str("model_name", sm.model).Float64("brier", brier).Msg("Model calibration degraded")
		}

		row := &models.ModelMetricRow{
			ModelName:   sm.model,
			MetricType:  "calibration_brier",
			MetricValue: brier,
			Metadata: models.JSONB{
				"sample_size":  len(sm.scores),
				"label_source": s.labels.Name(),
			},
		}
		if err := s.store.InsertModelMetric(ctx, row); err != nil {
			log.Warn().Err(err).Str("model_name", sm.model).Msg("Failed to persist calibration snapshot")
		}
	}
}

// RunCalibrationLoop snapshots calibration on a fixed cadence until the
// context ends.
func (s *Service) RunCalibrationLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SnapshotCalibration(ctx)
		}
	}
}

// RecentCalibration returns persisted Brier snapshots, newest first.
func (s *Service) RecentCalibration(ctx context.Context) ([]*models.ModelMetricRow, error) {
	return s.store.RecentModelMetrics(ctx, "calibration_brier", 100)
}

// RecentDrift returns PSI rows from the last 24 hours, newest first.
func (s *Service) RecentDrift(ctx context.Context) ([]*models.FeatureDriftRow, error) {
	return s.store.RecentFeatureDrift(ctx, time.Now().UTC().Add(-24*time.Hour), 100)
}

// LatencyReport summarizes the last hour of stage latencies.
func (s *Service) LatencyReport(ctx context.Context) (LatencySummary, error) {
	values, err := s.store.RecentLatencies(ctx, time.Now().UTC().Add(-time.Hour), 1000)
	if err != nil {
		return LatencySummary{}, err
	}
	return SummarizeLatencies(values), nil
}

func (s *Service) scoreWindow(model string) *window {
	w, ok := s.scores[model]
	if !ok {
		w = newWindow(s.cfg.BufferSize)
		s.scores[model] = w
	}
	return w
}

func modelScoreValues(scores models.ModelScores) map[string]float64 {
	return map[string]float64{
		"xgb":        scores.XGB,
		"nn":         scores.NN,
		"rules":      scores.Rules,
		"ensemble":   scores.Ensemble,
		"calibrated": scores.Calibrated,
	}
}

func trackedValues(v *models.FeatureVector) map[string]float64 {
	return map[string]float64{
		"amount":          v.Amount,
		"velocity_1h":     float64(v.Velocity1h),
		"velocity_24h":    float64(v.Velocity24h),
		"ip_risk":         v.IPRisk,
		"geo_distance_km": v.GeoDistanceKm,
		"merchant_risk":   v.MerchantRisk,
	}
}
