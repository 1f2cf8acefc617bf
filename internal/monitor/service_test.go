package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

type fakeMetricsStore struct {
	metricRows []*models.ModelMetricRow
	driftRows  []*models.FeatureDriftRow
	latencies  []float64
	insertErr  error
	queryErr   error
}

func (f *fakeMetricsStore) InsertModelMetric(ctx context.Context, row *models.ModelMetricRow) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	row.ID = int64(len(f.metricRows) + 1)
	f.metricRows = append(f.metricRows, row)
	return nil
}

func (f *fakeMetricsStore) InsertFeatureDrift(ctx context.Context, row *models.FeatureDriftRow) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	row.ID = int64(len(f.driftRows) + 1)
	f.driftRows = append(f.driftRows, row)
	return nil
}

func (f *fakeMetricsStore) RecentModelMetrics(ctx context.Context, metricType string, limit int) ([]*models.ModelMetricRow, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]*models.ModelMetricRow, 0, len(f.metricRows))
	for i := len(f.metricRows) - 1; i >= 0; i-- {
		if f.metricRows[i].MetricType == metricType {
			out = append(out, f.metricRows[i])
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMetricsStore) RecentFeatureDrift(ctx context.Context, since time.Time, limit int) ([]*models.FeatureDriftRow, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]*models.FeatureDriftRow, 0, len(f.driftRows))
	for i := len(f.driftRows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.driftRows[i])
	}
	return out, nil
}

func (f *fakeMetricsStore) RecentLatencies(ctx context.Context, since time.Time, limit int) ([]float64, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.latencies, nil
}

func (f *fakeMetricsStore) rowsOfType(metricType string) []*models.ModelMetricRow {
	out := make([]*models.ModelMetricRow, 0, len(f.metricRows))
	for _, row := range f.metricRows {
		if row.MetricType == metricType {
			out = append(out, row)
		}
	}
	return out
}

func newTestMonitor() (*Service, *Collectors, *fakeMetricsStore) {
	collectors := NewCollectors(prometheus.NewRegistry())
	store := &fakeMetricsStore{}
	cfg := configs.MonitorConfig{PSIAlertThreshold: 0.2, BrierAlertThreshold: 0.25, BufferSize: 10000}
	return NewService(cfg, collectors, store, nil), collectors, store
}

func scoreRecord(value float64) *models.ScoreOutput {
	return &models.ScoreOutput{
		EventID: "evt-1",
		Scores: models.ModelScores{
			XGB:        value,
			NN:         value,
			Rules:      value,
			Ensemble:   value,
			Calibrated: value,
		},
		ModelVersion:      "ensemble_v1",
		ComputationTimeMs: 4.2,
	}
}

func featureRecord(amount float64) *models.FeatureVector {
	return &models.FeatureVector{
		EventID:       "evt-1",
		EntityID:      "acct-100",
		Amount:        amount,
		Velocity1h:    2,
		Velocity24h:   5,
		IPRisk:        0.3,
		GeoDistanceKm: 12,
		MerchantRisk:  0.1,
	}
}

func TestHandleScoreObservesAllModels(t *testing.T) {
	svc, collectors, store := newTestMonitor()

	svc.HandleScore(context.Background(), scoreRecord(0.4))

	assert.Equal(t, 5, testutil.CollectAndCount(collectors.Scores))
	assert.Equal(t, 1, testutil.CollectAndCount(collectors.Latency))

	rows := store.rowsOfType("latency_ms")
	require.Len(t, rows, 1)
	assert.Equal(t, 4.2, rows[0].MetricValue)
	assert.Equal(t, "evt-1", rows[0].Metadata["event_id"])
}

func TestHandleDecisionCountsActionsAndThroughput(t *testing.T) {
	svc, collectors, store := newTestMonitor()

	decision := &models.DecisionOutput{
		EventID:        "evt-1",
		EntityID:       "acct-100",
		Action:         models.ActionBlock,
		DecisionTimeMs: 1.7,
	}
	svc.HandleDecision(context.Background(), decision)
	svc.HandleDecision(context.Background(), decision)

	blocked := testutil.ToFloat64(collectors.Decisions.WithLabelValues(models.ActionBlock))
	assert.Equal(t, 2.0, blocked)

	rows := store.rowsOfType("decision_latency_ms")
	require.Len(t, rows, 2)
	assert.Equal(t, models.ActionBlock, rows[0].Metadata["action"])
}

func TestFeatureDriftSignalsOnShift(t *testing.T) {
	svc, collectors, store := newTestMonitor()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		svc.HandleFeatures(ctx, featureRecord(10+float64(i%10)))
	}
	require.Empty(t, store.driftRows)

	for i := 0; i < 100; i++ {
		svc.HandleFeatures(ctx, featureRecord(1000+float64(i%10)))
	}

	require.Len(t, store.driftRows, 1)
	row := store.driftRows[0]
	assert.Equal(t, "amount", row.FeatureName)
	assert.Greater(t, row.PSIValue, 0.2)
	assert.Equal(t, row.ReferencePeriodEnd, row.CurrentPeriodStart)

	psi := testutil.ToFloat64(collectors.DriftPSI.WithLabelValues("amount"))
	assert.Greater(t, psi, 0.2)

	// steady features computed a PSI too, but stayed below the alert bar
	assert.Zero(t, testutil.ToFloat64(collectors.DriftPSI.WithLabelValues("ip_risk")))
}

func TestCalibrationSnapshotUsesProxyLabels(t *testing.T) {
	svc, collectors, store := newTestMonitor()
	ctx := context.Background()

	for i := 0; i < calibrationSampleSize; i++ {
		svc.HandleScore(ctx, scoreRecord(0.2))
	}
	svc.SnapshotCalibration(ctx)

	rows := store.rowsOfType("calibration_brier")
	require.Len(t, rows, len(calibrationModels))
	for _, row := range rows {
		assert.InDelta(t, 0.04, row.MetricValue, 1e-9)
		assert.Equal(t, "proxy", row.Metadata["label_source"])
		assert.Equal(t, calibrationSampleSize, row.Metadata["sample_size"])
	}

	brier := testutil.ToFloat64(collectors.Brier.WithLabelValues("ensemble"))
	assert.InDelta(t, 0.04, brier, 1e-9)
}

type fixedLabels struct{ value float64 }

func (fixedLabels) Name() string { return "case_outcomes" }

func (l fixedLabels) Labels(scores []float64) []float64 {
	labels := make([]float64, len(scores))
	for i := range labels {
		labels[i] = l.value
	}
	return labels
}

func TestCalibrationUsesInjectedLabelSource(t *testing.T) {
	collectors := NewCollectors(prometheus.NewRegistry())
	store := &fakeMetricsStore{}
	cfg := configs.MonitorConfig{PSIAlertThreshold: 0.2, BrierAlertThreshold: 0.25}
	svc := NewService(cfg, collectors, store, fixedLabels{value: 1})
	ctx := context.Background()

	for i := 0; i < calibrationSampleSize; i++ {
		svc.HandleScore(ctx, scoreRecord(0.2))
	}
	svc.SnapshotCalibration(ctx)

	rows := store.rowsOfType("calibration_brier")
	require.NotEmpty(t, rows)
	assert.InDelta(t, 0.64, rows[0].MetricValue, 1e-9)
	assert.Equal(t, "case_outcomes", rows[0].Metadata["label_source"])
}

func TestCalibrationSkipsSparseModels(t *testing.T) {
	svc, _, store := newTestMonitor()
	ctx := context.Background()

	for i := 0; i < calibrationSampleSize-1; i++ {
		svc.HandleScore(ctx, scoreRecord(0.2))
	}
	svc.SnapshotCalibration(ctx)

	assert.Empty(t, store.rowsOfType("calibration_brier"))
}

func TestConsumerRoutesTopics(t *testing.T) {
	svc, collectors, store := newTestMonitor()
	handler := svc.Handler()
	ctx := context.Background()

	scoreBytes, err := json.Marshal(scoreRecord(0.4))
	require.NoError(t, err)
	decisionBytes, err := json.Marshal(&models.DecisionOutput{EventID: "evt-1", Action: models.ActionAllow, DecisionTimeMs: 0.9})
	require.NoError(t, err)
	featureBytes, err := json.Marshal(featureRecord(42))
	require.NoError(t, err)

	require.NoError(t, handler(ctx, &sarama.ConsumerMessage{Topic: eventlog.TopicScores, Value: scoreBytes}))
	require.NoError(t, handler(ctx, &sarama.ConsumerMessage{Topic: eventlog.TopicDecisions, Value: decisionBytes}))
	require.NoError(t, handler(ctx, &sarama.ConsumerMessage{Topic: eventlog.TopicFeatures, Value: featureBytes}))

	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Decisions.WithLabelValues(models.ActionAllow)))
	assert.Len(t, store.rowsOfType("latency_ms"), 1)
	assert.Len(t, store.rowsOfType("decision_latency_ms"), 1)

	err = handler(ctx, &sarama.ConsumerMessage{Topic: eventlog.TopicScores, Value: []byte("{"), Offset: 9})
	require.Error(t, err)
}

func TestStoreFailureNeverFailsTheRecord(t *testing.T) {
	svc, collectors, store := newTestMonitor()
	store.insertErr = errors.New("connection refused")
	handler := svc.Handler()

	scoreBytes, err := json.Marshal(scoreRecord(0.4))
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), &sarama.ConsumerMessage{Topic: eventlog.TopicScores, Value: scoreBytes}))
	assert.Equal(t, 5, testutil.CollectAndCount(collectors.Scores))
}
