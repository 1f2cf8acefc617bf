// Package scoring turns online feature vectors into calibrated
// ensemble risk scores. Scoring is pure and deterministic: the same
// vector always yields the same scores and the same explanation.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

// neutralScore stands in for an absent model so the ensemble stays
// defined while a deployment runs without artifacts.
const neutralScore = 0.1

const degradedModelVersion = "degraded"

const maxExplainFeatures = 5

// rulePredicate is one weighted predicate of the baseline rules model.
// Tiered thresholds are spelled out as disjoint predicates so each
// fires alone.
type rulePredicate struct {
	Feature     string
	ScoreImpact float64
	Evaluate    func(f [featureCount]float64) bool
}

var baselineRules = []rulePredicate{
	{Feature: "amount", ScoreImpact: 0.3, Evaluate: func(f [featureCount]float64) bool {
		return f[idxAmount] > 10000
	}},
	{Feature: "velocity_1h", ScoreImpact: 0.4, Evaluate: func(f [featureCount]float64) bool {
		return f[idxVelocity1h] > 10
	}},
	{Feature: "velocity_1h", ScoreImpact: 0.2, Evaluate: func(f [featureCount]float64) bool {
		return f[idxVelocity1h] > 5 && f[idxVelocity1h] <= 10
	}},
	{Feature: "ip_risk", ScoreImpact: 0.3, Evaluate: func(f [featureCount]float64) bool {
		return f[idxIPRisk] > 0.8
	}},
	{Feature: "ip_risk", ScoreImpact: 0.1, Evaluate: func(f [featureCount]float64) bool {
		return f[idxIPRisk] > 0.5 && f[idxIPRisk] <= 0.8
	}},
	{Feature: "geo_distance_km", ScoreImpact: 0.2, Evaluate: func(f [featureCount]float64) bool {
		return f[idxGeoDistanceKm] > 1000
	}},
	{Feature: "geo_distance_km", ScoreImpact: 0.1, Evaluate: func(f [featureCount]float64) bool {
		return f[idxGeoDistanceKm] > 500 && f[idxGeoDistanceKm] <= 1000
	}},
	{Feature: "merchant_risk", ScoreImpact: 0.2, Evaluate: func(f [featureCount]float64) bool {
		return f[idxMerchantRisk] > 0.7
	}},
}

// Engine runs the three-way ensemble over feature vectors.
type Engine struct {
	producer     eventlog.Publisher
	cfg          configs.ScoringConfig
	gradient     *GradientModel
	neural       *NeuralModel
	modelVersion string
}

// NewEngine wires the surrogate model handles. Weights come validated
// from config; they sum to 1 or the binary refused to start.
func NewEngine(cfg configs.ScoringConfig, producer eventlog.Publisher) *Engine {
	engine := &Engine{
		producer: producer,
		cfg:      cfg,
		gradient: &GradientModel{},
		neural:   NewNeuralModel(),
	}
	engine.modelVersion = engine.gradient.Version() + "_" + engine.neural.Version()
	return engine
}

// NewDegradedEngine builds an engine with no model handles. Both model
// scores pin to the neutral default and the output is stamped
// "degraded" so downstream consumers can tell.
func NewDegradedEngine(cfg configs.ScoringConfig, producer eventlog.Publisher) *Engine {
	return &Engine{
		producer:     producer,
		cfg:          cfg,
		modelVersion: degradedModelVersion,
	}
}

// ScoreVector runs the ensemble over one vector. All five scores land
// in [0,1] rounded to 4 decimals; the explanation is never omitted.
func (e *Engine) ScoreVector(vector *models.FeatureVector) *models.ScoreOutput {
	start := time.Now()
	feats := extractFeatures(vector)

	xgb := neutralScore
	if e.gradient != nil {
		xgb = e.gradient.PredictProba(feats)
	}
	nn := neutralScore
	if e.neural != nil {
		nn = e.neural.PredictProba(feats)
	}
	rules, fired := e.applyRules(feats)

	ensemble := e.cfg.WeightXGB*xgb + e.cfg.WeightNN*nn + e.cfg.WeightRules*rules
	calibrated := e.calibrate(ensemble)

	output := &models.ScoreOutput{
		EventID: vector.EventID,
		Scores: models.ModelScores{
			XGB:        round4(clamp01(xgb)),
			NN:         round4(clamp01(nn)),
			Rules:      round4(rules),
			Ensemble:   round4(clamp01(ensemble)),
			Calibrated: round4(clamp01(calibrated)),
		},
		Explain:      e.explain(feats, fired),
		ModelVersion: e.modelVersion,
		Features:     vector,
	}
	output.ComputationTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return output
}

// ScoreAndPublish scores a vector and appends the result to
// alerts.scores.v1 keyed by entity.
func (e *Engine) ScoreAndPublish(ctx context.Context, vector *models.FeatureVector) (*models.ScoreOutput, error) {
	output := e.ScoreVector(vector)

	if err := e.producer.Publish(ctx, eventlog.TopicScores, vector.EntityID, output); err != nil {
		return nil, fmt.Errorf("failed to publish scores for %s: %w", vector.EventID, err)
	}

	log.Info().
		Str("event_id", output.EventID).
		Str("entity_id", vector.EntityID).
		Float64("ensemble", output.Scores.Ensemble).
		Float64("calibrated", output.Scores.Calibrated).
		Str("model_version", output.ModelVersion).
		Msg("Feature vector scored")
	return output, nil
}

// applyRules sums the fired predicates, clamped to 1.
func (e *Engine) applyRules(feats [featureCount]float64) (float64, []models.FeatureContribution) {
	var total float64
	var fired []models.FeatureContribution

	for _, rule := range baselineRules {
		if rule.Evaluate(feats) {
			total += rule.ScoreImpact
			fired = append(fired, models.FeatureContribution{
				Feature:    rule.Feature,
				Importance: rule.ScoreImpact,
			})
		}
	}

	if total > 1 {
		total = 1
	}
	return total, fired
}

// calibrate applies the Platt transform for the engine's model
// version, falling back to the global (k, x0).
func (e *Engine) calibrate(s float64) float64 {
	k, x0 := e.cfg.PlattK, e.cfg.PlattX0
	if p, ok := e.cfg.PlattOverrides[e.modelVersion]; ok {
		k, x0 = p.K, p.X0
	}
	return 1 / (1 + math.Exp(-k*(s-x0)))
}

// explain ranks attributions by |importance|, keeping the top 5. With
// no gradient handle the deterministic proxy plus the fired rule
// predicates stand in.
func (e *Engine) explain(feats [featureCount]float64, fired []models.FeatureContribution) *models.FeatureExplanation {
	var contribs []models.FeatureContribution
	if e.gradient != nil {
		contribs = e.gradient.Attributions(feats)
	} else {
		contribs = append(attributionProxy(feats), fired...)
	}

	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Importance) > math.Abs(contribs[j].Importance)
	})
	if len(contribs) > maxExplainFeatures {
		contribs = contribs[:maxExplainFeatures]
	}
	for i := range contribs {
		contribs[i].Importance = round4(contribs[i].Importance)
	}
	return &models.FeatureExplanation{TopFeatures: contribs}
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
