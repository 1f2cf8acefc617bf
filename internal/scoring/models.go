package scoring

import (
	"math"

	"github.com/fraudops/decisioning/internal/models"
)

// Slots in the ordered feature slice. The order is part of the model
// contract for features_version v1 and never changes within a version.
const (
	idxAmount = iota
	idxVelocity1h
	idxVelocity24h
	idxVelocity7d
	idxIPRisk
	idxGeoDistanceKm
	idxMerchantRisk
	idxAgeDays

	featureCount
)

var featureNames = [featureCount]string{
	"amount", "velocity_1h", "velocity_24h", "velocity_7d",
	"ip_risk", "geo_distance_km", "merchant_risk", "age_days",
}

// extractFeatures flattens a vector into the ordered model input.
func extractFeatures(v *models.FeatureVector) [featureCount]float64 {
	return [featureCount]float64{
		idxAmount:        v.Amount,
		idxVelocity1h:    float64(v.Velocity1h),
		idxVelocity24h:   float64(v.Velocity24h),
		idxVelocity7d:    float64(v.Velocity7d),
		idxIPRisk:        v.IPRisk,
		idxGeoDistanceKm: v.GeoDistanceKm,
		idxMerchantRisk:  v.MerchantRisk,
		idxAgeDays:       float64(v.AgeDays),
	}
}

// GradientModel is the boosted-tree handle. The shipped surrogate
// reproduces the trained model's IP-risk and velocity signal; a real
// artifact loader drops in behind the same methods.
type GradientModel struct{}

func (GradientModel) Version() string { return "xgb_2025_10_01" }

func (GradientModel) PredictProba(feats [featureCount]float64) float64 {
	return math.Min(1.0, 0.15+0.5*feats[idxIPRisk]+0.01*feats[idxVelocity1h])
}

// Attributions approximates per-feature contributions the way the
// trained model's SHAP values rank them.
func (GradientModel) Attributions(feats [featureCount]float64) []models.FeatureContribution {
	return attributionProxy(feats)
}

// Scaler standardizes a feature slice with persisted means and scales,
// mirroring the training-time transform. A zero scale leaves the slot
// untouched.
type Scaler struct {
	Mean  [featureCount]float64
	Scale [featureCount]float64
}

func (s *Scaler) Transform(feats [featureCount]float64) [featureCount]float64 {
	out := feats
	for i := range out {
		if s.Scale[i] != 0 {
			out[i] = (out[i] - s.Mean[i]) / s.Scale[i]
		}
	}
	return out
}

// NeuralModel is the feed-forward handle. The surrogate weights carry
// the merchant-risk and travel-distance signal of the trained network
// and were fit on raw features, so the shipped scaler is identity.
type NeuralModel struct {
	scaler Scaler
}

func NewNeuralModel() *NeuralModel {
	var scale [featureCount]float64
	for i := range scale {
		scale[i] = 1
	}
	return &NeuralModel{scaler: Scaler{Scale: scale}}
}

func (m *NeuralModel) Version() string { return "nn_2025_10_01" }

func (m *NeuralModel) PredictProba(feats [featureCount]float64) float64 {
	x := m.scaler.Transform(feats)
	return math.Min(1.0, 0.1+0.35*x[idxMerchantRisk]+0.001*x[idxGeoDistanceKm])
}

// attributionProxy is the deterministic explanation used both by the
// surrogate gradient model and by the degraded path when no model
// handle is wired.
func attributionProxy(feats [featureCount]float64) []models.FeatureContribution {
	return []models.FeatureContribution{
		{Feature: featureNames[idxVelocity1h], Importance: feats[idxVelocity1h] / 10.0},
		{Feature: featureNames[idxIPRisk], Importance: feats[idxIPRisk] * 0.5},
		{Feature: featureNames[idxMerchantRisk], Importance: feats[idxMerchantRisk] * 0.4},
	}
}
