// Package features derives the online feature vector for every event
// on the log. Each event is enriched exactly once from Redis-backed
// entity state; when the store is unreachable the affected feature
// degrades to its documented default and the vector is still emitted.
package features

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/state"
)

// FeaturesVersion stamps every vector with the feature schema version.
const FeaturesVersion = "v1"

// Defaults applied when the state store errors out mid-lookup.
const (
	defaultIPRisk       = 0.1
	defaultMerchantRisk = 0.05
	defaultAccountAge   = 365
)

// defaultGeolocation stands in while no resolver is wired.
var defaultGeolocation = models.Geolocation{
	Country:   "US",
	Region:    "CA",
	City:      "San Francisco",
	Latitude:  37.7749,
	Longitude: -122.4194,
}

type Engine struct {
	kv       *state.Client
	producer eventlog.Publisher
}

func NewEngine(kv *state.Client, producer eventlog.Publisher) *Engine {
	return &Engine{kv: kv, producer: producer}
}

// lookup tracks cache behavior across the per-event reads. A miss is
// normal lazy initialization; degraded means the store erred and a
// default stood in.
type lookup struct {
	miss     bool
	degraded bool
}

func (l *lookup) onMiss() { l.miss = true }

func (l *lookup) onError(feature string, err error) {
	l.miss = true
	l.degraded = true
	log.Warn().Err(err).Str("feature", feature).Msg("State store unavailable, feature degraded to default")
}

// ProcessTransaction derives the vector for a transaction and publishes
// it to features.online.v1 keyed by entity.
func (e *Engine) ProcessTransaction(ctx context.Context, event *models.TransactionEvent) (*models.FeatureVector, error) {
	start := time.Now()

	vector := &models.FeatureVector{
		EventID:           event.EventID,
		EntityID:          event.EntityID,
		Timestamp:         start.UTC(),
		Amount:            event.Amount,
		Currency:          event.Currency,
		Channel:           event.Channel,
		IPAddress:         event.IPAddress,
		MerchantCategory:  event.MerchantCategory,
		DeviceFingerprint: event.DeviceFingerprint,
		SessionID:         event.SessionID,
		UserAgentHash:     hashToken(event.UserAgent),
		FeaturesVersion:   FeaturesVersion,
	}

	track := &lookup{}
	e.applyVelocity(ctx, event.EntityID, vector, track)
	e.applyIPFeatures(ctx, event.IPAddress, event.EntityID, vector, track)
	e.applyMerchantRisk(ctx, event.MerchantID, vector, track)
	e.applyAccountAge(ctx, event.EntityID, vector, track)
	e.stampMetadata(vector, event.Timestamp, start, track)

	if err := e.publish(ctx, vector); err != nil {
		return nil, err
	}
	return vector, nil
}

// ProcessClaim derives the vector for a claim. Claims carry no network
// or merchant context, so those features stay at zero.
func (e *Engine) ProcessClaim(ctx context.Context, event *models.ClaimEvent) (*models.FeatureVector, error) {
	start := time.Now()

	vector := &models.FeatureVector{
		EventID:         event.EventID,
		EntityID:        event.EntityID,
		Timestamp:       start.UTC(),
		Amount:          event.ClaimAmount,
		Currency:        "USD",
		FeaturesVersion: FeaturesVersion,
	}

	track := &lookup{}
	e.applyVelocity(ctx, event.EntityID, vector, track)
	e.applyAccountAge(ctx, event.EntityID, vector, track)
	e.stampMetadata(vector, event.Timestamp, start, track)

	if err := e.publish(ctx, vector); err != nil {
		return nil, err
	}
	return vector, nil
}

// applyVelocity reads the window counters, then bumps them, so the
// vector never counts its own event.
func (e *Engine) applyVelocity(ctx context.Context, entityID string, vector *models.FeatureVector, track *lookup) {
	counts, err := e.kv.VelocityCounts(ctx, entityID)
	if err != nil {
		track.onError("velocity", err)
	} else {
		vector.Velocity1h = int(counts["1h"])
		vector.Velocity24h = int(counts["24h"])
		vector.Velocity7d = int(counts["7d"])
	}

	if err := e.kv.BumpVelocity(ctx, entityID); err != nil {
		log.Warn().Err(err).Str("entity_id", entityID).Msg("Failed to bump velocity counters")
	}
}

func (e *Engine) applyIPFeatures(ctx context.Context, ip, entityID string, vector *models.FeatureVector, track *lookup) {
	if ip == "" {
		return
	}

	risk, found, err := e.kv.GetFloat(ctx, state.IPRiskKey(ip))
	switch {
	case err != nil:
		track.onError("ip_risk", err)
		risk = defaultIPRisk
	case !found:
		track.onMiss()
		risk = pseudoIPRisk(ip)
		if err := e.kv.SetFloat(ctx, state.IPRiskKey(ip), risk, state.IPRiskTTL); err != nil {
			log.Warn().Err(err).Str("ip", ip).Msg("Failed to cache IP risk")
		}
	}
	vector.IPRisk = risk

	geo := models.Geolocation{}
	found, err = e.kv.GetJSON(ctx, state.GeoKey(ip), &geo)
	switch {
	case err != nil:
		track.onError("ip_geolocation", err)
		geo = defaultGeolocation
	case !found:
		track.onMiss()
		geo = defaultGeolocation
		if err := e.kv.SetJSON(ctx, state.GeoKey(ip), geo, state.GeoTTL); err != nil {
			log.Warn().Err(err).Str("ip", ip).Msg("Failed to cache geolocation")
		}
	}
	vector.IPGeolocation = &geo

	vector.GeoDistanceKm = e.distanceFromUsual(ctx, entityID, geo.Latitude, geo.Longitude, track)
}

// distanceFromUsual pins the first observed point as the entity's usual
// location and reports 0 for that event. Later events measure the
// great-circle distance; the hot path never moves the pin.
func (e *Engine) distanceFromUsual(ctx context.Context, entityID string, lat, lon float64, track *lookup) float64 {
	if lat == 0 && lon == 0 {
		return 0
	}

	var usual geoPoint
	found, err := e.kv.GetJSON(ctx, state.UsualLocationKey(entityID), &usual)
	if err != nil {
		track.onError("geo_distance", err)
		return 0
	}
	if !found {
		track.onMiss()
		usual = geoPoint{Lat: lat, Lon: lon}
		if err := e.kv.SetJSON(ctx, state.UsualLocationKey(entityID), usual, state.UsualLocationTTL); err != nil {
			log.Warn().Err(err).Str("entity_id", entityID).Msg("Failed to pin usual location")
		}
		return 0
	}
	return haversineKm(usual.Lat, usual.Lon, lat, lon)
}

func (e *Engine) applyMerchantRisk(ctx context.Context, merchantID string, vector *models.FeatureVector, track *lookup) {
	if merchantID == "" {
		return
	}

	risk, found, err := e.kv.GetFloat(ctx, state.MerchantRiskKey(merchantID))
	switch {
	case err != nil:
		track.onError("merchant_risk", err)
		risk = defaultMerchantRisk
	case !found:
		track.onMiss()
		risk = defaultMerchantRisk
		if err := e.kv.SetFloat(ctx, state.MerchantRiskKey(merchantID), risk, state.MerchantRiskTTL); err != nil {
			log.Warn().Err(err).Str("merchant_id", merchantID).Msg("Failed to cache merchant risk")
		}
	}
	vector.MerchantRisk = risk
}

func (e *Engine) applyAccountAge(ctx context.Context, entityID string, vector *models.FeatureVector, track *lookup) {
	age, found, err := e.kv.GetFloat(ctx, state.AccountAgeKey(entityID))
	switch {
	case err != nil:
		track.onError("account_age", err)
		age = defaultAccountAge
	case !found:
		track.onMiss()
		age = defaultAccountAge
		if err := e.kv.SetFloat(ctx, state.AccountAgeKey(entityID), age, state.AccountAgeTTL); err != nil {
			log.Warn().Err(err).Str("entity_id", entityID).Msg("Failed to cache account age")
		}
	}
	vector.AgeDays = int(age)
}

// stampMetadata records compute time and cache behavior. A degraded
// vector carries the event's age so consumers can judge staleness.
func (e *Engine) stampMetadata(vector *models.FeatureVector, eventTime, start time.Time, track *lookup) {
	vector.FeatureMetadata = models.FeatureMetadata{
		ComputationTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		CacheHit:          !track.miss,
	}
	if track.degraded && !eventTime.IsZero() {
		vector.FeatureMetadata.DataFreshnessMinutes = time.Since(eventTime).Minutes()
	}
}

func (e *Engine) publish(ctx context.Context, vector *models.FeatureVector) error {
	if err := e.producer.Publish(ctx, eventlog.TopicFeatures, vector.EntityID, vector); err != nil {
		return fmt.Errorf("failed to publish features for %s: %w", vector.EventID, err)
	}

	log.Info().
		Str("event_id", vector.EventID).
		Str("entity_id", vector.EntityID).
		Int("velocity_1h", vector.Velocity1h).
		Float64("ip_risk", vector.IPRisk).
		Float64("geo_distance_km", vector.GeoDistanceKm).
		Msg("Feature vector published")
	return nil
}

// geoPoint is the stored usual-location shape.
type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// pseudoIPRisk derives a stable stand-in score from the address while
// no reputation provider is wired. Values land in [0, 0.3).
func pseudoIPRisk(ip string) float64 {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return float64(h.Sum32()%300) / 1000.0
}

// hashToken fingerprints a free-form token such as a user agent.
func hashToken(s string) string {
	if s == "" {
		return ""
	}
	h := fnv.New64a()
	h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
