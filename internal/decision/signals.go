package decision

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/state"
)

const (
	// emaAlpha weights the newest observation in the velocity baseline.
	emaAlpha = 0.1

	// Spike factors over the per-window baselines.
	velocitySpikeFactor1h  = 3.0
	velocitySpikeFactor24h = 2.0

	// deviceFanOutLimit is the number of distinct entities a device may
	// accumulate before it is flagged.
	deviceFanOutLimit = 5
)

// Detector consults the shared state store for decision side signals.
// A store error never fails the decision: the signal reads as absent
// and the degradation is logged.
type Detector struct {
	kv *state.Client
}

func NewDetector(kv *state.Client) *Detector {
	return &Detector{kv: kv}
}

// Watchlists returns the hit labels for the entity, IP and device
// watchlist sets. Empty identifiers are not looked up.
func (d *Detector) Watchlists(ctx context.Context, entityID, ip, device string) []string {
	var hits []string

	if entityID != "" && d.member(ctx, state.WatchlistEntities, entityID) {
		hits = append(hits, models.ReasonEntityWatchlist)
	}
	if ip != "" && d.member(ctx, state.WatchlistIPs, ip) {
		hits = append(hits, models.ReasonIPWatchlist)
	}
	if device != "" && d.member(ctx, state.WatchlistDevices, device) {
		hits = append(hits, models.ReasonDeviceWatchlist)
	}
	return hits
}

func (d *Detector) member(ctx context.Context, key, value string) bool {
	hit, err := d.kv.SIsMember(ctx, key, value)
	if err != nil {
		log.Warn().Err(err).Str("watchlist", key).Msg("Watchlist unavailable, treating as no hit")
		return false
	}
	return hit
}

// VelocityAnomaly compares the current window counts to the entity's
// exponential moving averages. The baselines only learn from unflagged
// observations, so a sustained burst cannot drag its own bar up.
func (d *Detector) VelocityAnomaly(ctx context.Context, entityID string, v1h, v24h int) bool {
	if entityID == "" {
		return false
	}

	key1h := state.VelocityPatternKey("1h", entityID)
	key24h := state.VelocityPatternKey("24h", entityID)

	ema1h, found1h, err := d.kv.GetFloat(ctx, key1h)
	if err != nil {
		log.Warn().Err(err).Str("entity_id", entityID).Msg("Velocity baseline unavailable, skipping anomaly check")
		return false
	}
	ema24h, found24h, err := d.kv.GetFloat(ctx, key24h)
	if err != nil {
		log.Warn().Err(err).Str("entity_id", entityID).Msg("Velocity baseline unavailable, skipping anomaly check")
		return false
	}

	if found1h && float64(v1h) > velocitySpikeFactor1h*ema1h {
		return true
	}
	if found24h && float64(v24h) > velocitySpikeFactor24h*ema24h {
		return true
	}

	d.storeBaseline(ctx, key1h, nextEMA(ema1h, found1h, float64(v1h)))
	d.storeBaseline(ctx, key24h, nextEMA(ema24h, found24h, float64(v24h)))
	return false
}

// nextEMA folds the observation into the baseline; an entity's first
// observation becomes the baseline itself.
func nextEMA(prev float64, found bool, current float64) float64 {
	if !found {
		return current
	}
	return emaAlpha*current + (1-emaAlpha)*prev
}

func (d *Detector) storeBaseline(ctx context.Context, key string, value float64) {
	if err := d.kv.SetFloat(ctx, key, value, state.PatternTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to update velocity baseline")
	}
}

// GraphAnomaly links the entity to the device fingerprint and flags
// the device once it has fanned out across too many distinct entities.
// The count includes the entity just inserted.
func (d *Detector) GraphAnomaly(ctx context.Context, entityID, device string) bool {
	if entityID == "" || device == "" {
		return false
	}

	key := state.DeviceAccountsKey(device)
	if err := d.kv.SAddWithTTL(ctx, key, entityID, state.DeviceGraphTTL); err != nil {
		log.Warn().Err(err).Str("device", device).Msg("Device graph unavailable, skipping anomaly check")
		return false
	}

	count, err := d.kv.SCard(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("device", device).Msg("Device graph unavailable, skipping anomaly check")
		return false
	}
	return count > deviceFanOutLimit
}
