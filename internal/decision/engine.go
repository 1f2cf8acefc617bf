package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

const (
	// velocityHighCount is the 1h count at which velocity_high fires.
	velocityHighCount = 8

	// proxyRiskThreshold is the IP risk at which ip_proxy_match fires.
	proxyRiskThreshold = 0.8

	// watchlistBlockThreshold splits watchlist overrides into block
	// versus hold.
	watchlistBlockThreshold = 0.8
)

// Engine turns scored events into decisions.
type Engine struct {
	producer eventlog.Publisher
	policies *PolicyProvider
	signals  *Detector
	trusted  map[string]bool
}

func NewEngine(cfg configs.DecisionConfig, policies *PolicyProvider, signals *Detector, producer eventlog.Publisher) *Engine {
	trusted := make(map[string]bool, len(cfg.TrustedChannels))
	for _, ch := range cfg.TrustedChannels {
		trusted[ch] = true
	}
	return &Engine{
		producer: producer,
		policies: policies,
		signals:  signals,
		trusted:  trusted,
	}
}

// Policies exposes the provider for the policy endpoints.
func (e *Engine) Policies() *PolicyProvider {
	return e.policies
}

// Decide runs one scored event through the policy and the side
// signals. Signal failures degrade to "no signal", so Decide always
// produces a decision.
func (e *Engine) Decide(ctx context.Context, score *models.ScoreOutput) *models.DecisionOutput {
	start := time.Now()
	features := score.Features

	reasons := e.deriveReasons(features)
	policy := e.policies.Current()
	action, codes := policy.Evaluate(score.Scores, reasons)
	reasons = append(reasons, codes...)

	var entityID, ip, device string
	var v1h, v24h int
	if features != nil {
		entityID = features.EntityID
		ip = features.IPAddress
		device = features.DeviceFingerprint
		v1h, v24h = features.Velocity1h, features.Velocity24h
	}

	hits := e.signals.Watchlists(ctx, entityID, ip, device)
	if len(hits) > 0 {
		if score.Scores.Calibrated >= watchlistBlockThreshold {
			action = models.ActionBlock
		} else {
			action = models.ActionHold
		}
		reasons = append(reasons, hits...)
	}

	velocityAnomaly := e.signals.VelocityAnomaly(ctx, entityID, v1h, v24h)
	if velocityAnomaly {
		if action == models.ActionAllow {
			action = models.ActionHold
		}
		reasons = append(reasons, models.ReasonVelocityAnomaly)
	}

	graphAnomaly := e.signals.GraphAnomaly(ctx, entityID, device)
	if graphAnomaly {
		if action == models.ActionAllow {
			action = models.ActionHold
		}
		reasons = append(reasons, models.ReasonGraphAnomaly)
	}

	decision := &models.DecisionOutput{
		EventID:         score.EventID,
		EntityID:        entityID,
		Risk:            score.Scores.Calibrated,
		Action:          action,
		Policy:          policy.Version,
		Reasons:         reasons,
		WatchlistHits:   hits,
		VelocityAnomaly: velocityAnomaly,
		GraphAnomaly:    graphAnomaly,
	}
	if action != models.ActionAllow {
		decision.CaseID = newCaseID()
	}
	decision.DecisionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return decision
}

// DecideAndPublish decides and appends the result to
// alerts.decisions.v1 keyed by entity. Events without feature context
// key by event id instead.
func (e *Engine) DecideAndPublish(ctx context.Context, score *models.ScoreOutput) (*models.DecisionOutput, error) {
	decision := e.Decide(ctx, score)

	key := decision.EntityID
	if key == "" {
		key = decision.EventID
	}
	if err := e.producer.Publish(ctx, eventlog.TopicDecisions, key, decision); err != nil {
		return nil, fmt.Errorf("failed to publish decision for %s: %w", decision.EventID, err)
	}

	log.Info().
		Str("event_id", decision.EventID).
		Str("entity_id", decision.EntityID).
		Str("action", decision.Action).
		Str("policy", decision.Policy).
		Float64("risk", decision.Risk).
		Str("case_id", decision.CaseID).
		Msg("Decision made")
	return decision, nil
}

// deriveReasons computes the pre-policy signal codes from the feature
// context. Claims carry no channel, so the channel check skips them.
func (e *Engine) deriveReasons(v *models.FeatureVector) []string {
	reasons := make([]string, 0, 4)
	if v == nil {
		return reasons
	}
	if v.Velocity1h >= velocityHighCount {
		reasons = append(reasons, models.ReasonVelocityHigh)
	}
	if v.IPRisk >= proxyRiskThreshold {
		reasons = append(reasons, models.ReasonIPProxyMatch)
	}
	if v.Channel != "" && !e.trusted[v.Channel] {
		reasons = append(reasons, models.ReasonUntrustedChannel)
	}
	return reasons
}

// newCaseID allocates a short case handle for non-allow decisions.
func newCaseID() string {
	return "CASE-" + strings.ToUpper(uuid.NewString()[:8])
}
