// Package decision applies the active policy and the side-signal
// detectors to scored events and emits the final action. The policy is
// a versioned, ordered rule-group document; side signals (watchlists,
// velocity and graph anomalies) come from the shared state store.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/repositories"
)

// defaultPolicyVersion stamps decisions made with the built-in policy.
const defaultPolicyVersion = "v1.0"

// proxyBlockThreshold is the lower block bar that applies when the
// ip_proxy_match reason fired.
const proxyBlockThreshold = 0.80

// ScoreBound is a half-open numeric range test. Unset bounds pass.
type ScoreBound struct {
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
}

// Condition is a conjunction: every named score bound must hold, and
// the required reason (when set) must have fired. The empty condition
// matches every event.
type Condition struct {
	Scores map[string]ScoreBound `json:"scores,omitempty"`
	Reason string                `json:"reason,omitempty"`
}

// RuleGroup maps a disjunction of conditions to a resulting action.
// ReasonCodes are appended to the decision when the group matches.
type RuleGroup struct {
	Action      string      `json:"action"`
	ReasonCodes []string    `json:"reason_codes,omitempty"`
	Conditions  []Condition `json:"conditions"`
}

// Policy is an immutable rule-group document. Groups are ordered by
// severity and tried in order; the first match decides.
type Policy struct {
	Version string      `json:"version"`
	Groups  []RuleGroup `json:"groups"`
}

// Evaluate returns the first matching group's action and reason codes.
// reasons are the pre-derived signal codes a condition may require.
func (p *Policy) Evaluate(scores models.ModelScores, reasons []string) (string, []string) {
	fired := make(map[string]bool, len(reasons))
	for _, r := range reasons {
		fired[r] = true
	}

	for _, group := range p.Groups {
		for _, cond := range group.Conditions {
			if cond.match(scores, fired) {
				return group.Action, group.ReasonCodes
			}
		}
	}
	return models.ActionAllow, nil
}

func (c Condition) match(scores models.ModelScores, fired map[string]bool) bool {
	for name, bound := range c.Scores {
		value, ok := scoreByName(scores, name)
		if !ok {
			return false
		}
		if bound.GTE != nil && value < *bound.GTE {
			return false
		}
		if bound.LT != nil && value >= *bound.LT {
			return false
		}
	}
	if c.Reason != "" && !fired[c.Reason] {
		return false
	}
	return true
}

func scoreByName(s models.ModelScores, name string) (float64, bool) {
	switch name {
	case "xgb":
		return s.XGB, true
	case "nn":
		return s.NN, true
	case "rules":
		return s.Rules, true
	case "ensemble":
		return s.Ensemble, true
	case "calibrated":
		return s.Calibrated, true
	default:
		return 0, false
	}
}

func (p *Policy) validate() error {
	if p.Version == "" {
		return fmt.Errorf("policy version is required")
	}
	if len(p.Groups) == 0 {
		return fmt.Errorf("policy has no rule groups")
	}
	for i, group := range p.Groups {
		if !models.ValidAction(group.Action) {
			return fmt.Errorf("group %d: action must be one of allow, hold, block, escalate", i)
		}
		if len(group.Conditions) == 0 {
			return fmt.Errorf("group %d: at least one condition is required", i)
		}
		for j, cond := range group.Conditions {
			for name := range cond.Scores {
				if _, ok := scoreByName(models.ModelScores{}, name); !ok {
					return fmt.Errorf("group %d condition %d: unknown score %q", i, j, name)
				}
			}
		}
	}
	return nil
}

// DefaultPolicy is the built-in baseline: block on very high scores or
// proxy-flagged scores above the lower bar, hold on elevated scores or
// hot velocity, allow everything else.
func DefaultPolicy(cfg configs.DecisionConfig) *Policy {
	return &Policy{
		Version: defaultPolicyVersion,
		Groups: []RuleGroup{
			{
				Action:      models.ActionBlock,
				ReasonCodes: []string{"high_risk_score"},
				Conditions: []Condition{
					{Scores: map[string]ScoreBound{"calibrated": {GTE: bound(cfg.BlockThreshold)}}},
					{Scores: map[string]ScoreBound{"calibrated": {GTE: bound(proxyBlockThreshold)}}, Reason: models.ReasonIPProxyMatch},
				},
			},
			{
				Action: models.ActionHold,
				Conditions: []Condition{
					{Scores: map[string]ScoreBound{"calibrated": {GTE: bound(cfg.HoldThreshold)}}},
					{Reason: models.ReasonVelocityHigh},
				},
			},
			{
				Action:     models.ActionAllow,
				Conditions: []Condition{{}},
			},
		},
	}
}

func bound(v float64) *float64 { return &v }

// policyFromRecord decodes a stored policy document. The version
// column on the row wins over any version embedded in the document.
func policyFromRecord(record *models.PolicyRecord) (*Policy, error) {
	raw, err := record.PolicyConfig.Value()
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy config: %w", err)
	}

	policy := &Policy{}
	if err := json.Unmarshal(raw, policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy config: %w", err)
	}
	policy.Version = record.Version

	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("policy %s is invalid: %w", record.Version, err)
	}
	return policy, nil
}

// PolicyFetcher loads the active policy row from the index store.
// *repositories.PolicyRepository implements it.
type PolicyFetcher interface {
	GetActive(ctx context.Context) (*models.PolicyRecord, error)
}

// PolicyProvider holds the policy decisions are made with. Reload
// builds a fresh immutable Policy and swaps the pointer under the
// lock, so a reader never observes a partially updated document.
type PolicyProvider struct {
	fetcher PolicyFetcher
	cfg     configs.DecisionConfig

	mu      sync.RWMutex
	current *Policy
}

// NewPolicyProvider starts on the built-in default until the first
// Reload succeeds.
func NewPolicyProvider(cfg configs.DecisionConfig, fetcher PolicyFetcher) *PolicyProvider {
	return &PolicyProvider{
		fetcher: fetcher,
		cfg:     cfg,
		current: DefaultPolicy(cfg),
	}
}

// Current returns the policy in force.
func (p *PolicyProvider) Current() *Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Reload fetches the active policy row and swaps it in. With no active
// row the built-in default takes over. On fetch or parse errors the
// running policy stays in force and the error is returned.
func (p *PolicyProvider) Reload(ctx context.Context) (*Policy, error) {
	record, err := p.fetcher.GetActive(ctx)
	if errors.Is(err, repositories.ErrNoActivePolicy) {
		fresh := DefaultPolicy(p.cfg)
		p.swap(fresh)
		log.Info().Str("policy_version", fresh.Version).Msg("No active policy row, using built-in default")
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}

	fresh, err := policyFromRecord(record)
	if err != nil {
		return nil, err
	}
	p.swap(fresh)
	log.Info().Str("policy_version", fresh.Version).Msg("Decision policy loaded")
	return fresh, nil
}

func (p *PolicyProvider) swap(policy *Policy) {
	p.mu.Lock()
	p.current = policy
	p.mu.Unlock()
}
