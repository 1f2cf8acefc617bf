package decision

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/repositories"
)

func testDecisionConfig() configs.DecisionConfig {
	return configs.DecisionConfig{
		BlockThreshold:  0.90,
		HoldThreshold:   0.70,
		TrustedChannels: []string{models.ChannelMobile},
	}
}

func calibratedScores(v float64) models.ModelScores {
	return models.ModelScores{XGB: v, NN: v, Rules: v, Ensemble: v, Calibrated: v}
}

// policyRecord packs a policy document into the row shape the
// repository returns.
func policyRecord(t *testing.T, version string, policy *Policy) *models.PolicyRecord {
	t.Helper()
	raw, err := json.Marshal(policy)
	require.NoError(t, err)
	var config models.JSONB
	require.NoError(t, json.Unmarshal(raw, &config))
	return &models.PolicyRecord{
		ID:            1,
		PolicyConfig:  config,
		Version:       version,
		IsActive:      true,
		EffectiveDate: time.Now().UTC(),
	}
}

type fakeFetcher struct {
	record *models.PolicyRecord
	err    error
}

func (f *fakeFetcher) GetActive(ctx context.Context) (*models.PolicyRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

func TestDefaultPolicyBaseline(t *testing.T) {
	policy := DefaultPolicy(testDecisionConfig())

	cases := []struct {
		name    string
		score   float64
		reasons []string
		want    string
	}{
		{"very high score blocks", 0.95, nil, models.ActionBlock},
		{"block threshold is inclusive", 0.90, nil, models.ActionBlock},
		{"proxy lowers the block bar", 0.85, []string{models.ReasonIPProxyMatch}, models.ActionBlock},
		{"elevated score holds", 0.85, nil, models.ActionHold},
		{"hold threshold is inclusive", 0.70, nil, models.ActionHold},
		{"hot velocity holds below threshold", 0.50, []string{models.ReasonVelocityHigh}, models.ActionHold},
		{"low score allows", 0.18, nil, models.ActionAllow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, _ := policy.Evaluate(calibratedScores(tc.score), tc.reasons)
			assert.Equal(t, tc.want, action)
		})
	}
}

func TestPolicyFirstMatchWins(t *testing.T) {
	policy := &Policy{
		Version: "test",
		Groups: []RuleGroup{
			{
				Action:      models.ActionEscalate,
				ReasonCodes: []string{"manual_review"},
				Conditions:  []Condition{{Scores: map[string]ScoreBound{"rules": {GTE: bound(0.9)}}}},
			},
			{
				Action:     models.ActionBlock,
				Conditions: []Condition{{Scores: map[string]ScoreBound{"calibrated": {GTE: bound(0.5)}}}},
			},
			{
				Action:     models.ActionAllow,
				Conditions: []Condition{{}},
			},
		},
	}

	scores := calibratedScores(0.95)
	action, codes := policy.Evaluate(scores, nil)
	assert.Equal(t, models.ActionEscalate, action)
	assert.Equal(t, []string{"manual_review"}, codes)

	scores.Rules = 0.1
	action, _ = policy.Evaluate(scores, nil)
	assert.Equal(t, models.ActionBlock, action)
}

func TestScoreBoundIsHalfOpen(t *testing.T) {
	cond := Condition{Scores: map[string]ScoreBound{"calibrated": {GTE: bound(0.3), LT: bound(0.7)}}}

	assert.True(t, cond.match(calibratedScores(0.3), nil))
	assert.True(t, cond.match(calibratedScores(0.699), nil))
	assert.False(t, cond.match(calibratedScores(0.7), nil))
	assert.False(t, cond.match(calibratedScores(0.299), nil))
}

func TestConditionRequiresReason(t *testing.T) {
	cond := Condition{Reason: models.ReasonVelocityHigh}

	assert.False(t, cond.match(calibratedScores(0.99), nil))
	assert.True(t, cond.match(calibratedScores(0.0), map[string]bool{models.ReasonVelocityHigh: true}))
}

func TestEmptyConditionMatchesEverything(t *testing.T) {
	assert.True(t, Condition{}.match(models.ModelScores{}, nil))
}

func TestNoMatchingGroupFallsBackToAllow(t *testing.T) {
	policy := &Policy{
		Version: "test",
		Groups: []RuleGroup{
			{
				Action:     models.ActionBlock,
				Conditions: []Condition{{Scores: map[string]ScoreBound{"calibrated": {GTE: bound(0.9)}}}},
			},
		},
	}

	action, codes := policy.Evaluate(calibratedScores(0.1), nil)
	assert.Equal(t, models.ActionAllow, action)
	assert.Empty(t, codes)
}

func TestPolicyFromRecordTakesVersionFromRow(t *testing.T) {
	doc := DefaultPolicy(testDecisionConfig())
	doc.Version = "embedded"

	policy, err := policyFromRecord(policyRecord(t, "v2.3", doc))
	require.NoError(t, err)
	assert.Equal(t, "v2.3", policy.Version)
	assert.Len(t, policy.Groups, 3)
}

func TestPolicyFromRecordRejectsBadDocuments(t *testing.T) {
	badAction := &Policy{Groups: []RuleGroup{{Action: "review", Conditions: []Condition{{}}}}}
	_, err := policyFromRecord(policyRecord(t, "v9", badAction))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")

	badScore := &Policy{Groups: []RuleGroup{{
		Action:     models.ActionBlock,
		Conditions: []Condition{{Scores: map[string]ScoreBound{"vibes": {GTE: bound(0.5)}}}},
	}}}
	_, err = policyFromRecord(policyRecord(t, "v9", badScore))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown score")

	noGroups := &Policy{}
	_, err = policyFromRecord(policyRecord(t, "v9", noGroups))
	require.Error(t, err)
}

func TestProviderReloadSwapsPolicy(t *testing.T) {
	strict := &Policy{
		Groups: []RuleGroup{
			{Action: models.ActionBlock, Conditions: []Condition{{Scores: map[string]ScoreBound{"calibrated": {GTE: bound(0.5)}}}}},
			{Action: models.ActionAllow, Conditions: []Condition{{}}},
		},
	}
	fetcher := &fakeFetcher{record: policyRecord(t, "v2.0", strict)}
	provider := NewPolicyProvider(testDecisionConfig(), fetcher)

	assert.Equal(t, defaultPolicyVersion, provider.Current().Version)

	fresh, err := provider.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2.0", fresh.Version)
	assert.Equal(t, "v2.0", provider.Current().Version)

	action, _ := provider.Current().Evaluate(calibratedScores(0.6), nil)
	assert.Equal(t, models.ActionBlock, action)
}

func TestProviderKeepsPolicyOnFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("index store down")}
	provider := NewPolicyProvider(testDecisionConfig(), fetcher)

	_, err := provider.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, defaultPolicyVersion, provider.Current().Version)
}

func TestProviderKeepsPolicyOnBadDocument(t *testing.T) {
	bad := &Policy{Groups: []RuleGroup{{Action: "nonsense", Conditions: []Condition{{}}}}}
	fetcher := &fakeFetcher{record: policyRecord(t, "v3.0", bad)}
	provider := NewPolicyProvider(testDecisionConfig(), fetcher)

	_, err := provider.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, defaultPolicyVersion, provider.Current().Version)
}

func TestProviderFallsBackToDefaultWhenDeactivated(t *testing.T) {
	strict := &Policy{
		Groups: []RuleGroup{{Action: models.ActionAllow, Conditions: []Condition{{}}}},
	}
	fetcher := &fakeFetcher{record: policyRecord(t, "v2.0", strict)}
	provider := NewPolicyProvider(testDecisionConfig(), fetcher)

	_, err := provider.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v2.0", provider.Current().Version)

	fetcher.record = nil
	fetcher.err = repositories.ErrNoActivePolicy
	fresh, err := provider.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultPolicyVersion, fresh.Version)
	assert.Equal(t, defaultPolicyVersion, provider.Current().Version)
}
