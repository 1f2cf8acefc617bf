package decision

import (
	"context"
	"regexp"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fraudops/decisioning/internal/models"
)

// TestActionDomainAndCaseCouplingProperties drives the engine across
// arbitrary risk, velocity, channel and device mixes. Whatever the
// side signals do, the action must come from the closed set and the
// case id must appear exactly on non-allow outcomes.
func TestActionDomainAndCaseCouplingProperties(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	validActions := map[string]bool{
		models.ActionAllow:    true,
		models.ActionHold:     true,
		models.ActionBlock:    true,
		models.ActionEscalate: true,
	}
	caseID := regexp.MustCompile(caseIDPattern)
	channels := []string{
		models.ChannelWeb, models.ChannelMobile, models.ChannelATM,
		models.ChannelPOS, models.ChannelPhone, models.ChannelAPI,
	}

	properties := gopter.NewProperties(nil)

	properties.Property("action stays in the domain, case id iff not allow", prop.ForAll(
		func(risk float64, v1h int, ipRisk float64, channelPick, entityN, deviceN int) bool {
			score := scoredEvent(risk, func(vector *models.FeatureVector) {
				vector.EntityID = "acct-prop-" + strconv.Itoa(entityN)
				vector.Velocity1h = v1h
				vector.IPRisk = ipRisk
				vector.Channel = channels[channelPick%len(channels)]
				vector.DeviceFingerprint = "fp-prop-" + strconv.Itoa(deviceN)
			})
			decision := engine.Decide(context.Background(), score)

			if !validActions[decision.Action] {
				return false
			}
			if decision.Action == models.ActionAllow {
				return decision.CaseID == ""
			}
			return caseID.MatchString(decision.CaseID)
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 40),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 5),
		gen.IntRange(0, 30),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

// TestDecisionOrderingProperty checks the per-partition contract:
// consuming scored events for one entity in sequence publishes their
// decisions in the same sequence.
func TestDecisionOrderingProperty(t *testing.T) {
	engine, pub, _ := newTestEngine(t)

	properties := gopter.NewProperties(nil)

	properties.Property("decisions keep the input order of their events", prop.ForAll(
		func(count int) bool {
			pub.records = pub.records[:0]
			for i := 0; i < count; i++ {
				eventID := "evt-prop-" + strconv.Itoa(i)
				score := scoredEvent(0.3, func(vector *models.FeatureVector) {
					vector.EventID = eventID
				})
				score.EventID = eventID
				if _, err := engine.DecideAndPublish(context.Background(), score); err != nil {
					return false
				}
			}

			if len(pub.records) != count {
				return false
			}
			for i, record := range pub.records {
				decision, ok := record.value.(*models.DecisionOutput)
				if !ok || decision.EventID != "evt-prop-"+strconv.Itoa(i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
