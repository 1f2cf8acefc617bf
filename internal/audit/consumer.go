package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

// Handler returns the log handler that files every published decision as
// evidence. Replayed records re-derive the same payload hash, so reruns
// only append index rows pointing at byte-identical content.
func (s *Service) Handler() eventlog.MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var decision models.DecisionOutput
		if err := json.Unmarshal(msg.Value, &decision); err != nil {
			return fmt.Errorf("failed to decode decision at offset %d: %w", msg.Offset, err)
		}
		return s.RecordDecision(ctx, &decision)
	}
}

// RecordDecision files one decision as a decision evidence bundle and
// opens the investigation case the decision asked for, if any.
func (s *Service) RecordDecision(ctx context.Context, decision *models.DecisionOutput) error {
	payload, err := asJSONB(decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision %s: %w", decision.EventID, err)
	}
	_, err = s.Record(ctx, RecordRequest{
		EventID:      decision.EventID,
		EventType:    models.EvidenceTypeDecision,
		EvidenceType: models.EvidenceTypeDecision,
		EntityID:     decision.EntityID,
		Action:       decision.Action,
		Payload:      payload,
		Details:      payload,
	})

	// The case store is a side effect, never a gate: the decision is
	// final once published, whatever happens here.
	s.openCase(ctx, decision)
	return err
}

// asJSONB round-trips a typed record into the generic map form evidence
// payloads use.
func asJSONB(v interface{}) (models.JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var payload models.JSONB
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
