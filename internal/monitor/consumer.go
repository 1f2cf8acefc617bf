package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

// Handler returns the log handler that fans records from the three
// tapped topics into their metric paths.
func (s *Service) Handler() eventlog.MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		switch msg.Topic {
		case eventlog.TopicScores:
			var score models.ScoreOutput
			if err := json.Unmarshal(msg.Value, &score); err != nil {
				return fmt.Errorf("failed to decode score output at offset %d: %w", msg.Offset, err)
			}
			s.HandleScore(ctx, &score)
		case eventlog.TopicDecisions:
			var decision models.DecisionOutput
			if err := json.Unmarshal(msg.Value, &decision); err != nil {
				return fmt.Errorf("failed to decode decision at offset %d: %w", msg.Offset, err)
			}
			s.HandleDecision(ctx, &decision)
		case eventlog.TopicFeatures:
			var vector models.FeatureVector
			if err := json.Unmarshal(msg.Value, &vector); err != nil {
				return fmt.Errorf("failed to decode feature vector at offset %d: %w", msg.Offset, err)
			}
			s.HandleFeatures(ctx, &vector)
		default:
			log.Warn().Str("topic", msg.Topic).Msg("Record from unexpected topic")
		}
		return nil
	}
}
