package features

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

// Handler feeds the engine from both event topics. An undecodable
// record is reported and skipped so one bad payload never stalls the
// partition.
func (e *Engine) Handler() eventlog.MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		switch msg.Topic {
		case eventlog.TopicTransactions:
			var event models.TransactionEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to decode transaction at offset %d: %w", msg.Offset, err)
			}
			_, err := e.ProcessTransaction(ctx, &event)
			return err

		case eventlog.TopicClaims:
			var event models.ClaimEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to decode claim at offset %d: %w", msg.Offset, err)
			}
			_, err := e.ProcessClaim(ctx, &event)
			return err

		default:
			log.Warn().Str("topic", msg.Topic).Msg("Record from unexpected topic ignored")
			return nil
		}
	}
}
