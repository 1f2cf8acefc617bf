package scoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

// Handler feeds the engine from features.online.v1.
func (e *Engine) Handler() eventlog.MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var vector models.FeatureVector
		if err := json.Unmarshal(msg.Value, &vector); err != nil {
			return fmt.Errorf("failed to decode feature vector at offset %d: %w", msg.Offset, err)
		}
		_, err := e.ScoreAndPublish(ctx, &vector)
		return err
	}
}
