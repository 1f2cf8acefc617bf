package decision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

// Handler feeds the engine from alerts.scores.v1.
func (e *Engine) Handler() eventlog.MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var score models.ScoreOutput
		if err := json.Unmarshal(msg.Value, &score); err != nil {
			return fmt.Errorf("failed to decode score output at offset %d: %w", msg.Offset, err)
		}
		_, err := e.DecideAndPublish(ctx, &score)
		return err
	}
}
