package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
)

// MessageHandler processes one record. The consumer marks the offset
// after the handler returns, whatever the outcome: a record is retried
// inside the handler, never by redelivery.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// Consumer runs a consumer group over a fixed set of topics and feeds
// every record to a single handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	name    string
}

func NewConsumer(cfg configs.KafkaConfig, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	var group sarama.ConsumerGroup
	var err error
	for i := 0; i < cfg.ConnectRetries; i++ {
		group, err = sarama.NewConsumerGroup(cfg.Brokers, groupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(cfg.ConnectBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group %s after retries: %w", groupID, err)
	}

	return &Consumer{group: group, topics: topics, handler: handler, name: groupID}, nil
}

// Run consumes until ctx is cancelled. Rebalances re-enter Consume.
func (c *Consumer) Run(ctx context.Context) {
	go func() {
		for err := range c.group.Errors() {
			log.Error().Err(err).Str("group", c.name).Msg("Consumer group error")
		}
	}()

	handler := &groupHandler{handler: c.handler, name: c.name}
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			log.Error().Err(err).Str("group", c.name).Msg("Error from consumer")
		}
		if ctx.Err() != nil {
			log.Info().Str("group", c.name).Msg("Context cancelled, stopping consumer")
			return
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler MessageHandler
	name    string
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Str("group", h.name).Msg("Consumer session started")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Str("group", h.name).Msg("Consumer session ended")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(session.Context(), message); err != nil {
				log.Error().
					Err(err).
					Str("topic", message.Topic).
					Int64("offset", message.Offset).
					Msg("Record processing gave up, offset marked")
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
