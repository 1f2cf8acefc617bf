package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
)

// Publisher appends a JSON record to a topic keyed by partition key.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Producer is the Kafka-backed Publisher. Sends are synchronous and
// idempotent, and wait for acknowledgement from all in-sync replicas.
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(cfg configs.KafkaConfig, timeout time.Duration) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Producer.Timeout = timeout
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V3_0_0_0

	var producer sarama.SyncProducer
	var err error
	for i := 0; i < cfg.ConnectRetries; i++ {
		producer, err = sarama.NewSyncProducer(cfg.Brokers, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(cfg.ConnectBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer after retries: %w", err)
	}

	return &Producer{producer: producer}, nil
}

// Publish marshals value as JSON and appends it to topic under key.
// Records sharing a key land on one partition and keep their order.
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	log.Debug().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("Record published")
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
