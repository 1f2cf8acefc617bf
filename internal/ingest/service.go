// Package ingest accepts transaction and claim payloads, validates
// them and appends them to the event log. Events are immutable once
// published; this is the only stage that creates them.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/internal/eventlog"
	"github.com/fraudops/decisioning/internal/models"
)

// ValidationError marks a deterministic schema rejection. The same
// payload always produces the same error, and nothing is published.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation error: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

type Service struct {
	producer eventlog.Publisher
}

func NewService(producer eventlog.Publisher) *Service {
	return &Service{producer: producer}
}

// IngestTransaction stamps missing defaults, validates and publishes
// to events.txns.v1 keyed by entity. The publish waits for all in-sync
// replicas; on failure the caller retries, nothing is buffered here.
func (s *Service) IngestTransaction(ctx context.Context, event *models.TransactionEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.EventType = models.EventTypeTransaction

	if err := event.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	if err := s.producer.Publish(ctx, eventlog.TopicTransactions, event.EntityID, event); err != nil {
		return fmt.Errorf("failed to publish transaction %s: %w", event.EventID, err)
	}

	log.Info().
		Str("event_id", event.EventID).
		Str("entity_id", event.EntityID).
		Float64("amount", event.Amount).
		Msg("Transaction event ingested")
	return nil
}

// IngestClaim is the claim-side counterpart of IngestTransaction.
func (s *Service) IngestClaim(ctx context.Context, event *models.ClaimEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.EventType = models.EventTypeClaim

	if err := event.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	if err := s.producer.Publish(ctx, eventlog.TopicClaims, event.EntityID, event); err != nil {
		return fmt.Errorf("failed to publish claim %s: %w", event.EventID, err)
	}

	log.Info().
		Str("event_id", event.EventID).
		Str("entity_id", event.EntityID).
		Float64("claim_amount", event.ClaimAmount).
		Msg("Claim event ingested")
	return nil
}
