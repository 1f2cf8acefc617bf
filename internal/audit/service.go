// Package audit stores tamper-evident evidence bundles and the queryable
// index over them. Every submission lands twice: the full bundle as a
// content-addressed object under YYYY/MM/DD/<bundle_id>.json, then a row
// in the audit_events index carrying the payload hash and the object key.
// Verification re-reads the object, recomputes the hash over the canonical
// payload bytes and compares it with the hash recorded at write time, so
// any out-of-band edit to the object surfaces as "compromised".
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/internal/canonical"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/objectstore"
	"github.com/fraudops/decisioning/internal/repositories"
)

// ObjectStore is the bundle storage surface the auditor needs.
// *objectstore.S3Store implements it.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// IndexStore is the audit_events surface the auditor needs.
// *repositories.AuditRepository implements it.
type IndexStore interface {
	Insert(ctx context.Context, record *models.AuditRecord) error
	GetByEventID(ctx context.Context, eventID string) (*models.AuditRecord, error)
	List(ctx context.Context, filter repositories.AuditListFilter) ([]*models.AuditRecord, error)
	Count(ctx context.Context, filter repositories.AuditListFilter) (int64, error)
}

// IndexError marks a failed index write after the evidence object was
// already stored. The object stays behind as an orphan; replaying the
// same submission produces the same payload hash, so the orphan is
// harmless and collectable.
type IndexError struct {
	Err error
}

func (e *IndexError) Error() string { return "audit index error: " + e.Err.Error() }
func (e *IndexError) Unwrap() error { return e.Err }

// RecordRequest is one audit submission. Payload becomes the evidence
// bundle content; Details is the free-form blob kept on the index row.
type RecordRequest struct {
	EventID      string
	EventType    string
	EvidenceType string
	EntityID     string
	UserID       string
	Action       string
	Payload      models.JSONB
	Details      models.JSONB
}

// Service owns the two-step evidence write and the read paths over it.
type Service struct {
	objects ObjectStore
	index   IndexStore
	cases   CaseOpener
}

// NewService wires the evidence stores. cases may be nil when no case
// store is attached; consumed decisions then only leave evidence.
func NewService(objects ObjectStore, index IndexStore, cases CaseOpener) *Service {
	return &Service{objects: objects, index: index, cases: cases}
}

// Record stores the evidence bundle as an object, then appends the index
// row. The hash covers the canonical payload bytes only, so replaying the
// same payload always reproduces it regardless of bundle id or timestamp.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*models.EvidenceBundle, error) {
	if req.EventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}
	if req.EvidenceType == "" {
		return nil, fmt.Errorf("evidence_type is required")
	}

	payloadBytes, err := canonical.Canonicalize(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	bundle := &models.EvidenceBundle{
		BundleID:     uuid.NewString(),
		EventID:      req.EventID,
		EvidenceType: req.EvidenceType,
		Payload:      req.Payload,
		CreatedAt:    time.Now().UTC(),
		SHA256:       canonical.HashBytes(payloadBytes),
		SizeBytes:    len(payloadBytes),
	}

	object, err := canonical.Canonicalize(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence bundle: %w", err)
	}

	key := objectstore.EvidenceKey(bundle.CreatedAt, bundle.BundleID)
	if err := s.objects.Put(ctx, key, object); err != nil {
		return nil, fmt.Errorf("failed to store evidence bundle %s: %w", bundle.BundleID, err)
	}

	record := &models.AuditRecord{
		EventID:      req.EventID,
		EventType:    req.EventType,
		EntityID:     req.EntityID,
		UserID:       req.UserID,
		Action:       req.Action,
		Details:      req.Details,
		EvidenceHash: bundle.SHA256,
		EvidencePath: key,
		CreatedAt:    bundle.CreatedAt,
	}
	if err := s.index.Insert(ctx, record); err != nil {
		return bundle, &IndexError{Err: fmt.Errorf("failed to index evidence bundle %s: %w", bundle.BundleID, err)}
	}

	log.Info().
		Str("event_id", req.EventID).
		Str("bundle_id", bundle.BundleID).
		Str("evidence_type", req.EvidenceType).
		Str("sha256", bundle.SHA256).
		Msg("Evidence bundle stored")
	return bundle, nil
}

// Bundle returns the most recent index row for an event together with the
// stored evidence bundle. An unreadable object degrades to a nil bundle;
// the index row itself is still served.
func (s *Service) Bundle(ctx context.Context, eventID string) (*models.AuditRecord, *models.EvidenceBundle, error) {
	record, err := s.index.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if record.EvidencePath == "" {
		return record, nil, nil
	}

	object, err := s.objects.Get(ctx, record.EvidencePath)
	if err != nil {
		log.Warn().Err(err).
			Str("event_id", eventID).
			Str("evidence_path", record.EvidencePath).
			Msg("Failed to fetch evidence object")
		return record, nil, nil
	}

	bundle, err := decodeBundle(object)
	if err != nil {
		log.Warn().Err(err).
			Str("event_id", eventID).
			Str("evidence_path", record.EvidencePath).
			Msg("Failed to decode evidence object")
		return record, nil, nil
	}
	return record, bundle, nil
}

// List returns matching index rows newest first, plus the total match
// count ignoring pagination.
func (s *Service) List(ctx context.Context, filter repositories.AuditListFilter) ([]*models.AuditRecord, int64, error) {
	records, err := s.index.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.index.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
