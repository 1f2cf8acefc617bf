package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fraudops/decisioning/internal/canonical"
	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/objectstore"
	"github.com/fraudops/decisioning/internal/repositories"
)

// Integrity statuses reported by Verify.
const (
	IntegrityVerified    = "verified"
	IntegrityCompromised = "compromised"
	IntegrityNoEvidence  = "no_evidence"
)

// VerifyResult is the outcome of one integrity check.
type VerifyResult struct {
	EventID         string `json:"event_id"`
	IntegrityStatus string `json:"integrity_status"`
	CalculatedHash  string `json:"calculated_hash,omitempty"`
	StoredHash      string `json:"stored_hash,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Verify re-reads the evidence object for an event, recomputes the hash
// over its canonical payload bytes and compares it with the hash the
// index recorded at write time. Missing rows or objects report
// no_evidence; a mismatch or an unparseable object reports compromised.
func (s *Service) Verify(ctx context.Context, eventID string) (*VerifyResult, error) {
	record, err := s.index.GetByEventID(ctx, eventID)
	if errors.Is(err, repositories.ErrAuditEventNotFound) {
		return &VerifyResult{
			EventID:         eventID,
			IntegrityStatus: IntegrityNoEvidence,
			Message:         "no audit record for event",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if record.EvidencePath == "" {
		return &VerifyResult{
			EventID:         eventID,
			IntegrityStatus: IntegrityNoEvidence,
			Message:         "audit record carries no evidence object",
		}, nil
	}

	object, err := s.objects.Get(ctx, record.EvidencePath)
	if errors.Is(err, objectstore.ErrNotFound) {
		return &VerifyResult{
			EventID:         eventID,
			IntegrityStatus: IntegrityNoEvidence,
			StoredHash:      record.EvidenceHash,
			Message:         "evidence object is missing",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch evidence object %s: %w", record.EvidencePath, err)
	}

	bundle, err := decodeBundle(object)
	if err != nil {
		return &VerifyResult{
			EventID:         eventID,
			IntegrityStatus: IntegrityCompromised,
			StoredHash:      record.EvidenceHash,
			Message:         "evidence object is not a valid bundle",
		}, nil
	}

	calculated, err := canonical.Hash(bundle.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to hash evidence payload: %w", err)
	}

	result := &VerifyResult{
		EventID:        eventID,
		CalculatedHash: calculated,
		StoredHash:     record.EvidenceHash,
	}
	if calculated == record.EvidenceHash {
		result.IntegrityStatus = IntegrityVerified
	} else {
		result.IntegrityStatus = IntegrityCompromised
		result.Message = "payload hash does not match the index"
	}
	return result, nil
}

func decodeBundle(object []byte) (*models.EvidenceBundle, error) {
	var bundle models.EvidenceBundle
	if err := json.Unmarshal(object, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode evidence bundle: %w", err)
	}
	return &bundle, nil
}
