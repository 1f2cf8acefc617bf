package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/retry"
)

// ErrAuditEventNotFound is returned when no index row matches
var ErrAuditEventNotFound = errors.New("audit event not found")

const indexRetryAttempts = 3

// AuditRepository reads and writes the audit_events index. Rows are
// append-only: a replayed record adds a row, never updates one, and
// lookups take the most recent row for an event.
type AuditRepository struct {
	db        *Database
	opTimeout time.Duration
	retryBase time.Duration
}

func NewAuditRepository(db *Database, opTimeout time.Duration) *AuditRepository {
	return &AuditRepository{db: db, opTimeout: opTimeout, retryBase: 50 * time.Millisecond}
}

func (r *AuditRepository) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, indexRetryAttempts, r.retryBase, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		return op(opCtx)
	})
}

// Insert appends an index row and fills in the generated id.
func (r *AuditRepository) Insert(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO audit_events (
			event_id, event_type, entity_id, user_id, action,
			details, evidence_hash, evidence_path, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var detailsBytes []byte
	if record.Details != nil {
		b, err := record.Details.Value()
		if err != nil {
			return fmt.Errorf("failed to encode details: %w", err)
		}
		detailsBytes = b
	}

	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query,
			record.EventID,
			record.EventType,
			nullable(record.EntityID),
			nullable(record.UserID),
			nullable(record.Action),
			detailsBytes,
			nullable(record.EvidenceHash),
			nullable(record.EvidencePath),
			record.CreatedAt,
		).Scan(&record.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// GetByEventID returns the most recent index row for an event.
func (r *AuditRepository) GetByEventID(ctx context.Context, eventID string) (*models.AuditRecord, error) {
	query := `
		SELECT id, event_id, event_type, entity_id, user_id, action,
		       details, evidence_hash, evidence_path, created_at
		FROM audit_events
		WHERE event_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var record *models.AuditRecord
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, eventID)
		if err != nil {
			return err
		}
		defer rows.Close()

		records, err := scanAuditRecords(rows)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			record = nil
			return nil
		}
		record = records[0]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit event %s: %w", eventID, err)
	}
	if record == nil {
		return nil, ErrAuditEventNotFound
	}
	return record, nil
}

// AuditListFilter narrows a listing. Zero values mean "any".
type AuditListFilter struct {
	EventType string
	EntityID  string
	UserID    string
	Limit     int
	Offset    int
}

func (f AuditListFilter) where() (string, []interface{}) {
	clauses := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if f.EventType != "" {
		args = append(args, f.EventType)
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		clauses = append(clauses, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns index rows matching the filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter AuditListFilter) ([]*models.AuditRecord, error) {
	where, args := filter.where()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, event_id, event_type, entity_id, user_id, action,
		       details, evidence_hash, evidence_path, created_at
		FROM audit_events
	` + where
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var records []*models.AuditRecord
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		records, err = scanAuditRecords(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return records, nil
}

// Count returns how many index rows match the filter, ignoring
// limit and offset.
func (r *AuditRepository) Count(ctx context.Context, filter AuditListFilter) (int64, error) {
	where, args := filter.where()
	query := "SELECT COUNT(*) FROM audit_events" + where

	var total int64
	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query, args...).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return total, nil
}

func scanAuditRecords(rows pgx.Rows) ([]*models.AuditRecord, error) {
	var records []*models.AuditRecord
	for rows.Next() {
		record := &models.AuditRecord{}
		var entityID, userID, action, evidenceHash, evidencePath *string
		var detailsBytes []byte

		if err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.EventType,
			&entityID,
			&userID,
			&action,
			&detailsBytes,
			&evidenceHash,
			&evidencePath,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}

		record.EntityID = deref(entityID)
		record.UserID = deref(userID)
		record.Action = deref(action)
		record.EvidenceHash = deref(evidenceHash)
		record.EvidencePath = deref(evidencePath)
		if detailsBytes != nil {
			if err := record.Details.Scan(detailsBytes); err != nil {
				return nil, err
			}
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
