package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/fraudops/decisioning/internal/models"
)

var (
	// ErrCaseNotFound is returned when no case row matches
	ErrCaseNotFound = errors.New("case not found")
	// ErrCaseExists is returned when the case id is already taken. A
	// replayed decision hits this and the caller treats it as done.
	ErrCaseExists = errors.New("case already exists")
)

// CaseRepository reads and writes the investigation case store.
type CaseRepository struct {
	db        *Database
	opTimeout time.Duration
}

func NewCaseRepository(db *Database, opTimeout time.Duration) *CaseRepository {
	return &CaseRepository{db: db, opTimeout: opTimeout}
}

func (r *CaseRepository) do(ctx context.Context, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return op(opCtx)
}

// Insert opens a case. The case_id column is unique, so inserting a
// case that is already open returns ErrCaseExists and changes nothing.
func (r *CaseRepository) Insert(ctx context.Context, record *models.CaseRecord) error {
	query := `
		INSERT INTO cases (
			case_id, event_id, entity_id, status, priority, assigned_to,
			risk_score, decision_action, reason_codes, sla_deadline,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (case_id) DO NOTHING
		RETURNING id
	`

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query,
			record.CaseID,
			record.EventID,
			nullable(record.EntityID),
			record.Status,
			record.Priority,
			nullable(record.AssignedTo),
			record.RiskScore,
			record.DecisionAction,
			pq.Array(record.ReasonCodes),
			record.SLADeadline,
			record.CreatedAt,
			record.UpdatedAt,
		).Scan(&record.ID)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrCaseExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert case %s: %w", record.CaseID, err)
	}
	return nil
}

// GetByCaseID returns the case row without its notes and actions.
func (r *CaseRepository) GetByCaseID(ctx context.Context, caseID string) (*models.CaseRecord, error) {
	query := `
		SELECT id, case_id, event_id, entity_id, status, priority, assigned_to,
		       risk_score, decision_action, reason_codes, sla_deadline,
		       created_at, updated_at
		FROM cases
		WHERE case_id = $1
	`

	record := &models.CaseRecord{}
	err := r.do(ctx, func(ctx context.Context) error {
		var entityID, assignedTo *string
		var reasonCodes []string

		err := r.db.Pool.QueryRow(ctx, query, caseID).Scan(
			&record.ID,
			&record.CaseID,
			&record.EventID,
			&entityID,
			&record.Status,
			&record.Priority,
			&assignedTo,
			&record.RiskScore,
			&record.DecisionAction,
			&reasonCodes,
			&record.SLADeadline,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return err
		}

		record.EntityID = deref(entityID)
		record.AssignedTo = deref(assignedTo)
		record.ReasonCodes = reasonCodes
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query case %s: %w", caseID, err)
	}
	return record, nil
}

// CaseListFilter narrows a case listing. Zero values mean "any".
type CaseListFilter struct {
	Status     string
	AssignedTo string
	Priority   string
	Limit      int
	Offset     int
}

func (f CaseListFilter) where() (string, []interface{}) {
	clauses := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.AssignedTo != "" {
		args = append(args, f.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		clauses = append(clauses, fmt.Sprintf("priority = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns case rows matching the filter, newest first.
func (r *CaseRepository) List(ctx context.Context, filter CaseListFilter) ([]*models.CaseRecord, error) {
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
		SELECT id, case_id, event_id, entity_id, status, priority, assigned_to,
		       risk_score, decision_action, reason_codes, sla_deadline,
		       created_at, updated_at
		FROM cases
	` + where
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var records []*models.CaseRecord
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		records, err = scanCaseRecords(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	return records, nil
}

// Count returns how many case rows match the filter, ignoring limit
// and offset.
func (r *CaseRepository) Count(ctx context.Context, filter CaseListFilter) (int64, error) {
	where, args := filter.where()
	query := "SELECT COUNT(*) FROM cases" + where

	var total int64
	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query, args...).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return total, nil
}

// Assign hands the case to an analyst and moves it to assigned.
func (r *CaseRepository) Assign(ctx context.Context, caseID, assignedTo string) error {
	query := `
		UPDATE cases
		SET assigned_to = $2, status = $3, updated_at = $4
		WHERE case_id = $1
	`

	err := r.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.Pool.Exec(ctx, query, caseID, assignedTo, models.CaseStatusAssigned, time.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCaseNotFound
		}
		return nil
	})
	if errors.Is(err, ErrCaseNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to assign case %s: %w", caseID, err)
	}
	return nil
}

// UpdateStatus moves the case to a new lifecycle state.
func (r *CaseRepository) UpdateStatus(ctx context.Context, caseID, status string) error {
	query := `
		UPDATE cases
		SET status = $2, updated_at = $3
		WHERE case_id = $1
	`

	err := r.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.Pool.Exec(ctx, query, caseID, status, time.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrCaseNotFound
		}
		return nil
	})
	if errors.Is(err, ErrCaseNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update case %s: %w", caseID, err)
	}
	return nil
}

// InsertNote appends an analyst note and touches the case row, both in
// one transaction so the note never lands on a missing case.
func (r *CaseRepository) InsertNote(ctx context.Context, note *models.CaseNote) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE cases SET updated_at = $2 WHERE case_id = $1`,
				note.CaseID, note.CreatedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrCaseNotFound
			}
			return tx.QueryRow(ctx, `
				INSERT INTO case_notes (note_id, case_id, author, content, is_internal, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id
			`, note.NoteID, note.CaseID, note.Author, note.Content, note.IsInternal, note.CreatedAt).Scan(&note.ID)
		})
	})
	if errors.Is(err, ErrCaseNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to insert note on case %s: %w", note.CaseID, err)
	}
	return nil
}

// InsertAction appends a workflow action and touches the case row.
func (r *CaseRepository) InsertAction(ctx context.Context, action *models.CaseAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`UPDATE cases SET updated_at = $2 WHERE case_id = $1`,
				action.CaseID, action.CreatedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrCaseNotFound
			}
			return tx.QueryRow(ctx, `
				INSERT INTO case_actions (action_id, case_id, action_type, description, outcome, performed_by, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id
			`, action.ActionID, action.CaseID, action.ActionType, action.Description,
				nullable(action.Outcome), action.PerformedBy, action.CreatedAt).Scan(&action.ID)
		})
	})
	if errors.Is(err, ErrCaseNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to insert action on case %s: %w", action.CaseID, err)
	}
	return nil
}

// NotesFor returns the notes on a case, newest first.
func (r *CaseRepository) NotesFor(ctx context.Context, caseID string) ([]models.CaseNote, error) {
	query := `
		SELECT id, note_id, case_id, author, content, is_internal, created_at
		FROM case_notes
		WHERE case_id = $1
		ORDER BY created_at DESC
	`

	var notes []models.CaseNote
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, caseID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var note models.CaseNote
			if err := rows.Scan(&note.ID, &note.NoteID, &note.CaseID, &note.Author,
				&note.Content, &note.IsInternal, &note.CreatedAt); err != nil {
				return err
			}
			notes = append(notes, note)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notes for case %s: %w", caseID, err)
	}
	return notes, nil
}

// ActionsFor returns the actions on a case, newest first.
func (r *CaseRepository) ActionsFor(ctx context.Context, caseID string) ([]models.CaseAction, error) {
	query := `
		SELECT id, action_id, case_id, action_type, description, outcome, performed_by, created_at
		FROM case_actions
		WHERE case_id = $1
		ORDER BY created_at DESC
	`

	var actions []models.CaseAction
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, caseID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var action models.CaseAction
			var outcome *string
			if err := rows.Scan(&action.ID, &action.ActionID, &action.CaseID, &action.ActionType,
				&action.Description, &outcome, &action.PerformedBy, &action.CreatedAt); err != nil {
				return err
			}
			action.Outcome = deref(outcome)
			actions = append(actions, action)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list actions for case %s: %w", caseID, err)
	}
	return actions, nil
}

func scanCaseRecords(rows pgx.Rows) ([]*models.CaseRecord, error) {
	var records []*models.CaseRecord
	for rows.Next() {
		record := &models.CaseRecord{}
		var entityID, assignedTo *string
		var reasonCodes []string

		if err := rows.Scan(
			&record.ID,
			&record.CaseID,
			&record.EventID,
			&entityID,
			&record.Status,
			&record.Priority,
			&assignedTo,
			&record.RiskScore,
			&record.DecisionAction,
			&reasonCodes,
			&record.SLADeadline,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, err
		}

		record.EntityID = deref(entityID)
		record.AssignedTo = deref(assignedTo)
		record.ReasonCodes = reasonCodes
		records = append(records, record)
	}
	return records, rows.Err()
}
