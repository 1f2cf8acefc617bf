package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/retry"
)

// ErrNoActivePolicy is returned when the decision_policy table has no
// active row. Callers fall back to the built-in default policy.
var ErrNoActivePolicy = errors.New("no active decision policy")

// PolicyRepository reads and writes versioned decision policies.
type PolicyRepository struct {
	db        *Database
	opTimeout time.Duration
	retryBase time.Duration
}

func NewPolicyRepository(db *Database, opTimeout time.Duration) *PolicyRepository {
	return &PolicyRepository{db: db, opTimeout: opTimeout, retryBase: 50 * time.Millisecond}
}

func (r *PolicyRepository) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, indexRetryAttempts, r.retryBase, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		return op(opCtx)
	})
}

// GetActive returns the active policy with the latest effective date.
func (r *PolicyRepository) GetActive(ctx context.Context) (*models.PolicyRecord, error) {
	query := `
		SELECT id, policy_config, version, is_active, effective_date
		FROM decision_policy
		WHERE is_active = true
		ORDER BY effective_date DESC
		LIMIT 1
	`

	var record *models.PolicyRecord
	err := r.do(ctx, func(ctx context.Context) error {
		row := r.db.Pool.QueryRow(ctx, query)

		rec := &models.PolicyRecord{}
		var configBytes []byte
		err := row.Scan(&rec.ID, &configBytes, &rec.Version, &rec.IsActive, &rec.EffectiveDate)
		if errors.Is(err, pgx.ErrNoRows) {
			record = nil
			return nil
		}
		if err != nil {
			return err
		}
		if err := rec.PolicyConfig.Scan(configBytes); err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load decision policy: %w", err)
	}
	if record == nil {
		return nil, ErrNoActivePolicy
	}
	return record, nil
}

// Insert stores a new policy version. When activate is true, previous
// active rows are deactivated in the same transaction.
func (r *PolicyRepository) Insert(ctx context.Context, record *models.PolicyRecord, activate bool) error {
	if record.EffectiveDate.IsZero() {
		record.EffectiveDate = time.Now().UTC()
	}

	configBytes, err := record.PolicyConfig.Value()
	if err != nil {
		return fmt.Errorf("failed to encode policy config: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	err = r.db.WithTransaction(opCtx, func(tx pgx.Tx) error {
		if activate {
			if _, err := tx.Exec(opCtx, `UPDATE decision_policy SET is_active = false WHERE is_active = true`); err != nil {
				return fmt.Errorf("failed to deactivate previous policies: %w", err)
			}
		}
		return tx.QueryRow(opCtx, `
			INSERT INTO decision_policy (policy_config, version, is_active, effective_date)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, configBytes, record.Version, activate, record.EffectiveDate).Scan(&record.ID)
	})
	if err != nil {
		return err
	}

	record.IsActive = activate
	return nil
}
