package repositories

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		entity_id TEXT,
		user_id TEXT,
		action TEXT,
		details JSONB,
		evidence_hash TEXT,
		evidence_path TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_event_id ON audit_events (event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_entity_id ON audit_events (entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS model_metrics (
		id BIGSERIAL PRIMARY KEY,
		model_name TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		metric_value DOUBLE PRECISION NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_model_metrics_lookup ON model_metrics (model_name, metric_type, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS feature_drift (
		id BIGSERIAL PRIMARY KEY,
		feature_name TEXT NOT NULL,
		psi_value DOUBLE PRECISION NOT NULL,
		reference_period_start TIMESTAMPTZ NOT NULL,
		reference_period_end TIMESTAMPTZ NOT NULL,
		current_period_start TIMESTAMPTZ NOT NULL,
		current_period_end TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feature_drift_feature ON feature_drift (feature_name, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS decision_policy (
		id BIGSERIAL PRIMARY KEY,
		policy_config JSONB NOT NULL,
		version TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT false,
		effective_date TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_policy_active ON decision_policy (is_active, effective_date DESC)`,
	`CREATE TABLE IF NOT EXISTS cases (
		id BIGSERIAL PRIMARY KEY,
		case_id TEXT NOT NULL UNIQUE,
		event_id TEXT NOT NULL,
		entity_id TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		priority TEXT NOT NULL DEFAULT 'medium',
		assigned_to TEXT,
		risk_score DOUBLE PRECISION NOT NULL,
		decision_action TEXT NOT NULL,
		reason_codes TEXT[],
		sla_deadline TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_status ON cases (status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_assigned_to ON cases (assigned_to)`,
	`CREATE INDEX IF NOT EXISTS idx_cases_sla_deadline ON cases (sla_deadline)`,
	`CREATE TABLE IF NOT EXISTS case_notes (
		id BIGSERIAL PRIMARY KEY,
		note_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		is_internal BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_case_notes_case ON case_notes (case_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS case_actions (
		id BIGSERIAL PRIMARY KEY,
		action_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		description TEXT NOT NULL,
		outcome TEXT,
		performed_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_case_actions_case ON case_actions (case_id, created_at DESC)`,
}

// EnsureSchema applies the index-store DDL. Statements are idempotent
// so every service can run this at startup.
func (db *Database) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	log.Info().Msg("Index store schema ensured")
	return nil
}
