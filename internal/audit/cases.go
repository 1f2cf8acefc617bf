package audit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/repositories"
)

// CaseOpener is the slice of the case store the decision consumer
// writes through. *repositories.CaseRepository implements it.
type CaseOpener interface {
	Insert(ctx context.Context, record *models.CaseRecord) error
}

// CaseStore is the full workflow surface behind the case endpoints.
// *repositories.CaseRepository implements it.
type CaseStore interface {
	CaseOpener
	GetByCaseID(ctx context.Context, caseID string) (*models.CaseRecord, error)
	List(ctx context.Context, filter repositories.CaseListFilter) ([]*models.CaseRecord, error)
	Count(ctx context.Context, filter repositories.CaseListFilter) (int64, error)
	Assign(ctx context.Context, caseID, assignedTo string) error
	UpdateStatus(ctx context.Context, caseID, status string) error
	InsertNote(ctx context.Context, note *models.CaseNote) error
	InsertAction(ctx context.Context, action *models.CaseAction) error
	NotesFor(ctx context.Context, caseID string) ([]models.CaseNote, error)
	ActionsFor(ctx context.Context, caseID string) ([]models.CaseAction, error)
}

// slaWindows is the response time owed per priority.
var slaWindows = map[string]time.Duration{
	models.PriorityCritical: 2 * time.Hour,
	models.PriorityHigh:     8 * time.Hour,
	models.PriorityMedium:   24 * time.Hour,
	models.PriorityLow:      72 * time.Hour,
}

// casePriority grades investigation urgency off the calibrated risk.
// The tiers line up with the default block/hold thresholds, so blocked
// traffic opens critical cases and velocity-driven holds land at
// medium or below.
func casePriority(risk float64) string {
	switch {
	case risk >= 0.90:
		return models.PriorityCritical
	case risk >= 0.70:
		return models.PriorityHigh
	case risk >= 0.50:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// openCase files the investigation case a decision asked for. Best
// effort by contract: the decision already shipped with its case id,
// so a case store outage never fails the evidence path. A replayed
// decision carries the same case id and lands on ErrCaseExists, which
// counts as done.
func (s *Service) openCase(ctx context.Context, decision *models.DecisionOutput) {
	if s.cases == nil || decision.CaseID == "" {
		return
	}

	now := time.Now().UTC()
	priority := casePriority(decision.Risk)
	record := &models.CaseRecord{
		CaseID:         decision.CaseID,
		EventID:        decision.EventID,
		EntityID:       decision.EntityID,
		Status:         models.CaseStatusOpen,
		Priority:       priority,
		RiskScore:      decision.Risk,
		DecisionAction: decision.Action,
		ReasonCodes:    decision.Reasons,
		SLADeadline:    now.Add(slaWindows[priority]),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.cases.Insert(ctx, record)
	switch {
	case errors.Is(err, repositories.ErrCaseExists):
		log.Debug().Str("case_id", decision.CaseID).Msg("Case already open")
	case err != nil:
		log.Warn().Err(err).
			Str("case_id", decision.CaseID).
			Str("event_id", decision.EventID).
			Msg("Failed to open case")
	default:
		log.Info().
			Str("case_id", decision.CaseID).
			Str("event_id", decision.EventID).
			Str("priority", priority).
			Msg("Case opened")
	}
}
