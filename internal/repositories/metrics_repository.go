package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fraudops/decisioning/internal/models"
	"github.com/fraudops/decisioning/internal/retry"
)

// MetricsRepository persists monitor snapshots to the model_metrics
// and feature_drift tables.
type MetricsRepository struct {
	db        *Database
	opTimeout time.Duration
	retryBase time.Duration
}

func NewMetricsRepository(db *Database, opTimeout time.Duration) *MetricsRepository {
	return &MetricsRepository{db: db, opTimeout: opTimeout, retryBase: 50 * time.Millisecond}
}

func (r *MetricsRepository) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, indexRetryAttempts, r.retryBase, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		defer cancel()
		return op(opCtx)
	})
}

// InsertModelMetric appends one metric observation.
func (r *MetricsRepository) InsertModelMetric(ctx context.Context, row *models.ModelMetricRow) error {
	query := `
		INSERT INTO model_metrics (model_name, metric_type, metric_value, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	var metadataBytes []byte
	if row.Metadata != nil {
		b, err := row.Metadata.Value()
		if err != nil {
			return fmt.Errorf("failed to encode metric metadata: %w", err)
		}
		metadataBytes = b
	}

	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query,
			row.ModelName,
			row.MetricType,
			row.MetricValue,
			metadataBytes,
			row.CreatedAt,
		).Scan(&row.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert model metric: %w", err)
	}
	return nil
}

// InsertFeatureDrift appends one PSI observation for a feature.
func (r *MetricsRepository) InsertFeatureDrift(ctx context.Context, row *models.FeatureDriftRow) error {
	query := `
		INSERT INTO feature_drift (
			feature_name, psi_value,
			reference_period_start, reference_period_end,
			current_period_start, current_period_end, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.Pool.QueryRow(ctx, query,
			row.FeatureName,
			row.PSIValue,
			row.ReferencePeriodStart,
			row.ReferencePeriodEnd,
			row.CurrentPeriodStart,
			row.CurrentPeriodEnd,
			row.CreatedAt,
		).Scan(&row.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert feature drift: %w", err)
	}
	return nil
}

// RecentModelMetrics returns the latest observations of one metric
// type, newest first.
func (r *MetricsRepository) RecentModelMetrics(ctx context.Context, metricType string, limit int) ([]*models.ModelMetricRow, error) {
	query := `
		SELECT id, model_name, metric_type, metric_value, metadata, created_at
		FROM model_metrics
		WHERE metric_type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 100
	}

	var out []*models.ModelMetricRow
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, metricType, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out, err = scanModelMetrics(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list model metrics: %w", err)
	}
	return out, nil
}

// RecentFeatureDrift returns PSI rows recorded since the cutoff,
// newest first.
func (r *MetricsRepository) RecentFeatureDrift(ctx context.Context, since time.Time, limit int) ([]*models.FeatureDriftRow, error) {
	query := `
		SELECT id, feature_name, psi_value,
		       reference_period_start, reference_period_end,
		       current_period_start, current_period_end, created_at
		FROM feature_drift
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 100
	}

	var out []*models.FeatureDriftRow
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, since, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			row := &models.FeatureDriftRow{}
			if err := rows.Scan(
				&row.ID,
				&row.FeatureName,
				&row.PSIValue,
				&row.ReferencePeriodStart,
				&row.ReferencePeriodEnd,
				&row.CurrentPeriodStart,
				&row.CurrentPeriodEnd,
				&row.CreatedAt,
			); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list feature drift: %w", err)
	}
	return out, nil
}

// RecentLatencies returns latency observations from both pipeline
// stages since the cutoff, newest first.
func (r *MetricsRepository) RecentLatencies(ctx context.Context, since time.Time, limit int) ([]float64, error) {
	query := `
		SELECT metric_value
		FROM model_metrics
		WHERE metric_type IN ('latency_ms', 'decision_latency_ms')
		  AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 1000
	}

	var out []float64
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Pool.Query(ctx, query, since, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var value float64
			if err := rows.Scan(&value); err != nil {
				return err
			}
			out = append(out, value)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list latencies: %w", err)
	}
	return out, nil
}

func scanModelMetrics(rows pgx.Rows) ([]*models.ModelMetricRow, error) {
	var out []*models.ModelMetricRow
	for rows.Next() {
		row := &models.ModelMetricRow{}
		var metadataBytes []byte
		if err := rows.Scan(
			&row.ID,
			&row.ModelName,
			&row.MetricType,
			&row.MetricValue,
			&metadataBytes,
			&row.CreatedAt,
		); err != nil {
			return nil, err
		}
		if metadataBytes != nil {
			if err := row.Metadata.Scan(metadataBytes); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
