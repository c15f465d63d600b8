package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportd-data/reportd/internal/domain"
)

// HistoryStore implements api.HistoryStore backed by Postgres.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

func (s *HistoryStore) AppendHistory(ctx context.Context, item domain.ReportHistoryItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO report_history (id, report_id, schedule_id, result_id, processing_time_ms,
			export_format, delivery_method, delivery_status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.ReportID, item.ScheduleID, item.ResultID, item.ProcessingTimeMs,
		item.ExportFormat, item.DeliveryMethod, string(item.DeliveryStatus),
		item.ErrorMessage, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *HistoryStore) ListHistory(ctx context.Context, reportID uuid.UUID) ([]domain.ReportHistoryItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, report_id, schedule_id, result_id, processing_time_ms,
			export_format, delivery_method, delivery_status, error_message, created_at
		FROM report_history
		WHERE report_id = $1
		ORDER BY created_at DESC, id`,
		reportID,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.ReportHistoryItem
	for rows.Next() {
		var (
			item   domain.ReportHistoryItem
			status string
		)
		if err := rows.Scan(&item.ID, &item.ReportID, &item.ScheduleID, &item.ResultID,
			&item.ProcessingTimeMs, &item.ExportFormat, &item.DeliveryMethod,
			&status, &item.ErrorMessage, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		item.DeliveryStatus = domain.DeliveryStatus(status)
		out = append(out, item)
	}
	return out, rows.Err()
}
