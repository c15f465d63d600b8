package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportd-data/reportd/internal/api"
	"github.com/reportd-data/reportd/internal/domain"
)

// ScheduleStore implements api.ScheduleStore backed by Postgres.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

// NewScheduleStore creates a ScheduleStore backed by the given pool.
func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

const scheduleColumns = `id, report_id, spec, last_run_at, next_run_at, status, error_message, created_at, updated_at`

func scanSchedule(row pgx.Row) (*domain.ScheduledReport, error) {
	var (
		sched    domain.ScheduledReport
		specJSON []byte
		status   string
	)
	if err := row.Scan(&sched.ID, &sched.ReportID, &specJSON, &sched.LastRunAt, &sched.NextRunAt,
		&status, &sched.ErrorMessage, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
		return nil, err
	}
	spec, err := unmarshalSpec(specJSON)
	if err != nil {
		return nil, err
	}
	sched.Spec = spec
	sched.Status = domain.ScheduleStatus(status)
	return &sched, nil
}

func (s *ScheduleStore) ListSchedules(ctx context.Context) ([]domain.ScheduledReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_reports ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledReport
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("list schedules: %w", err)
		}
		out = append(out, *sched)
	}
	return out, rows.Err()
}

func (s *ScheduleStore) GetSchedule(ctx context.Context, id uuid.UUID) (*domain.ScheduledReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_reports WHERE id = $1`, id)
	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

func (s *ScheduleStore) CreateSchedule(ctx context.Context, sched *domain.ScheduledReport) error {
	specJSON, err := marshalSpec(sched.Spec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduled_reports (id, report_id, spec, last_run_at, next_run_at, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sched.ID, sched.ReportID, specJSON, sched.LastRunAt, sched.NextRunAt,
		string(sched.Status), sched.ErrorMessage, sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// UpdateScheduleSpec replaces the recurrence spec and clears next_run_at so
// the scheduler recomputes it under the new recurrence.
func (s *ScheduleStore) UpdateScheduleSpec(ctx context.Context, id uuid.UUID, spec domain.ScheduleSpec) (*domain.ScheduledReport, error) {
	specJSON, err := marshalSpec(spec)
	if err != nil {
		return nil, err
	}
	status := domain.ScheduleActive
	if !spec.Enabled {
		status = domain.SchedulePaused
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE scheduled_reports
		SET spec = $2, next_run_at = NULL, status = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+scheduleColumns,
		id, specJSON, string(status),
	)
	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update schedule spec: %w", err)
	}
	return sched, nil
}

// UpdateScheduleRun applies a partial run-state update. The SET clause is
// assembled from the fields that are actually present.
func (s *ScheduleStore) UpdateScheduleRun(ctx context.Context, id uuid.UUID, update api.ScheduleRunUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = "+arg(*update.LastRunAt))
	}
	switch {
	case update.ClearNextRun:
		sets = append(sets, "next_run_at = NULL")
	case update.NextRunAt != nil:
		sets = append(sets, "next_run_at = "+arg(*update.NextRunAt))
	}
	if update.Status != nil {
		sets = append(sets, "status = "+arg(string(*update.Status)))
		enabled := *update.Status != domain.SchedulePaused
		sets = append(sets, "spec = jsonb_set(spec, '{enabled}', "+arg(enabled)+"::text::jsonb)")
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = "+arg(*update.ErrorMessage))
	}

	query := "UPDATE scheduled_reports SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *ScheduleStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM scheduled_reports WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}
