package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportd-data/reportd/internal/domain"
)

// ReportStore implements api.ReportStore backed by Postgres.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a ReportStore backed by the given pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

const reportColumns = `id, configuration, favorited, times_viewed, last_generated_at, created_at, updated_at`

func scanReport(row pgx.Row) (*domain.SavedReport, error) {
	var (
		r       domain.SavedReport
		cfgJSON []byte
	)
	if err := row.Scan(&r.ID, &cfgJSON, &r.Favorited, &r.TimesViewed, &r.LastGeneratedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	cfg, err := unmarshalConfiguration(cfgJSON)
	if err != nil {
		return nil, err
	}
	r.Configuration = cfg
	return &r, nil
}

func (s *ReportStore) ListReports(ctx context.Context) ([]domain.SavedReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reportColumns+` FROM saved_reports ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []domain.SavedReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *ReportStore) GetReport(ctx context.Context, id uuid.UUID) (*domain.SavedReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM saved_reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (s *ReportStore) CreateReport(ctx context.Context, report *domain.SavedReport) error {
	cfgJSON, err := marshalConfiguration(report.Configuration)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO saved_reports (id, configuration, favorited, times_viewed, last_generated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID, cfgJSON, report.Favorited, report.TimesViewed,
		report.LastGeneratedAt, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// UpdateConfiguration replaces the stored configuration wholesale, keeping
// the configuration's original identity and creation time.
func (s *ReportStore) UpdateConfiguration(ctx context.Context, id uuid.UUID, cfg domain.ReportConfiguration) (*domain.SavedReport, error) {
	existing, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	cfg.ID = existing.Configuration.ID
	cfg.CreatedAt = existing.Configuration.CreatedAt
	cfg.UpdatedAt = now

	cfgJSON, err := marshalConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE saved_reports SET configuration = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+reportColumns,
		id, cfgJSON, now,
	)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update report configuration: %w", err)
	}
	return r, nil
}

func (s *ReportStore) SetFavorite(ctx context.Context, id uuid.UUID, favorited bool) (*domain.SavedReport, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE saved_reports SET favorited = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+reportColumns,
		id, favorited,
	)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("set favorite: %w", err)
	}
	return r, nil
}

func (s *ReportStore) IncrementViews(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE saved_reports SET times_viewed = times_viewed + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *ReportStore) TouchGenerated(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE saved_reports SET last_generated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch generated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteReport removes a report; attached schedules go with it via the
// foreign key cascade.
func (s *ReportStore) DeleteReport(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM saved_reports WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}
