package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportd-data/reportd/internal/domain"
)

// TemplateStore implements api.TemplateStore backed by Postgres.
type TemplateStore struct {
	pool *pgxpool.Pool
}

// NewTemplateStore creates a TemplateStore backed by the given pool.
func NewTemplateStore(pool *pgxpool.Pool) *TemplateStore {
	return &TemplateStore{pool: pool}
}

const templateColumns = `id, name, description, category, is_system, configuration, created_at`

func scanTemplate(row pgx.Row) (*domain.ReportTemplate, error) {
	var (
		t       domain.ReportTemplate
		cfgJSON []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &t.IsSystem, &cfgJSON, &t.CreatedAt); err != nil {
		return nil, err
	}
	cfg, err := unmarshalConfiguration(cfgJSON)
	if err != nil {
		return nil, err
	}
	t.Configuration = cfg
	return &t, nil
}

func (s *TemplateStore) ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+` FROM report_templates ORDER BY is_system DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.ReportTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *TemplateStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.ReportTemplate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM report_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *TemplateStore) CreateTemplate(ctx context.Context, tpl *domain.ReportTemplate) error {
	cfgJSON, err := marshalConfiguration(tpl.Configuration)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO report_templates (id, name, description, category, is_system, configuration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tpl.ID, tpl.Name, tpl.Description, tpl.Category, tpl.IsSystem, cfgJSON, tpl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *TemplateStore) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM report_templates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}
