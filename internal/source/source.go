// Package source defines the data source collaborator: the external
// interface the execution engine pulls raw rows from. The engine never
// assumes server-side aggregation: it must be able to aggregate purely
// from the rows a source returns. Sources may pre-filter as an
// optimization; the engine re-applies every filter client-side.
package source

import (
	"context"
	"time"

	"github.com/reportd-data/reportd/internal/domain"
)

// Query describes the rows the engine needs.
type Query struct {
	DataSourceID string
	Filters      []domain.Filter
	TimeFrame    domain.TimeFrame
	StartDate    *time.Time
	EndDate      *time.Time
}

// Source fetches raw rows for a data source. Implementations are I/O-bound
// and must honor context cancellation.
type Source interface {
	FetchRows(ctx context.Context, q Query) ([]domain.Row, error)
}

// Static serves rows from memory. Used for fixtures, zero-config mode,
// and tests.
type Static struct {
	rows map[string][]domain.Row
}

// NewStatic creates a Static source over the given rows, keyed by data
// source ID.
func NewStatic(rows map[string][]domain.Row) *Static {
	if rows == nil {
		rows = make(map[string][]domain.Row)
	}
	return &Static{rows: rows}
}

// SetRows replaces the row set for one data source ID.
func (s *Static) SetRows(dataSourceID string, rows []domain.Row) {
	s.rows[dataSourceID] = rows
}

// FetchRows returns a copy of the stored rows for the requested source.
// An unknown source ID reports domain.ErrSourceUnavailable.
func (s *Static) FetchRows(ctx context.Context, q Query) ([]domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, ok := s.rows[q.DataSourceID]
	if !ok {
		return nil, domain.ErrSourceUnavailable
	}
	out := make([]domain.Row, len(rows))
	copy(out, rows)
	return out, nil
}
