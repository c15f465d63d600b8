package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/reportd-data/reportd/internal/domain"
)

// ArrowFiles serves rows from Arrow IPC stream files on disk, one file per
// data source. Useful for local datasets exported from columnar tooling.
type ArrowFiles struct {
	paths map[string]string // data source ID → file path
}

// NewArrowFiles creates an ArrowFiles source over the given path mapping.
func NewArrowFiles(paths map[string]string) *ArrowFiles {
	return &ArrowFiles{paths: paths}
}

// FetchRows reads the IPC stream for the requested source and decodes every
// record batch into row maps. A missing mapping or unreadable file reports
// domain.ErrSourceUnavailable.
func (a *ArrowFiles) FetchRows(ctx context.Context, q Query) ([]domain.Row, error) {
	path, ok := a.paths[q.DataSourceID]
	if !ok {
		return nil, domain.ErrSourceUnavailable
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	reader, err := ipc.NewReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("%w: open arrow reader: %v", domain.ErrSourceUnavailable, err)
	}
	defer reader.Release()

	var rows []domain.Row
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows = append(rows, recordToRows(reader.RecordBatch())...)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read arrow records: %w", err)
	}

	if rows == nil {
		rows = []domain.Row{}
	}
	return rows, nil
}

// recordToRows converts one record batch into row maps.
func recordToRows(rec arrow.RecordBatch) []domain.Row {
	rows := make([]domain.Row, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		row := make(domain.Row, int(rec.NumCols()))
		for j := 0; j < int(rec.NumCols()); j++ {
			row[rec.ColumnName(j)] = valueAt(rec.Column(j), i)
		}
		rows = append(rows, row)
	}
	return rows
}

// valueAt extracts a single Go value from an Arrow column at the given
// index. Returns nil for null values; numbers widen to float64 so the
// aggregation pipeline sees one numeric type.
func valueAt(col arrow.Array, idx int) any {
	if col.IsNull(idx) {
		return nil
	}
	switch c := col.(type) {
	case *array.Int8:
		return float64(c.Value(idx))
	case *array.Int16:
		return float64(c.Value(idx))
	case *array.Int32:
		return float64(c.Value(idx))
	case *array.Int64:
		return float64(c.Value(idx))
	case *array.Uint8:
		return float64(c.Value(idx))
	case *array.Uint16:
		return float64(c.Value(idx))
	case *array.Uint32:
		return float64(c.Value(idx))
	case *array.Uint64:
		return float64(c.Value(idx))
	case *array.Float32:
		return float64(c.Value(idx))
	case *array.Float64:
		return c.Value(idx)
	case *array.String:
		return c.Value(idx)
	case *array.LargeString:
		return c.Value(idx)
	case *array.Boolean:
		return c.Value(idx)
	case *array.Timestamp:
		dt := c.DataType().(*arrow.TimestampType)
		return c.Value(idx).ToTime(dt.Unit).UTC().Format(time.RFC3339)
	case *array.Date32:
		return c.Value(idx).ToTime().Format("2006-01-02")
	case *array.Date64:
		return c.Value(idx).ToTime().Format("2006-01-02")
	default:
		return col.ValueStr(idx)
	}
}
