// Package delivery renders executed report results into export formats and
// hands them to S3-compatible object storage. It satisfies the scheduler's
// Deliverer contract.
package delivery

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/reportd-data/reportd/internal/domain"
)

// Export formats understood by Render. Unknown formats fall back to JSON.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Render serializes a result into the requested export format, returning
// the payload, its content type, and the file extension.
func Render(res *domain.ReportResult, format string) ([]byte, string, string, error) {
	switch format {
	case FormatCSV:
		b, err := renderCSV(res)
		return b, "text/csv", "csv", err
	default:
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return nil, "", "", fmt.Errorf("marshal result: %w", err)
		}
		return b, "application/json", "json", nil
	}
}

// renderCSV writes the dataset as a label column followed by one column per
// series, one row per group.
func renderCSV(res *domain.ReportResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(res.Dataset.Series)+1)
	header = append(header, "label")
	for _, s := range res.Dataset.Series {
		header = append(header, s.Label)
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for i, label := range res.Dataset.Labels {
		row := make([]string, 0, len(header))
		row = append(row, label)
		for _, s := range res.Dataset.Series {
			var v float64
			if i < len(s.Data) {
				v = s.Data[i]
			}
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
