package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/reportd-data/reportd/internal/domain"
)

// Fingerprint derives a stable cache key from the data-affecting parts of a
// configuration. Cosmetic fields (name, description, chart type, selection
// IDs, display labels, formats) are excluded: two configurations differing
// only in presentation must hit the same cache entry.
//
// The key is a SHA-256 over a canonical JSON encoding: selections are
// reduced to their data-affecting fields and sorted, so selection order in
// the builder does not perturb the key.
func Fingerprint(cfg domain.ReportConfiguration) string {
	type dimKey struct {
		Field   string `json:"field"`
		GroupBy bool   `json:"group_by"`
	}
	type metricKey struct {
		Field       string             `json:"field"`
		Aggregation domain.Aggregation `json:"aggregation"`
	}
	type filterKey struct {
		Field     string                `json:"field"`
		Operator  domain.FilterOperator `json:"operator"`
		Value     any                   `json:"value"`
		FieldType domain.FieldType      `json:"field_type"`
	}
	type key struct {
		DataSourceID string           `json:"data_source_id"`
		Dimensions   []dimKey         `json:"dimensions"`
		Metrics      []metricKey      `json:"metrics"`
		Filters      []filterKey      `json:"filters"`
		TimeFrame    domain.TimeFrame `json:"time_frame"`
		StartDate    string           `json:"start_date"`
		EndDate      string           `json:"end_date"`
		Sorting      domain.SortSpec  `json:"sorting"`
		Limit        int              `json:"limit"`
	}

	k := key{
		DataSourceID: cfg.DataSourceID,
		TimeFrame:    cfg.TimeFrame,
		Sorting:      cfg.Sorting,
		Limit:        cfg.Limit,
		Dimensions:   []dimKey{},
		Metrics:      []metricKey{},
		Filters:      []filterKey{},
	}
	if cfg.StartDate != nil {
		k.StartDate = cfg.StartDate.UTC().Format(time.RFC3339)
	}
	if cfg.EndDate != nil {
		k.EndDate = cfg.EndDate.UTC().Format(time.RFC3339)
	}

	for _, d := range cfg.Dimensions {
		k.Dimensions = append(k.Dimensions, dimKey{Field: d.Field, GroupBy: d.GroupBy})
	}
	sort.Slice(k.Dimensions, func(i, j int) bool {
		a, b := k.Dimensions[i], k.Dimensions[j]
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return !a.GroupBy && b.GroupBy
	})

	for _, m := range cfg.Metrics {
		k.Metrics = append(k.Metrics, metricKey{Field: m.Field, Aggregation: m.Aggregation})
	}
	sort.Slice(k.Metrics, func(i, j int) bool {
		a, b := k.Metrics[i], k.Metrics[j]
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Aggregation < b.Aggregation
	})

	for _, f := range cfg.Filters {
		k.Filters = append(k.Filters, filterKey{
			Field: f.Field, Operator: f.Operator, Value: f.Value, FieldType: f.FieldType,
		})
	}
	sort.Slice(k.Filters, func(i, j int) bool {
		a, b := k.Filters[i], k.Filters[j]
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		if a.Operator != b.Operator {
			return a.Operator < b.Operator
		}
		return fmt.Sprint(a.Value) < fmt.Sprint(b.Value)
	})

	data, err := json.Marshal(k)
	if err != nil {
		// Only unmarshalable filter values (channels, funcs) can land here;
		// fall back to an uncacheable unique-ish key.
		data = []byte(fmt.Sprintf("%#v", k))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
