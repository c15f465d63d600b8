package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/reportd-data/reportd/internal/domain"
)

// seriesPalette provides deterministic series colors, one per metric index.
var seriesPalette = []string{"#2563eb", "#16a34a", "#d97706", "#dc2626", "#7c3aed", "#0891b2"}

// group is one bucket of rows sharing a dimension cross-product key.
type group struct {
	label string
	rows  []domain.Row
}

// applyFilters returns the rows matching every filter. Filtering is
// client-side: the engine never assumes the source pre-filtered.
func applyFilters(rows []domain.Row, filters []domain.Filter) []domain.Row {
	if len(filters) == 0 {
		return rows
	}
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, f := range filters {
			if !matchFilter(row, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out
}

// matchFilter evaluates one predicate against one row. Missing values never
// match. "between" bounds are inclusive.
func matchFilter(row domain.Row, f domain.Filter) bool {
	val, ok := row[f.Field]
	if !ok || val == nil {
		return false
	}

	switch f.Operator {
	case domain.OpEquals:
		return compareEqual(val, f.Value, f.FieldType)
	case domain.OpNotEquals:
		return !compareEqual(val, f.Value, f.FieldType)
	case domain.OpContains:
		return strings.Contains(strings.ToLower(asString(val)), strings.ToLower(asString(f.Value)))
	case domain.OpGreaterThan:
		cmp, ok := compareOrdered(val, f.Value, f.FieldType)
		return ok && cmp > 0
	case domain.OpLessThan:
		cmp, ok := compareOrdered(val, f.Value, f.FieldType)
		return ok && cmp < 0
	case domain.OpBetween:
		bounds, ok := f.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := compareOrdered(val, bounds[0], f.FieldType)
		hi, okHi := compareOrdered(val, bounds[1], f.FieldType)
		return okLo && okHi && lo >= 0 && hi <= 0
	}
	return false
}

func compareEqual(a, b any, ft domain.FieldType) bool {
	switch ft {
	case domain.FieldTypeNumber:
		av, aok := asNumber(a)
		bv, bok := asNumber(b)
		return aok && bok && av == bv
	case domain.FieldTypeBoolean:
		return asString(a) == asString(b)
	case domain.FieldTypeDate:
		at, aok := asTime(a)
		bt, bok := asTime(b)
		return aok && bok && at.Equal(bt)
	default:
		return asString(a) == asString(b)
	}
}

// compareOrdered returns sign(a-b) for number and date fields.
func compareOrdered(a, b any, ft domain.FieldType) (int, bool) {
	if ft == domain.FieldTypeDate {
		at, aok := asTime(a)
		bt, bok := asTime(b)
		if !aok || !bok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		}
		return 0, true
	}

	av, aok := asNumber(a)
	bv, bok := asNumber(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case av < bv:
		return -1, true
	case av > bv:
		return 1, true
	}
	return 0, true
}

// asNumber widens any numeric value to float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asString renders any scalar as a string for equality and grouping.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// dateLayouts accepted for date-typed values.
var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// groupRows buckets rows by the cross-product of the group-by dimensions,
// preserving first-seen group order. With no group-by dimensions all rows
// collapse into a single "all" group; zero input rows yield zero groups.
func groupRows(rows []domain.Row, dims []domain.DimensionSelection) []group {
	if len(rows) == 0 {
		return nil
	}
	if len(dims) == 0 {
		return []group{{label: "all", rows: rows}}
	}

	index := make(map[string]int)
	var groups []group
	for _, row := range rows {
		parts := make([]string, len(dims))
		for i, d := range dims {
			parts[i] = asString(row[d.Field])
		}
		label := strings.Join(parts, " / ")
		at, seen := index[label]
		if !seen {
			at = len(groups)
			index[label] = at
			groups = append(groups, group{label: label})
		}
		groups[at].rows = append(groups[at].rows, row)
	}
	return groups
}

// aggregate reduces one metric over one group of rows.
func aggregate(rows []domain.Row, field string, agg domain.Aggregation) float64 {
	var (
		sum   float64
		count int
		min   float64
		max   float64
	)
	for _, row := range rows {
		v, ok := asNumber(row[field])
		if !ok {
			if agg == domain.AggCount && row[field] != nil {
				count++ // count also covers non-numeric fields
			}
			continue
		}
		if count == 0 {
			min, max = v, v
		} else {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		sum += v
		count++
	}

	switch agg {
	case domain.AggSum:
		return sum
	case domain.AggAverage:
		if count == 0 {
			return 0
		}
		return sum / float64(count)
	case domain.AggMin:
		return min
	case domain.AggMax:
		return max
	case domain.AggCount:
		return float64(count)
	}
	return 0
}

// buildDataset runs the grouped aggregation and assembles labels plus one
// series per metric, data aligned positionally to the labels.
func buildDataset(groups []group, metrics []domain.MetricSelection) domain.Dataset {
	ds := domain.Dataset{Labels: []string{}, Series: []domain.Series{}}
	if len(groups) == 0 {
		return ds
	}

	for _, g := range groups {
		ds.Labels = append(ds.Labels, g.label)
	}
	for i, m := range metrics {
		s := domain.Series{
			ID:    m.ID.String(),
			Label: m.Label,
			Color: seriesPalette[i%len(seriesPalette)],
			Data:  make([]float64, 0, len(groups)),
		}
		if s.Label == "" {
			s.Label = fmt.Sprintf("%s (%s)", m.Field, m.Aggregation)
		}
		for _, g := range groups {
			s.Data = append(s.Data, aggregate(g.rows, m.Field, m.Aggregation))
		}
		ds.Series = append(ds.Series, s)
	}
	return ds
}

// summarize computes aggregate-of-aggregates over the first series.
func summarize(ds domain.Dataset) domain.Summary {
	if len(ds.Series) == 0 || len(ds.Series[0].Data) == 0 {
		return domain.Summary{}
	}
	data := ds.Series[0].Data
	s := domain.Summary{Min: data[0], Max: data[0], Count: len(data)}
	for _, v := range data {
		s.Total += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Average = s.Total / float64(s.Count)
	return s
}

// sortAndLimit reorders the dataset per the sort spec, then truncates to
// the limit. Both run after aggregation, since sorting by a metric needs the
// aggregated value to exist. The sort is stable, so ties keep first-seen
// group order; the limit applies after sorting.
func sortAndLimit(ds domain.Dataset, cfg domain.ReportConfiguration) domain.Dataset {
	n := len(ds.Labels)
	if n == 0 {
		return ds
	}

	if cfg.Sorting.Field != "" {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}

		desc := cfg.Sorting.Direction == domain.SortDesc
		if data := metricSortData(ds, cfg); data != nil {
			sort.SliceStable(idx, func(i, j int) bool {
				if desc {
					return data[idx[i]] > data[idx[j]]
				}
				return data[idx[i]] < data[idx[j]]
			})
			ds = reorder(ds, idx)
		} else if dimensionSelected(cfg, cfg.Sorting.Field) {
			labels := ds.Labels
			sort.SliceStable(idx, func(i, j int) bool {
				if desc {
					return labels[idx[i]] > labels[idx[j]]
				}
				return labels[idx[i]] < labels[idx[j]]
			})
			ds = reorder(ds, idx)
		}
	}

	if cfg.Limit > 0 && cfg.Limit < len(ds.Labels) {
		ds.Labels = ds.Labels[:cfg.Limit]
		for i := range ds.Series {
			ds.Series[i].Data = ds.Series[i].Data[:cfg.Limit]
		}
	}
	return ds
}

// metricSortData returns the aggregated values of the sort field when it
// names a selected metric, nil otherwise.
func metricSortData(ds domain.Dataset, cfg domain.ReportConfiguration) []float64 {
	for si, m := range cfg.Metrics {
		if m.Field == cfg.Sorting.Field && si < len(ds.Series) {
			return ds.Series[si].Data
		}
	}
	return nil
}

func dimensionSelected(cfg domain.ReportConfiguration, field string) bool {
	for _, d := range cfg.Dimensions {
		if d.Field == field {
			return true
		}
	}
	return false
}

// reorder rebuilds the dataset in index order.
func reorder(ds domain.Dataset, idx []int) domain.Dataset {
	out := domain.Dataset{
		Labels: make([]string, len(idx)),
		Series: make([]domain.Series, len(ds.Series)),
	}
	for si, s := range ds.Series {
		out.Series[si] = domain.Series{ID: s.ID, Label: s.Label, Color: s.Color, Data: make([]float64, len(idx))}
	}
	for to, from := range idx {
		out.Labels[to] = ds.Labels[from]
		for si := range ds.Series {
			out.Series[si].Data[to] = ds.Series[si].Data[from]
		}
	}
	return out
}
