// Package catalog holds the field catalogs of the available data sources.
// A catalog is immutable after load: builder sessions and the execution
// engine read from it, nothing writes to it.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/reportd-data/reportd/internal/domain"
)

// DefaultRefreshRate is applied to sources that don't declare one (15 minutes).
const DefaultRefreshRate = 15

// Catalog is a read-only registry of data sources keyed by ID.
type Catalog struct {
	sources map[string]domain.DataSource
}

// New builds a Catalog from the given sources, validating field invariants:
// every metric field must declare at least one supported aggregation, and
// source IDs must be unique.
func New(sources ...domain.DataSource) (*Catalog, error) {
	c := &Catalog{sources: make(map[string]domain.DataSource, len(sources))}
	for _, src := range sources {
		if src.ID == "" {
			return nil, fmt.Errorf("data source %q: id is required", src.Name)
		}
		if _, dup := c.sources[src.ID]; dup {
			return nil, fmt.Errorf("data source %q: duplicate id", src.ID)
		}
		if src.RefreshRate <= 0 {
			src.RefreshRate = DefaultRefreshRate
		}
		seen := make(map[string]bool, len(src.Fields))
		for _, f := range src.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("data source %q: field with empty name", src.ID)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("data source %q: duplicate field %q", src.ID, f.Name)
			}
			seen[f.Name] = true
			if !domain.ValidFieldType(string(f.Type)) {
				return nil, fmt.Errorf("data source %q: field %q: unknown type %q", src.ID, f.Name, f.Type)
			}
			if f.IsMetric && len(f.SupportedAggregations) == 0 {
				return nil, fmt.Errorf("data source %q: metric field %q declares no aggregations", src.ID, f.Name)
			}
			for _, agg := range f.SupportedAggregations {
				if !domain.ValidAggregation(string(agg)) {
					return nil, fmt.Errorf("data source %q: field %q: unknown aggregation %q", src.ID, f.Name, agg)
				}
			}
		}
		c.sources[src.ID] = src
	}
	return c, nil
}

// Source returns the data source with the given ID.
func (c *Catalog) Source(id string) (domain.DataSource, bool) {
	src, ok := c.sources[id]
	return src, ok
}

// List returns all data sources sorted by ID.
func (c *Catalog) List() []domain.DataSource {
	out := make([]domain.DataSource, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// catalogFile is the YAML shape of a catalog definition file.
type catalogFile struct {
	Sources []sourceYAML `yaml:"sources"`
}

type sourceYAML struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	RefreshRate int         `yaml:"refresh_rate_minutes"`
	Fields      []fieldYAML `yaml:"fields"`
}

type fieldYAML struct {
	Name         string   `yaml:"name"`
	Label        string   `yaml:"label"`
	Type         string   `yaml:"type"`
	Dimension    bool     `yaml:"dimension"`
	Metric       bool     `yaml:"metric"`
	Aggregations []string `yaml:"aggregations"`
	Format       string   `yaml:"format"`
}

// LoadFile parses a catalog YAML file and validates it.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	sources := make([]domain.DataSource, 0, len(file.Sources))
	for _, s := range file.Sources {
		src := domain.DataSource{
			ID:          s.ID,
			Name:        s.Name,
			RefreshRate: s.RefreshRate,
		}
		for _, f := range s.Fields {
			field := domain.Field{
				Name:        f.Name,
				Label:       f.Label,
				Type:        domain.FieldType(f.Type),
				IsDimension: f.Dimension,
				IsMetric:    f.Metric,
				Format:      domain.FieldFormat(f.Format),
			}
			for _, a := range f.Aggregations {
				field.SupportedAggregations = append(field.SupportedAggregations, domain.Aggregation(a))
			}
			src.Fields = append(src.Fields, field)
		}
		sources = append(sources, src)
	}

	return New(sources...)
}

// Builtin returns the sample catalog used in zero-config mode: an "orders"
// source with the common e-commerce fields.
func Builtin() *Catalog {
	c, err := New(domain.DataSource{
		ID:          "orders",
		Name:        "Orders",
		RefreshRate: 15,
		Fields: []domain.Field{
			{Name: "status", Label: "Status", Type: domain.FieldTypeString, IsDimension: true},
			{Name: "region", Label: "Region", Type: domain.FieldTypeString, IsDimension: true},
			{Name: "created_at", Label: "Created", Type: domain.FieldTypeDate, IsDimension: true},
			{
				Name: "total", Label: "Order Total", Type: domain.FieldTypeNumber, IsMetric: true,
				SupportedAggregations: []domain.Aggregation{domain.AggSum, domain.AggAverage, domain.AggMin, domain.AggMax, domain.AggCount},
				Format:                domain.FormatCurrency,
			},
			{
				Name: "quantity", Label: "Quantity", Type: domain.FieldTypeNumber, IsDimension: true, IsMetric: true,
				SupportedAggregations: []domain.Aggregation{domain.AggSum, domain.AggAverage, domain.AggCount},
			},
		},
	})
	if err != nil {
		// The builtin catalog is static; a validation failure here is a bug.
		panic(err)
	}
	return c
}
