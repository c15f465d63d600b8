package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/reportd-data/reportd/internal/domain"
)

// marshalConfiguration encodes a report configuration for JSONB storage.
func marshalConfiguration(cfg domain.ReportConfiguration) ([]byte, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}
	return b, nil
}

// unmarshalConfiguration decodes a JSONB configuration column.
func unmarshalConfiguration(b []byte) (domain.ReportConfiguration, error) {
	var cfg domain.ReportConfiguration
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// marshalSpec encodes a schedule spec for JSONB storage.
func marshalSpec(spec domain.ScheduleSpec) ([]byte, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule spec: %w", err)
	}
	return b, nil
}

// unmarshalSpec decodes a JSONB schedule spec column.
func unmarshalSpec(b []byte) (domain.ScheduleSpec, error) {
	var spec domain.ScheduleSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return spec, fmt.Errorf("unmarshal schedule spec: %w", err)
	}
	return spec, nil
}
