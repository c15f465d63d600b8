package domain

import "errors"

// ErrAlreadyExists indicates a create operation conflicted with an existing resource.
var ErrAlreadyExists = errors.New("resource already exists")

// ErrNotFound indicates a lookup target does not exist.
var ErrNotFound = errors.New("resource not found")

// ErrSourceUnavailable indicates the external data source could not be
// reached. Transient: interactive callers surface it immediately, the
// scheduler retries on its next due run. Never cached.
var ErrSourceUnavailable = errors.New("data source unavailable")

// ErrAggregationMismatch indicates an aggregation was applied to a field
// that does not support it. The validator rejects such configurations, so
// hitting this during execution is a programming error, not a user-facing
// condition.
var ErrAggregationMismatch = errors.New("aggregation type mismatch")

// FieldError is one field-level validation problem. Validation failures
// are returned as values, never raised; they are expected and frequent
// during interactive building.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}
