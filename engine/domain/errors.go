package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrMissingColumn   = errors.New("missing required column")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrDuplicateSKU    = errors.New("duplicate sku")
	ErrEmptyField      = errors.New("empty required field")
	ErrInvalidPrice    = errors.New("invalid unit price")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrRaggedRow       = errors.New("row width does not match header")
	ErrEmptyCatalog    = errors.New("catalog has no rows")
	ErrMalformedCSV    = errors.New("malformed csv")
	ErrEmptyLineItem   = errors.New("line item text is empty")
	ErrRFQMismatch     = errors.New("rfq_id does not match batch")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation: %s: %s", e.Wrapped, e.Field)
	}
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// NotReadyError is returned when no catalog snapshot has ever been built.
type NotReadyError struct{}

func (*NotReadyError) Error() string { return "catalog not ready: upload a catalog first" }

// EmbeddingError reports a provider failure or timeout.
type EmbeddingError struct {
	Op      string
	Wrapped error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %s: %v", e.Op, e.Wrapped)
}

func (e *EmbeddingError) Unwrap() error { return e.Wrapped }

// SearchError reports a failure of the vector index itself.
type SearchError struct {
	Wrapped error
}

func (e *SearchError) Error() string { return fmt.Sprintf("search: %v", e.Wrapped) }

func (e *SearchError) Unwrap() error { return e.Wrapped }

// ErrorKind is the stable, machine-readable error class.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotReady   ErrorKind = "not_ready"
	KindEmbedding  ErrorKind = "embedding"
	KindSearch     ErrorKind = "search"
	KindCanceled   ErrorKind = "canceled"
	KindInternal   ErrorKind = "internal"
)

// KindOf classifies err. Typed errors win over the context errors they may
// wrap, so a provider timeout stays an embedding failure.
func KindOf(err error) ErrorKind {
	var (
		ve *ValidationError
		nr *NotReadyError
		ee *EmbeddingError
		se *SearchError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &nr):
		return KindNotReady
	case errors.As(err, &ee):
		return KindEmbedding
	case errors.As(err, &se):
		return KindSearch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
