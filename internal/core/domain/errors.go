package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrRetrievalBackend  = errors.New("retrieval backend failure")
	ErrGenerationBackend = errors.New("generation backend failure")
	ErrMalformedResponse = errors.New("structured response malformed")
	ErrDeadlineExceeded  = errors.New("deadline exceeded")
	ErrConfigInvalid     = errors.New("configuration invalid")
	ErrInvalidInput      = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Kind maps an error to its machine-readable taxonomy name, or "" when the
// error carries no recognized kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "SessionNotFound"
	case errors.Is(err, ErrRetrievalBackend):
		return "RetrievalBackendFailure"
	case errors.Is(err, ErrGenerationBackend):
		return "GenerationBackendFailure"
	case errors.Is(err, ErrMalformedResponse):
		return "StructuredResponseMalformed"
	case errors.Is(err, ErrDeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, ErrConfigInvalid):
		return "ConfigurationInvalid"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	default:
		return ""
	}
}
