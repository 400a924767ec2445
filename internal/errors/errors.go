package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("node not found")
	ErrAlreadyExists       = errors.New("node already exists")
	ErrAlreadyReserved     = errors.New("node already reserved")
	ErrInvalidDeadline     = errors.New("invalid deadline")
	ErrStoreUnavailable    = errors.New("node store unavailable")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCASConflict         = errors.New("compare-and-swap conflict")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different request")
)

// Unavailable marks an infrastructure failure as retryable while keeping the cause.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// InvalidDeadline annotates ErrInvalidDeadline with the offending input.
func InvalidDeadline(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDeadline, fmt.Sprintf(format, args...))
}

// InvalidRequest annotates ErrInvalidRequest with a caller-facing reason.
func InvalidRequest(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}

// Kind returns the stable name of the error class, used in API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrAlreadyReserved):
		return "AlreadyReserved"
	case errors.Is(err, ErrInvalidDeadline):
		return "InvalidDeadline"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	case errors.Is(err, ErrIdempotencyMismatch):
		return "IdempotencyMismatch"
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrCASConflict):
		return "StoreUnavailable"
	default:
		return "Internal"
	}
}

// IsRetryable reports whether a caller may retry the failed operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCASConflict)
}
