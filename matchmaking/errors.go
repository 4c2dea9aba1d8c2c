package matchmaking

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure for callers and for the wire.
type Code string

const (
	// CodeValidation marks a malformed request; no state changed.
	CodeValidation Code = "validation"
	// CodeConflict marks a lost race or an already-started condition.
	CodeConflict Code = "conflict"
	// CodeNotFound marks a missing ticket or match; often benign.
	CodeNotFound Code = "not_found"
	// CodeUnhealthy marks a failed liveness gate.
	CodeUnhealthy Code = "unhealthy"
	// CodeInternal marks an infrastructure failure; retry upstream.
	CodeInternal Code = "internal"
)

// Error is the structured result of a failed domain operation. Expected
// business conditions are returned as values of this type, never panicked.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Errorf builds a structured domain error.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrCode extracts the taxonomy code from an error chain. Errors outside
// the taxonomy classify as internal.
func ErrCode(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// Store sentinels. Implementations of the store contracts return these
// for their defined outcomes; the coordinator maps them onto the taxonomy.
var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrMatchNotFound     = errors.New("match not found")
	ErrTicketAlreadyOpen = errors.New("player already has an open ticket")
	ErrConflict          = errors.New("concurrent modification")
)
