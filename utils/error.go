package utils

import (
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrEventVersionConflict surfaces optimistic-append retry exhaustion.
// It is an integrity failure: the enclosing command must abort, never
// report success.
var ErrEventVersionConflict = errors.New("event version conflict: retries exhausted")

// Machine-readable conflict reasons returned to clients.
const (
	ReasonIllegalTransition   = "illegal_transition"
	ReasonIdempotencyKeyReuse = "idempotency_key_reuse"
	ReasonDuplicateInProgress = "duplicate_request_in_progress"
	ReasonJobAlreadyClaimed   = "job_already_claimed"
	ReasonEscrowNotHeld       = "escrow_not_held"
)

// ConflictError is a recoverable, client-facing rejection. Reason is stable
// and machine-readable; Message is for humans.
type ConflictError struct {
	Reason  string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func NewConflict(reason, format string, args ...any) *ConflictError {
	return &ConflictError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsConflict unwraps a ConflictError if err carries one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsDuplicateKeyErr classifies unique-constraint violations without matching
// error-message substrings: MySQL error 1062 or gorm's translated sentinel.
func IsDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
