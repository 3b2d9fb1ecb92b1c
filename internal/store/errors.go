package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Kind classifies store errors for callers. Request handlers surface
// Validation/Conflict/NotFound as-is; only the dispatcher retries Transient.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindTransient
	KindPermanent
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Common sentinel errors
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateKey     = errors.New("duplicate key violation")
	ErrForeignKey       = errors.New("foreign key violation")
	ErrCheckConstraint  = errors.New("check constraint violation")
	ErrNotNull          = errors.New("not null constraint violation")
	ErrConnectionFailed = errors.New("database connection failed")
	ErrTimeout          = errors.New("operation timeout")
	ErrCanceled         = errors.New("operation canceled")
	ErrCorruptRow       = errors.New("corrupt row")
)

// Error provides detailed error information for a failed store operation.
type Error struct {
	Op         string // Operation that failed
	Table      string // Table involved
	Kind       Kind   // Error classification
	Err        error  // Underlying error
	Constraint string // Constraint name (if applicable)
	Column     string // Column name (if applicable)
	Retryable  bool   // Whether the operation can be retried
}

func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("store: %s", e.Op))

	if e.Table != "" {
		parts = append(parts, fmt.Sprintf("table=%s", e.Table))
	}

	if e.Column != "" {
		parts = append(parts, fmt.Sprintf("column=%s", e.Column))
	}

	if e.Constraint != "" {
		parts = append(parts, fmt.Sprintf("constraint=%s", e.Constraint))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf builds a Validation error from a caller-supplied impossible input.
func Validationf(op, table, format string, args ...interface{}) error {
	return &Error{
		Op:    op,
		Table: table,
		Kind:  KindValidation,
		Err:   fmt.Errorf(format, args...),
	}
}

// Fatalf builds a Fatal error for a post-commit invariant violation.
// The dispatcher stops on these; they are never auto-healed.
func Fatalf(op, table, format string, args ...interface{}) error {
	return &Error{
		Op:    op,
		Table: table,
		Kind:  KindFatal,
		Err:   fmt.Errorf(format, args...),
	}
}

// Postgres error classes (first two characters of the SQLSTATE code)
const (
	pqClassConnection  = "08"
	pqClassUnavailable = "57"
	pqCodeUnique       = "23505"
	pqCodeForeignKey   = "23503"
	pqCodeNotNull      = "23502"
	pqCodeCheck        = "23514"
	pqCodeSerialize    = "40001"
	pqCodeDeadlock     = "40P01"
)

// Classify converts database driver errors into store errors.
// Uniqueness and FK failures become Conflict; connection-level failures
// become Transient and are retryable.
func Classify(err error, op, table string) error {
	if err == nil {
		return nil
	}

	var serr *Error
	if errors.As(err, &serr) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &Error{
			Op:    op,
			Table: table,
			Kind:  KindNotFound,
			Err:   ErrNotFound,
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == pqCodeUnique:
			return &Error{
				Op:         op,
				Table:      table,
				Kind:       KindConflict,
				Err:        ErrDuplicateKey,
				Constraint: pqErr.Constraint,
			}
		case code == pqCodeForeignKey:
			return &Error{
				Op:         op,
				Table:      table,
				Kind:       KindValidation,
				Err:        ErrForeignKey,
				Constraint: pqErr.Constraint,
			}
		case code == pqCodeNotNull:
			return &Error{
				Op:     op,
				Table:  table,
				Kind:   KindValidation,
				Err:    ErrNotNull,
				Column: pqErr.Column,
			}
		case code == pqCodeCheck:
			return &Error{
				Op:         op,
				Table:      table,
				Kind:       KindValidation,
				Err:        ErrCheckConstraint,
				Constraint: pqErr.Constraint,
			}
		case code == pqCodeSerialize || code == pqCodeDeadlock:
			return &Error{
				Op:        op,
				Table:     table,
				Kind:      KindTransient,
				Err:       pqErr,
				Retryable: true,
			}
		case strings.HasPrefix(code, pqClassConnection) || strings.HasPrefix(code, pqClassUnavailable):
			return &Error{
				Op:        op,
				Table:     table,
				Kind:      KindTransient,
				Err:       ErrConnectionFailed,
				Retryable: true,
			}
		}
	}

	errStr := err.Error()

	if strings.Contains(errStr, "context deadline exceeded") {
		return &Error{
			Op:        op,
			Table:     table,
			Kind:      KindTransient,
			Err:       ErrTimeout,
			Retryable: true,
		}
	}

	if strings.Contains(errStr, "context canceled") {
		return &Error{
			Op:    op,
			Table: table,
			Kind:  KindPermanent,
			Err:   ErrCanceled,
		}
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "bad connection") {
		return &Error{
			Op:        op,
			Table:     table,
			Kind:      KindTransient,
			Err:       ErrConnectionFailed,
			Retryable: true,
		}
	}

	return &Error{
		Op:    op,
		Table: table,
		Err:   err,
	}
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindUnknown
}

// IsNotFound checks if an error is a missing-record error
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict checks if an error is a uniqueness or concurrency conflict
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsValidation checks if an error rejects caller input
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Retryable
	}
	return false
}

// GetConstraintName extracts the constraint name from an error
func GetConstraintName(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Constraint
	}
	return ""
}
