// Package apperr defines the error taxonomy shared by the construction engine.
//
// Every error carries a Kind and, where one applies, the Rule that was
// violated (for example "required_property:contact_email"), so callers can
// report exactly which constraint rejected an item.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation_error"
	KindOntologyViolation  Kind = "ontology_violation"
	KindServiceUnavailable Kind = "service_unavailable"
	KindConflict           Kind = "conflict"
	KindCancelled          Kind = "cancelled"
)

var (
	ErrNotFound           = errors.New("ontograph: not found")
	ErrValidation         = errors.New("ontograph: validation error")
	ErrOntologyViolation  = errors.New("ontograph: ontology violation")
	ErrServiceUnavailable = errors.New("ontograph: service unavailable")
	ErrConflict           = errors.New("ontograph: conflict")
	ErrCancelled          = errors.New("ontograph: cancelled")
)

var sentinels = map[Kind]error{
	KindNotFound:           ErrNotFound,
	KindValidation:         ErrValidation,
	KindOntologyViolation:  ErrOntologyViolation,
	KindServiceUnavailable: ErrServiceUnavailable,
	KindConflict:           ErrConflict,
	KindCancelled:          ErrCancelled,
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Rule    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrConflict)
// holds for any conflict regardless of message.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func newf(kind Kind, rule, format string, args ...any) *Error {
	return &Error{Kind: kind, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown type, entity, session or item reference.
func NotFound(rule, format string, args ...any) *Error {
	return newf(KindNotFound, rule, format, args...)
}

// Validation reports a property type mismatch, a missing required field or an
// invalid decision.
func Validation(rule, format string, args ...any) *Error {
	return newf(KindValidation, rule, format, args...)
}

// OntologyViolation reports a relationship shape the ontology does not permit.
func OntologyViolation(rule, format string, args ...any) *Error {
	return newf(KindOntologyViolation, rule, format, args...)
}

// Unavailable wraps a failure of the embedding collaborator.
func Unavailable(err error, format string, args ...any) *Error {
	e := newf(KindServiceUnavailable, "embedding_provider", format, args...)
	e.Err = err
	return e
}

// Conflict reports a commit-time isolation or uniqueness failure.
func Conflict(rule string, cause error, format string, args ...any) *Error {
	e := newf(KindConflict, rule, format, args...)
	e.Err = cause
	return e
}

// Cancelled reports an operation on a session the caller aborted.
func Cancelled(format string, args ...any) *Error {
	return newf(KindCancelled, "session_cancelled", format, args...)
}

// KindOf returns the kind of the first classified error in err's chain, or ""
// when err is nil or unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RuleOf returns the violated rule of the first classified error in err's chain.
func RuleOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Rule
	}
	return ""
}

// IsItemScoped reports whether err only affects the offending candidate or
// relationship rather than the whole session.
func IsItemScoped(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindValidation, KindOntologyViolation:
		return true
	}
	return false
}
