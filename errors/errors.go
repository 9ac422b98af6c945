// Package errors defines the closed error taxonomy of the mail store.
// Callers branch on kinds, never on message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies every error the store returns.
type Kind int

const (
	// KindValidation marks malformed input. Caller-correctable, never retried.
	KindValidation Kind = iota + 1
	// KindNotFound covers both "absent" and "not visible to the actor";
	// the two are deliberately indistinguishable.
	KindNotFound
	// KindAlreadyExists marks a duplicate handle on contact creation.
	KindAlreadyExists
	// KindVersionConflict marks a stale expected version on a contact
	// update. The caller must re-read and retry; the store never does.
	KindVersionConflict
	// KindStorage marks an underlying persistence failure.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindVersionConflict:
		return "version_conflict"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error carries a kind plus the entity and reference it concerns.
type Error struct {
	Kind   Kind
	Entity string // "thread", "message", "contact", "audit"
	Ref    string // id or handle
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Entity != "" {
		msg += ": " + e.Entity
		if e.Ref != "" {
			msg += " " + e.Ref
		}
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error for entity/ref.
func NotFound(entity, ref string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Ref: ref}
}

// AlreadyExists builds a KindAlreadyExists error for entity/ref.
func AlreadyExists(entity, ref string) *Error {
	return &Error{Kind: KindAlreadyExists, Entity: entity, Ref: ref}
}

// VersionConflict builds a KindVersionConflict error for a contact handle.
func VersionConflict(handle string, expected int64) *Error {
	return &Error{
		Kind:   KindVersionConflict,
		Entity: "contact",
		Ref:    handle,
		Reason: fmt.Sprintf("expected version %d is stale", expected),
	}
}

// Storage wraps an underlying persistence failure.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Err: err}
}

// HasKind reports whether err (or anything it wraps) is a store error
// of the given kind.
func HasKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsValidation(err error) bool      { return HasKind(err, KindValidation) }
func IsNotFound(err error) bool        { return HasKind(err, KindNotFound) }
func IsAlreadyExists(err error) bool   { return HasKind(err, KindAlreadyExists) }
func IsVersionConflict(err error) bool { return HasKind(err, KindVersionConflict) }
func IsStorage(err error) bool         { return HasKind(err, KindStorage) }

// As re-exports errors.As so callers need not import both packages.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is re-exports errors.Is.
func Is(err, target error) bool { return stderrors.Is(err, target) }
