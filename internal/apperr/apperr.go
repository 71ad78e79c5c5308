// Package apperr defines the typed errors every command returns. Callers
// branch on the Kind; the remaining fields carry enough context to render a
// precise message.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a command failure
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvalidTransition
	KindConflict
	KindAuthorization
	KindState
	KindImmutableState
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization_error"
	case KindState:
		return "state_error"
	case KindImmutableState:
		return "immutable_state"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage_error"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across the command boundary.
type Error struct {
	Kind      Kind   `json:"kind"`
	Entity    string `json:"entity,omitempty"`
	ID        string `json:"id,omitempty"`
	Current   string `json:"current,omitempty"`
	Requested string `json:"requested,omitempty"`
	Operation string `json:"operation,omitempty"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Sentinels for errors.Is. Matching compares only the Kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrState             = &Error{Kind: KindState}
	ErrImmutableState    = &Error{Kind: KindImmutableState}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrStorage           = &Error{Kind: KindStorage}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Validation reports malformed input on field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// InvalidTransition reports a state machine rule violation.
func InvalidTransition(entity, id, current, requested string) *Error {
	return &Error{
		Kind:      KindInvalidTransition,
		Entity:    entity,
		ID:        id,
		Current:   current,
		Requested: requested,
		Message:   fmt.Sprintf("cannot move from %s to %s", current, requested),
	}
}

// Conflict reports a resource already claimed by someone else.
func Conflict(entity, id, current, message string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Current: current, Message: message}
}

// Authorization reports a role lacking permission for an operation.
func Authorization(role, operation, reason string) *Error {
	return &Error{
		Kind:      KindAuthorization,
		Operation: operation,
		Message:   fmt.Sprintf("role %q may not %s: %s", role, operation, reason),
	}
}

// State reports an unmet precondition on a dependent entity.
func State(entity, id, current, message string) *Error {
	return &Error{Kind: KindState, Entity: entity, ID: id, Current: current, Message: message}
}

// Immutable reports a mutation attempted on an entity in a terminal state.
func Immutable(entity, id, current, operation string) *Error {
	return &Error{
		Kind:      KindImmutableState,
		Entity:    entity,
		ID:        id,
		Current:   current,
		Operation: operation,
		Message:   fmt.Sprintf("%s is %s and can no longer be changed", entity, current),
	}
}

// NotFound reports an unknown entity id.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: "not found"}
}

// Storage wraps a failure of the storage collaborator without interpreting it.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Message: "storage failure", Err: err}
}

// Wrap passes typed errors through and turns anything else into a StorageError.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Storage(err)
}
