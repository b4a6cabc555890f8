// Package merr defines the typed error taxonomy surfaced by mutation
// operations. Every failure leaving the engine is an *Error carrying a
// kind, a message, and optional structured data.
package merr

import (
	"errors"
	"fmt"
)

// Kind classifies a mutation failure.
type Kind string

const (
	KindAccessDenied      Kind = "AccessDenied"
	KindValidationFailure Kind = "ValidationFailure"
	KindLimitsExceeded    Kind = "LimitsExceeded"
	KindNestedError       Kind = "NestedError"
	KindMutationError     Kind = "MutationError"
	KindBadUserInput      Kind = "BadUserInput"
)

// Error is the structured failure type for the mutation engine.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]interface{}

	// reasons holds the underlying failures for aggregate and nested errors.
	reasons []error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the underlying failures so errors.Is/As can walk
// through aggregates.
func (e *Error) Unwrap() []error {
	return e.reasons
}

// Payload returns the wire shape surfaced to callers: {kind, message, data}.
func (e *Error) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"kind":    string(e.Kind),
		"message": e.Message,
	}
	if len(e.Data) > 0 {
		payload["data"] = e.Data
	}
	return payload
}

// Reasons returns the ordered underlying failures of an aggregate or
// nested error, or nil.
func (e *Error) Reasons() []error {
	return e.reasons
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured data and returns the same error.
func (e *Error) WithData(data map[string]interface{}) *Error {
	e.Data = data
	return e
}

// Aggregate combines one or more underlying failures into a single
// MutationError. The ordered list of failure payloads is carried in
// data.errors; successful results of the same batch are discarded by
// the caller.
func Aggregate(message string, reasons []error) *Error {
	return aggregate(KindMutationError, message, reasons)
}

// Nested wraps failures that occurred while resolving a relationship
// against a foreign collection.
func Nested(message string, reasons []error) *Error {
	return aggregate(KindNestedError, message, reasons)
}

func aggregate(kind Kind, message string, reasons []error) *Error {
	entries := make([]interface{}, 0, len(reasons))
	for _, reason := range reasons {
		var me *Error
		if errors.As(reason, &me) {
			entries = append(entries, me.Payload())
			continue
		}
		entries = append(entries, map[string]interface{}{
			"kind":    string(KindMutationError),
			"message": reason.Error(),
		})
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Data:    map[string]interface{}{"errors": entries},
		reasons: reasons,
	}
}

// WithField attributes err to a field, preserving the kind and data of
// typed errors so aggregation reports the failure with its field
// identity.
func WithField(err error, fieldKey string) error {
	var me *Error
	if errors.As(err, &me) {
		data := make(map[string]interface{}, len(me.Data)+1)
		for k, v := range me.Data {
			data[k] = v
		}
		data["field"] = fieldKey
		return &Error{Kind: me.Kind, Message: me.Message, Data: data, reasons: me.reasons}
	}
	return &Error{
		Kind:    KindMutationError,
		Message: err.Error(),
		Data:    map[string]interface{}{"field": fieldKey},
		reasons: []error{err},
	}
}

// KindOf returns the kind of err if it is (or wraps) an *Error, or ""
// otherwise.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
