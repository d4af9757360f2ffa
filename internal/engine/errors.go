package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tandem/internal/ir"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeNotFound indicates a member record that sync access requires is not
	// present, or a key with no record in the identity map.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnloaded indicates an operation on a record handle that was
	// unloaded or destroyed by rollback.
	CodeUnloaded ErrorCode = "UNLOADED"

	// CodeLoadError indicates the loader failed to materialize an async field.
	CodeLoadError ErrorCode = "LOAD_ERROR"

	// CodeTypeMismatch indicates a member of the wrong target type, or an
	// attribute value of the wrong declared type.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeUnknownType indicates a model type that is not registered.
	CodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// CodeUnknownField indicates a relationship or attribute name the model
	// does not declare.
	CodeUnknownField ErrorCode = "UNKNOWN_FIELD"

	// CodeCardinality indicates more than one member for a cardinality-one
	// field.
	CodeCardinality ErrorCode = "CARDINALITY"

	// CodeDeleted indicates a local edit involving a record that is deleted
	// but not yet unloaded.
	CodeDeleted ErrorCode = "RECORD_DELETED"

	// CodeInvalidPayload indicates a payload without an id or with blank
	// member ids.
	CodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
)

// Error is returned by every engine operation that fails. A failed
// operation leaves relationship state exactly as it was before the call.
type Error struct {
	Code    ErrorCode
	Message string

	// Key identifies the record the operation was applied to, if any.
	Key ir.Key

	// Field names the relationship or attribute involved, if any.
	Field string

	// Err is the underlying cause (loader error, sentinel from a leaf package).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case !e.Key.IsZero() && e.Field != "":
		msg = fmt.Sprintf("%s (record=%s, field=%s)", msg, e.Key, e.Field)
	case !e.Key.IsZero():
		msg = fmt.Sprintf("%s (record=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, codes ...ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for _, c := range codes {
		if e.Code == c {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a NOT_FOUND or UNLOADED error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound, CodeUnloaded)
}

// IsLoadError reports whether err is a failed materialization.
func IsLoadError(err error) bool {
	return hasCode(err, CodeLoadError)
}

// IsTypeMismatch reports whether err is a TYPE_MISMATCH error.
func IsTypeMismatch(err error) bool {
	return hasCode(err, CodeTypeMismatch)
}

// IsUnknownField reports whether err names an undeclared type or field.
func IsUnknownField(err error) bool {
	return hasCode(err, CodeUnknownField, CodeUnknownType)
}

// IsCardinality reports whether err is a CARDINALITY error.
func IsCardinality(err error) bool {
	return hasCode(err, CodeCardinality)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, key ir.Key, field, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Key:     key,
		Field:   field,
	}
}

func unloadedError(key ir.Key) *Error {
	return newError(CodeUnloaded, key, "", "record is no longer in the identity map")
}
