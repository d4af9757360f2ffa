package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tandem/internal/ir"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "bare",
			err:  &Error{Code: CodeUnknownType, Message: "unknown model type \"ghost\""},
			want: `UNKNOWN_TYPE: unknown model type "ghost"`,
		},
		{
			name: "record",
			err:  &Error{Code: CodeUnloaded, Message: "gone", Key: ir.NewKey("user", "1")},
			want: "UNLOADED: gone (record=user:1)",
		},
		{
			name: "record and field with cause",
			err: &Error{
				Code:    CodeLoadError,
				Message: "failed to load related records",
				Key:     ir.NewKey("topic", "2"),
				Field:   "users",
				Err:     errors.New("timeout"),
			},
			want: "LOAD_ERROR: failed to load related records (record=topic:2, field=users): timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", &Error{Code: CodeTypeMismatch})
	assert.True(t, IsTypeMismatch(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, CodeTypeMismatch, CodeOf(wrapped))

	assert.True(t, IsNotFound(&Error{Code: CodeNotFound}))
	assert.True(t, IsNotFound(&Error{Code: CodeUnloaded}))
	assert.True(t, IsUnknownField(&Error{Code: CodeUnknownType}))
	assert.True(t, IsCardinality(&Error{Code: CodeCardinality}))
	assert.True(t, IsLoadError(&Error{Code: CodeLoadError}))

	assert.False(t, IsLoadError(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &Error{Code: CodeLoadError, Err: cause}
	assert.ErrorIs(t, err, cause)
}
