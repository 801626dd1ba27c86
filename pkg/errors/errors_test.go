package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not found", NotFound("case", "NX1"), ErrCodeNotFound},
		{"rejected", Rejected("enter positions first"), ErrCodeValidationRejected},
		{"wrapped", fmt.Errorf("outer: %w", PermissionDenied("denied")), ErrCodePermissionDenied},
		{"unavailable", Unavailable(stderrors.New("dial tcp"), "store down"), ErrCodeUnavailable},
		{"plain", stderrors.New("boom"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))

	cause := stderrors.New("connection reset")
	err := Wrap(cause, ErrCodeUnavailable, "failed to commit")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to commit: connection reset", err.Error())
	assert.True(t, Is(err, ErrCodeUnavailable))
	assert.False(t, Is(nil, ErrCodeUnavailable))
}

func TestInvalidInput(t *testing.T) {
	err := InvalidInput("field", "unknown field \"foo\"")
	assert.Equal(t, "field", err.Field)
	assert.Equal(t, `invalid field: unknown field "foo"`, err.Error())
}
