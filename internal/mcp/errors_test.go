package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", xerrors.New(xerrors.ErrCodeQueryEmpty, "symbol is required", nil), ErrCodeInvalidParams},
		{"file not found", xerrors.New(xerrors.ErrCodeFileNotFound, "gone", nil), ErrCodeFileNotFound},
		{"file too large", xerrors.New(xerrors.ErrCodeFileTooLarge, "big", nil), ErrCodeFileTooLarge},
		{"resource exhausted", xerrors.New(xerrors.ErrCodeResourceExhausted, "low memory", nil), ErrCodeResourcePressure},
		{"executor closed", xerrors.New(xerrors.ErrCodeExecutorClosed, "closed", nil), ErrCodeIndexUnavailable},
		{"internal", xerrors.New(xerrors.ErrCodeInternal, "oops", nil), ErrCodeInternalError},
		{"wrapped xref", fmt.Errorf("outer: %w", xerrors.New(xerrors.ErrCodeInvalidPath, "bad", nil)), ErrCodeInvalidParams},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), ErrCodeTimeout},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, MapError(tc.err).Code)
		})
	}
}

func TestMapError_NilAndPassthrough(t *testing.T) {
	assert.Nil(t, MapError(nil))

	me := NewInvalidParamsError("limit must be positive")
	assert.Same(t, me, MapError(me))
	assert.Equal(t, "MCP error -32602: limit must be positive", me.Error())
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := xerrors.New(xerrors.ErrCodeQueryEmpty, "symbol is required", nil).
		WithSuggestion("Pass a name such as greet.")

	assert.Equal(t, "symbol is required Pass a name such as greet.", MapError(err).Message)
}
