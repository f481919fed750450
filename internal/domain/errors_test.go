package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Collection.Register", ErrCommandExists, "command 'echo'")
	want := "Collection.Register: command 'echo': command already registered: duplicate"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Registry.Dispatch", ErrNoMatch, "")
	want := "Registry.Dispatch: no listener matched: not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Collection.Lookup", ErrCommandNotFound, "nope")
	if !errors.Is(err, ErrCommandNotFound) {
		t.Error("errors.Is should match ErrCommandNotFound")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is should match category ErrNotFound")
	}
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	err := WrapOp("op", ErrDecode)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, "op: decode failed: invalid input", err.Error())
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(ErrCancelled))
	assert.True(t, IsCancellation(fmt.Errorf("handler: %w", ErrWaitCancelled)))
	assert.False(t, IsCancellation(ErrWaitTimeout))
	assert.False(t, IsCancellation(context.Canceled))
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{errors.New("boom"), CodeUnknown},
		{ErrNoMatch, CodeNoMatch},
		{ErrCommandNotFound, CodeCommandNotFound},
		{fmt.Errorf("wrapped: %w", ErrWaitTimeout), CodeWaitTimeout},
		{NewDomainError("x", ErrParamUnresolved, "text"), CodeParamUnresolved},
		{ErrTimeout, CodeTimeout},
		{fmt.Errorf("x: %w", ErrCancelled), CodeCancelled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCodeOf(tt.err), "err=%v", tt.err)
	}
}
