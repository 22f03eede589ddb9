package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndNewf(t *testing.T) {
	err := New(ErrCodeInvalidParameter, "bad input")

	assert.Equal(t, ErrCodeInvalidParameter, err.Code)
	assert.Equal(t, "bad input", err.Message)
	assert.Nil(t, err.Cause)
	assert.Equal(t, "[100] bad input", err.Error())

	formatted := Newf(ErrCodeDanglingRef, "signal %q not found", "fast_ma")
	assert.Equal(t, `[301] signal "fast_ma" not found`, formatted.Error())
}

func TestWrapIncludesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrCodeQueryFailed, "failed to execute query", cause)

	assert.Equal(t, "[201] failed to execute query: disk full", err.Error())
	assert.Same(t, cause, err.Unwrap())

	wrapped := Wrapf(ErrCodeOrderFailed, cause, "order %d failed", 7)
	assert.Equal(t, "[500] order 7 failed: disk full", wrapped.Error())
}

func TestIsTraversesChain(t *testing.T) {
	sentinel := stderrors.New("sentinel")
	err := Wrap(ErrCodeBacktestDataError, "run failed", fmt.Errorf("stage: %w", sentinel))

	assert.True(t, Is(err, sentinel))
	assert.False(t, Is(err, stderrors.New("other")))
}

func TestAsFindsTypedError(t *testing.T) {
	inner := New(ErrCodeSymbolNotFound, "no such symbol")
	err := fmt.Errorf("lookup: %w", inner)

	var typed *Error
	require.True(t, As(err, &typed))
	assert.Equal(t, ErrCodeSymbolNotFound, typed.Code)
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidWindow, GetCode(New(ErrCodeInvalidWindow, "bad window")))

	// Codes survive wrapping by plain errors.
	wrapped := fmt.Errorf("outer: %w", New(ErrCodeEmptyDataset, "no bars"))
	assert.Equal(t, ErrCodeEmptyDataset, GetCode(wrapped))

	assert.Equal(t, ErrCodeUnknown, GetCode(stderrors.New("untyped")))
}

func TestHasCode(t *testing.T) {
	err := New(ErrCodeReferenceCycle, "cycle detected")

	assert.True(t, HasCode(err, ErrCodeReferenceCycle))
	assert.False(t, HasCode(err, ErrCodeDanglingRef))
	assert.False(t, HasCode(stderrors.New("untyped"), ErrCodeReferenceCycle))
}
