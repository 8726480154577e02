package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable_WrapsWithRetryableClass(t *testing.T) {
	cause := errors.New("llm provider returned 503")
	err := Retryable(cause)

	var he *HandlerError
	assert.ErrorAs(t, err, &he)
	assert.Equal(t, ClassRetryable, he.Class)
	assert.ErrorIs(t, err, cause)
}

func TestTerminal_WrapsWithTerminalClass(t *testing.T) {
	cause := errors.New("invalid configDocument")
	err := Terminal(cause)

	var he *HandlerError
	assert.ErrorAs(t, err, &he)
	assert.Equal(t, ClassTerminal, he.Class)
}

func TestRetryable_NilPassesThrough(t *testing.T) {
	assert.NoError(t, Retryable(nil))
}

func TestTerminal_NilPassesThrough(t *testing.T) {
	assert.NoError(t, Terminal(nil))
}

func TestClassify_UnwrappedErrorDefaultsToTerminal(t *testing.T) {
	assert.Equal(t, ClassTerminal, classify(errors.New("plain error")))
}

func TestClassify_HonorsWrappedHandlerError(t *testing.T) {
	err := fmt.Errorf("batch worker failed: %w", Retryable(errors.New("timeout")))
	assert.Equal(t, ClassRetryable, classify(err))
}

func TestClassify_TerminalHandlerError(t *testing.T) {
	err := fmt.Errorf("batch worker failed: %w", Terminal(errors.New("bad input")))
	assert.Equal(t, ClassTerminal, classify(err))
}
