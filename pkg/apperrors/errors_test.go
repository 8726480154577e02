package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_SentinelWrapChain(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{fmt.Errorf("load study: %w", ErrNotFound), KindNotFound},
		{fmt.Errorf("pair participants: %w", ErrConflict), KindConflict},
		{fmt.Errorf("auth: %w", ErrUnauthorized), KindUnauthorized},
		{fmt.Errorf("bad payload: %w", ErrInvalidInput), KindInvalidInput},
		{fmt.Errorf("deadline: %w", ErrTimeout), KindTimeout},
		{fmt.Errorf("no capacity: %w", ErrUnavailable), KindUnavailable},
		{fmt.Errorf("dup: %w", ErrAlreadyExists), KindAlreadyExists},
		{fmt.Errorf("stale: %w", ErrPreconditionGone), KindPreconditionGone},
		{errors.New("some unrelated failure"), KindInternal},
	}

	for _, c := range cases {
		assert.Equal(t, c.kind, Classify(c.err))
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Equal(t, Kind(""), Classify(nil))
}

func TestClassify_ValidationError(t *testing.T) {
	err := NewValidationError("configDocument", "phases must be one of AUTHOR, PLAY, REVIEW")
	assert.Equal(t, KindInvalidInput, Classify(err))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidationError_Message(t *testing.T) {
	err := NewValidationError("rounds", "must be >= 1")
	assert.Equal(t, `validation failed for rounds: must be >= 1`, err.Error())
}
