package deliberr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(context.DeadlineExceeded))
	assert.True(t, IsCancelled(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, IsCancelled(ErrPanelInfeasible))
}

func TestPartialOutputErrorUnwraps(t *testing.T) {
	cause := errors.New("stream closed early")
	err := &PartialOutputError{Cause: cause, PartialText: "partial synthesis"}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stream closed early")
}

func TestSentinelErrorsWrapAndMatch(t *testing.T) {
	wrapped := fmt.Errorf("router failed: %w", ErrPanelInfeasible)
	assert.ErrorIs(t, wrapped, ErrPanelInfeasible)
	assert.False(t, errors.Is(wrapped, ErrNoStage1Survivors))
}
