package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesSameKindRegardlessOfMessage(t *testing.T) {
	a := New(KindMalformed, "component-a", "first message", nil)
	b := New(KindMalformed, "component-b", "second message", nil)

	assert.True(t, errors.Is(a, b))
}

func TestIs_DoesNotMatchDifferentKind(t *testing.T) {
	a := New(KindMalformed, "component", "message", nil)
	b := New(KindUnsupported, "component", "message", nil)

	assert.False(t, errors.Is(a, b))
}

func TestUnwrap_ExposesCause(t *testing.T) {
	cause := errors.New("underlying failure")
	err := New(KindTransport, "component", "wrap", cause)

	assert.ErrorIs(t, err, cause)
}

func TestError_MessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindTransport, "component", "op failed", cause)

	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "op failed")
}

func TestError_MessageOmitsCauseWhenAbsent(t *testing.T) {
	err := New(KindMalformed, "component", "op failed", nil)

	assert.NotContains(t, err.Error(), "<nil>")
	assert.Contains(t, err.Error(), "op failed")
}

func TestRetryable_OnlyTransportIsRetryable(t *testing.T) {
	assert.True(t, KindTransport.Retryable())
	assert.False(t, KindMalformed.Retryable())
	assert.False(t, KindACLDenied.Retryable())
}
