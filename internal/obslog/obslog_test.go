package obslog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext_ReturnsDefaultWhenUnset(t *testing.T) {
	logger := FromContext(context.Background())
	assert.NotNil(t, logger)
}

func TestWithLogger_AttachesRetrievableLogger(t *testing.T) {
	ctx := WithLogger(context.Background(), "")
	logger := FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestLogger_ReturnsNonNilLogger(t *testing.T) {
	logger := Logger("test-component")
	assert.NotNil(t, logger)
}
