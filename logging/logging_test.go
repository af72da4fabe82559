package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, Verbosity(0))
	assert.Equal(t, slog.LevelInfo, Verbosity(1))
	assert.Equal(t, slog.LevelDebug, Verbosity(2))
	assert.Equal(t, slog.LevelDebug, Verbosity(5))
}

func TestForRank(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, 1)

	ForRank(base, 1).Info("hidden")
	assert.Empty(t, buf.String())

	ForRank(base, 0).Info("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "rank=0")

	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
	assert.NotNil(t, OrDefault(nil))
}
