package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevelFlag(t *testing.T) {
	t.Run("should accept known levels in any case", func(t *testing.T) {
		var f logLevelFlag
		assert.NoError(t, f.Set("debug"))
		assert.Equal(t, slog.LevelDebug, f.value)
		assert.Equal(t, "DEBUG", f.String())
	})
	t.Run("should accept upper case", func(t *testing.T) {
		var f logLevelFlag
		assert.NoError(t, f.Set("WARN"))
		assert.Equal(t, slog.LevelWarn, f.value)
	})
	t.Run("should reject unknown level", func(t *testing.T) {
		var f logLevelFlag
		assert.Error(t, f.Set("verbose"))
		assert.Equal(t, slog.LevelInfo, f.value)
	})
}
