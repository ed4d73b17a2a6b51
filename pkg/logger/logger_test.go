package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestInit(t *testing.T) {
	require.NoError(t, Init("warn", "production"))
	assert.False(t, Named("test").Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Named("test").Core().Enabled(zapcore.ErrorLevel))

	require.NoError(t, Init("debug", "development"))
	assert.True(t, Named("test").Core().Enabled(zapcore.DebugLevel))
	Info("logger initialized", "level", "debug")
}
