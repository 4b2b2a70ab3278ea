package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, atom, err := New("warn", "json")
	require.NoError(t, err)
	require.NotNil(t, log)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, SetLevel(atom, "debug"))
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, SetLevel(atom, "verbose"))
	assert.Equal(t, zapcore.DebugLevel, atom.Level())
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, atom, err := New("chatty", "console")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, zapcore.InfoLevel, atom.Level())
}

func TestNew_BadEncoding(t *testing.T) {
	_, _, err := New("info", "xml")
	assert.Error(t, err)
}
