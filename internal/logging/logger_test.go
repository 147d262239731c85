package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNewProductionLoggerLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zap.InfoLevel))
	require.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}
