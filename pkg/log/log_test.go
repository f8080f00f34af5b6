package log_test

import (
	"log/slog"
	"testing"

	"github.com/gflze/gflbans/pkg/log"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, log.Debug, log.ParseLevel(" DEBUG "))
	require.Equal(t, log.Warn, log.ParseLevel("warn"))
	require.Equal(t, log.Info, log.ParseLevel("verbose"))
	require.Equal(t, slog.LevelError, log.ToSlogLevel(log.Error))
	require.Equal(t, slog.LevelInfo, log.ToSlogLevel(log.ParseLevel("")))
}
