package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestSetupWritesJSONFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "node.log")
	logger, closer, err := Setup(Options{Service: "tolsettle-node", Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info("block committed", "height", 7)
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	require.Equal(t, "block committed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "tolsettle-node", line["service"])
	require.Equal(t, float64(7), line["height"])
}
