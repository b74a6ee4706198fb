package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertStringToLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"TRACE", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := convertStringToLogLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestInitLoggerWriter_UnknownLevelWarns(t *testing.T) {
	var buf bytes.Buffer
	defer slog.SetDefault(slog.Default())

	InitLoggerWriter(&buf, "VERBOSE")
	slog.Debug("no debería aparecer")

	assert.Contains(t, buf.String(), "No existe VERBOSE")
	assert.NotContains(t, buf.String(), "no debería aparecer")
}

func TestInitLogger_WritesFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	path := filepath.Join(t.TempDir(), "logs", "kernel.log")

	logFile := InitLogger(path, "INFO")
	slog.Info("## (00001000) Se crea el env")
	require.NoError(t, logFile.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Se crea el env")
}
