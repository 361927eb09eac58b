package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"":        zapcore.InfoLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Format: "xml"}.Validate())
	assert.Error(t, Config{Output: "syslog"}.Validate())
	assert.Error(t, Config{Output: "file"}.Validate())
	assert.NoError(t, Config{Output: "both", FilePath: "run.log"}.Validate())
}

func TestJSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := New(Config{Level: "warn", Format: "json", Writer: &buf})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("threshold crossed", zap.String("metric", "http_req_failed"))
	closeFn()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "threshold crossed", entry["msg"])
	assert.Equal(t, "http_req_failed", entry["metric"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	log, closeFn, err := New(Config{Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)

	log.Info("run complete", zap.Int64("iterations", 42))
	closeFn()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "run complete")
	assert.Contains(t, string(content), "iterations")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, _, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}
