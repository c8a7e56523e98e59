package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/bucketbrigade/internal/config"
)

func TestForServiceWithoutInitReturnsNil(t *testing.T) {
	loggerMu.Lock()
	saved := structuredLogger
	structuredLogger = nil
	loggerMu.Unlock()
	defer func() {
		loggerMu.Lock()
		structuredLogger = saved
		loggerMu.Unlock()
	}()

	assert.Nil(t, ForService("encoder"))
}

func TestSetOutputWritesStructuredJSON(t *testing.T) {
	var structured, human bytes.Buffer
	require.NoError(t, SetOutput(&structured, &human))

	logger := ForService("encoder")
	require.NotNil(t, logger)
	logger.Info("chunk encoded", "samples", 2880)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(structured.Bytes(), &entry))
	assert.Equal(t, "encoder", entry["service"])
	assert.Equal(t, "chunk encoded", entry["msg"])
}

func TestNewFileLoggerCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "app.log")

	logger, closeFn, err := NewFileLogger(path, "singer", new(slog.LevelVar), config.Defaults().Log)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer func() { _ = closeFn() }()

	logger.Info("started")
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}
