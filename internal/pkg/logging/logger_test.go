package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "broker.log")
	logger, err := NewLogger(Options{Service: "otpbroker", Env: "test", Level: "debug", File: path})
	require.NoError(t, err)

	logger.Info("hello_file")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello_file"`)
	assert.Contains(t, string(data), `"service":"otpbroker"`)
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(Options{Service: "otpbroker", Level: "chatty"})
	assert.Error(t, err)
}
