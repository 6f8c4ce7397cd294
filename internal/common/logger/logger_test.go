package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpumpkin/pumpkin/internal/common/config"
)

func TestNewLogger_ConsoleOnly(t *testing.T) {
	log, err := NewLogger(config.LogConfig{
		Level: config.LogLevelInfo,
		Console: config.ConsoleLogConfig{
			Enabled: true,
			Format:  config.LogFormatText,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Info("console logger works")
}

func TestNewLogger_FileRequiresPath(t *testing.T) {
	_, err := NewLogger(config.LogConfig{
		Level: config.LogLevelInfo,
		File: config.FileLogConfig{
			Enabled: true,
			Format:  config.LogFormatJSON,
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file.path")
}

func TestNewLogger_NoOutputs(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: config.LogLevelInfo})
	require.Error(t, err)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pumpkin.log")
	log, err := NewLogger(config.LogConfig{
		Level: config.LogLevelDebug,
		File: config.FileLogConfig{
			Enabled: true,
			Format:  config.LogFormatJSON,
			Path:    path,
			Rotation: config.RotationConfig{
				MaxSize: 1,
			},
		},
	})
	require.NoError(t, err)
	log.Info("file logger works")
	require.NoError(t, log.Sync())

	assert.FileExists(t, path)
}

func TestNewDefaultLogger(t *testing.T) {
	log, err := NewDefaultLogger()
	require.NoError(t, err)
	require.NotNil(t, log)
}
