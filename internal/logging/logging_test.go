package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxiofs/storehub/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"INFO":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"verbose": logrus.InfoLevel,
		"":        logrus.InfoLevel,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "level %q", input)
	}
}

func TestSetup_Stderr(t *testing.T) {
	logger := logrus.New()
	closer := Setup(logger, "debug", config.LogConfig{})
	require.NotNil(t, closer)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "storehub.log")
	logger := logrus.New()
	closer := Setup(logger, "info", config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})

	logger.WithField("provider_id", "local").Info("written to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "written to file", entry["msg"])
	assert.Equal(t, "local", entry["provider_id"])
	assert.Equal(t, "info", entry["level"])
}
