package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeTemp(t, `
capture:
  port: 6000
queue:
  capacity: 1000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Capture.Port)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	// untouched fields keep their defaults
	assert.Equal(t, 5, cfg.Consumer.Breaker.Threshold)
	assert.Equal(t, 64, cfg.Protocol.MaxDecompressionRatio)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTemp(t, `
capture:
  bogusField: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.Capture.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSmallSnapLen(t *testing.T) {
	cfg := Default()
	cfg.Capture.SnapLen = 100
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroBatchSize(t *testing.T) {
	cfg := Default()
	cfg.Consumer.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
