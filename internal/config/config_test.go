package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Defaults().Validate())
}

func TestValidateRejectsBadOpusFrame(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	cfg.OpusFrameMS = 17
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedBatchBounds(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	cfg.InitialMsPerBatch = 1000
	cfg.MaxMsPerBatch = 900
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Defaults().SamplingRate, cfg.SamplingRate)
}
