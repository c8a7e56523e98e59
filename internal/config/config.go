// Package config loads and validates runtime configuration for the
// streaming core, following the layering the teacher repo uses for its
// settings: a typed struct populated by viper from a YAML file plus
// environment overrides, with documented defaults (see spec.md §6.6).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LogRotation selects the rotation policy for the file logger.
type LogRotation string

const (
	RotationDaily  LogRotation = "daily"
	RotationWeekly LogRotation = "weekly"
	RotationSize   LogRotation = "size"
)

// LogConfig controls the rotating file logger.
type LogConfig struct {
	Rotation LogRotation `mapstructure:"rotation"`
	MaxSize  int64       `mapstructure:"max_size_bytes"`
	Path     string      `mapstructure:"path"`
}

// Settings holds every tunable named by spec.md §6.6 plus transport/log wiring.
type Settings struct {
	// SamplingRate is the browser/OS-native microphone sample rate in Hz.
	SamplingRate int `mapstructure:"sampling_rate"`

	// CodecRate is the canonical wire sample rate (48 kHz per spec.md §6.6).
	CodecRate int `mapstructure:"codec_rate"`

	// OpusFrameMS is the Opus frame duration in milliseconds.
	OpusFrameMS int `mapstructure:"opus_frame_ms"`

	// InitialMsPerBatch / MaxMsPerBatch bound the singer client's mic batch size.
	InitialMsPerBatch int `mapstructure:"initial_ms_per_batch"`
	MaxMsPerBatch     int `mapstructure:"max_ms_per_batch"`

	// WorkletFrameSamples is the fixed size of frames the audio worklet delivers.
	WorkletFrameSamples int `mapstructure:"worklet_frame_samples"`

	// DriftThresholdSamples bounds the encoder's non-fatal drift warning.
	DriftThresholdSamples int64 `mapstructure:"drift_threshold_samples"`

	// DecodeLengthToleranceSamples bounds the decoder's sanity check.
	DecodeLengthToleranceSamples int64 `mapstructure:"decode_length_tolerance_samples"`

	// CalibrationSampleMinimum is the minimum latency-estimate count before completion.
	CalibrationSampleMinimum int `mapstructure:"calibration_sample_minimum"`

	// CalibrationSuccessWindowMS is the p75-p25 threshold for calibration success.
	CalibrationSuccessWindowMS float64 `mapstructure:"calibration_success_window_ms"`

	// OpusAddedLatencyMS / ResamplerAddedLatencyMS feed encoding_latency_ms reporting.
	OpusAddedLatencyMS      float64 `mapstructure:"opus_added_latency_ms"`
	ResamplerAddedLatencyMS float64 `mapstructure:"resampler_added_latency_ms"`

	// ServerURL is the websocket endpoint for the server transport.
	ServerURL string `mapstructure:"server_url"`

	// RPCTimeout is how long the session epoch keeps an in-flight request
	// token before forgetting it (see session.NewEpoch). No codec RPC is
	// bounded, cancelled or retried by it.
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`

	Log LogConfig `mapstructure:"log"`
}

// Defaults returns the bit-exact constants from spec.md §6.6.
func Defaults() Settings {
	return Settings{
		SamplingRate:                 48000,
		CodecRate:                    48000,
		OpusFrameMS:                  60,
		InitialMsPerBatch:            600,
		MaxMsPerBatch:                900,
		WorkletFrameSamples:          128,
		DriftThresholdSamples:        5,
		DecodeLengthToleranceSamples: 5,
		CalibrationSampleMinimum:     7,
		CalibrationSuccessWindowMS:   2,
		OpusAddedLatencyMS:           6.5,
		ResamplerAddedLatencyMS:      1.8,
		ServerURL:                    "ws://localhost:8080/bucket",
		RPCTimeout:                   5 * time.Second,
		Log: LogConfig{
			Rotation: RotationSize,
			MaxSize:  100 * 1024 * 1024,
			Path:     "logs/bucketbrigade.log",
		},
	}
}

// Load reads configuration from path (YAML), overlays environment
// variables prefixed BUCKETBRIGADE_, and falls back to Defaults for
// anything unset.
func Load(path string) (Settings, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("bucketbrigade")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the invariants the rest of the core assumes hold.
func (c Settings) Validate() error {
	if c.SamplingRate <= 0 {
		return fmt.Errorf("sampling_rate must be positive, got %d", c.SamplingRate)
	}
	if c.CodecRate <= 0 || c.CodecRate > 48000 {
		return fmt.Errorf("codec_rate must be in (0, 48000], got %d", c.CodecRate)
	}
	switch c.OpusFrameMS {
	case 2, 5, 10, 20, 40, 60:
	default:
		return fmt.Errorf("opus_frame_ms must be one of 2.5,5,10,20,40,60, got %d", c.OpusFrameMS)
	}
	if c.InitialMsPerBatch <= 0 || c.InitialMsPerBatch > c.MaxMsPerBatch {
		return fmt.Errorf("initial_ms_per_batch (%d) must be positive and <= max_ms_per_batch (%d)",
			c.InitialMsPerBatch, c.MaxMsPerBatch)
	}
	if c.WorkletFrameSamples <= 0 {
		return fmt.Errorf("worklet_frame_samples must be positive, got %d", c.WorkletFrameSamples)
	}
	return nil
}
