package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Empty(t, cfg.Capabilities.CatalogPath)
	assert.Equal(t, 500*time.Millisecond, cfg.Capabilities.WatchDebounce)

	assert.Equal(t, 4, cfg.Selector.MaxDenominator)
	assert.Equal(t, 64, cfg.Selector.MinScaledSize)
	assert.Equal(t, 256, cfg.Selector.CacheSize)

	assert.Equal(t, 5, cfg.Controller.SustainFrames)
	assert.InDelta(t, 0.2, cfg.Controller.HysteresisBand, 1e-9)
	assert.Equal(t, 40*time.Millisecond, cfg.Controller.FrameInterval)
	assert.InDelta(t, 0.25, cfg.Controller.PressureStep, 1e-9)
	assert.Equal(t, ByteSize(64*1024), cfg.Controller.MinBandwidth)
	assert.Equal(t, 2*time.Second, cfg.Controller.CloseTimeout)

	assert.Equal(t, 8, cfg.Telemetry.NetworkWindow)
	assert.Equal(t, 30, cfg.Telemetry.EncodeWindow)
}

func TestDefaults_IsValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
logging:
  level: debug
  format: text

server:
  port: 9999

capabilities:
  catalog_path: /etc/framecast/catalog.yaml
  watch: true

selector:
  max_denominator: 3

controller:
  sustain_frames: 8
  frame_interval: 16ms
  min_quality: 30
  min_bandwidth: 1MiB
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/etc/framecast/catalog.yaml", cfg.Capabilities.CatalogPath)
	assert.True(t, cfg.Capabilities.Watch)
	assert.Equal(t, 3, cfg.Selector.MaxDenominator)
	assert.Equal(t, 8, cfg.Controller.SustainFrames)
	assert.Equal(t, 16*time.Millisecond, cfg.Controller.FrameInterval)
	assert.Equal(t, 30, cfg.Controller.MinQuality)
	assert.Equal(t, ByteSize(1024*1024), cfg.Controller.MinBandwidth)

	// Untouched sections keep their defaults.
	assert.Equal(t, 64, cfg.Selector.MinScaledSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0o600))

	t.Setenv("FRAMECAST_SERVER_PORT", "9100")
	t.Setenv("FRAMECAST_CONTROLLER_SUSTAIN_FRAMES", "3")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Controller.SustainFrames)
}

func TestLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: loud\n"), 0o600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad_level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad_format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad_port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port_ignored_when_disabled", func(c *Config) { c.Server.Enabled = false; c.Server.Port = 0 }, ""},
		{"zero_denominator", func(c *Config) { c.Selector.MaxDenominator = 0 }, "selector.max_denominator"},
		{"negative_cache", func(c *Config) { c.Selector.CacheSize = -1 }, "selector.cache_size"},
		{"zero_sustain", func(c *Config) { c.Controller.SustainFrames = 0 }, "controller.sustain_frames"},
		{"band_too_wide", func(c *Config) { c.Controller.HysteresisBand = 1 }, "controller.hysteresis_band"},
		{"zero_frame_interval", func(c *Config) { c.Controller.FrameInterval = 0 }, "controller.frame_interval"},
		{"step_too_large", func(c *Config) { c.Controller.PressureStep = 1.5 }, "controller.pressure_step"},
		{"min_quality_range", func(c *Config) { c.Controller.MinQuality = 101 }, "controller.min_quality"},
		{"loss_range", func(c *Config) { c.Controller.LossThreshold = 2 }, "controller.loss_threshold"},
		{"cpu_range", func(c *Config) { c.Controller.CPUHighWatermark = 0 }, "controller.cpu_high_watermark"},
		{"network_window", func(c *Config) { c.Telemetry.NetworkWindow = 0 }, "telemetry.network_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	s := ServerConfig{Host: "localhost", Port: 8090}
	assert.Equal(t, "localhost:8090", s.Address())
}
