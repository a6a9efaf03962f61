// Package config provides configuration management for framecast using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8090
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultWatchDebounce     = 500 * time.Millisecond
	defaultMaxDenominator    = 4
	defaultMinScaledSize     = 64
	defaultSelectorCacheSize = 256
	defaultQueueSize         = 64
	defaultSustainFrames     = 5
	defaultHysteresisBand    = 0.2
	defaultFrameInterval     = 40 * time.Millisecond // 25 fps
	defaultPressureStep      = 0.25
	defaultReselectInterval  = 500 * time.Millisecond
	defaultCloseTimeout      = 2 * time.Second
	defaultLossThreshold     = 0.05
	defaultCPUHighWatermark  = 90.0
	defaultMinBandwidth      = 64 * 1024
	defaultCPUSampleInterval = 2 * time.Second
	defaultNetworkWindow     = 8
	defaultEncodeWindow      = 30
)

// Config holds all configuration for the application.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Server       ServerConfig       `mapstructure:"server"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Selector     SelectorConfig     `mapstructure:"selector"`
	Controller   ControllerConfig   `mapstructure:"controller"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ServerConfig holds the status API server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CapabilitiesConfig holds the capability catalog source.
type CapabilitiesConfig struct {
	// CatalogPath is a YAML catalog file. Empty uses the built-in catalog.
	CatalogPath   string        `mapstructure:"catalog_path"`
	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// SelectorConfig holds pipeline enumeration settings.
type SelectorConfig struct {
	MaxDenominator int `mapstructure:"max_denominator"`
	MinScaledSize  int `mapstructure:"min_scaled_size"`
	CacheSize      int `mapstructure:"cache_size"`
}

// ControllerConfig holds the per-window feedback loop settings.
type ControllerConfig struct {
	QueueSize      int           `mapstructure:"queue_size"`
	SustainFrames  int           `mapstructure:"sustain_frames"`
	HysteresisBand float64       `mapstructure:"hysteresis_band"`
	FrameInterval  time.Duration `mapstructure:"frame_interval"`
	PressureStep   float64       `mapstructure:"pressure_step"`

	MinQuality int `mapstructure:"min_quality"`
	MinSpeed   int `mapstructure:"min_speed"`

	ReselectInterval time.Duration `mapstructure:"reselect_interval"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`

	LossThreshold    float64 `mapstructure:"loss_threshold"`
	CPUHighWatermark float64 `mapstructure:"cpu_high_watermark"`

	// MinBandwidth floors the bandwidth estimate used for the byte budget.
	// Supports human-readable values like "64KiB" or raw byte counts.
	MinBandwidth ByteSize `mapstructure:"min_bandwidth"`
}

// TelemetryConfig holds telemetry sampling settings.
type TelemetryConfig struct {
	CPUSampleInterval time.Duration `mapstructure:"cpu_sample_interval"`
	NetworkWindow     int           `mapstructure:"network_window"`
	EncodeWindow      int           `mapstructure:"encode_window"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FRAMECAST_ and use underscores for nesting.
// Example: FRAMECAST_SERVER_PORT=8090.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/framecast")
		v.AddConfigPath("$HOME/.framecast")
	}

	v.SetEnvPrefix("FRAMECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes and validates the configuration held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("capabilities.catalog_path", "")
	v.SetDefault("capabilities.watch", false)
	v.SetDefault("capabilities.watch_debounce", defaultWatchDebounce)

	v.SetDefault("selector.max_denominator", defaultMaxDenominator)
	v.SetDefault("selector.min_scaled_size", defaultMinScaledSize)
	v.SetDefault("selector.cache_size", defaultSelectorCacheSize)

	v.SetDefault("controller.queue_size", defaultQueueSize)
	v.SetDefault("controller.sustain_frames", defaultSustainFrames)
	v.SetDefault("controller.hysteresis_band", defaultHysteresisBand)
	v.SetDefault("controller.frame_interval", defaultFrameInterval)
	v.SetDefault("controller.pressure_step", defaultPressureStep)
	v.SetDefault("controller.min_quality", 0)
	v.SetDefault("controller.min_speed", 0)
	v.SetDefault("controller.reselect_interval", defaultReselectInterval)
	v.SetDefault("controller.close_timeout", defaultCloseTimeout)
	v.SetDefault("controller.loss_threshold", defaultLossThreshold)
	v.SetDefault("controller.cpu_high_watermark", defaultCPUHighWatermark)
	v.SetDefault("controller.min_bandwidth", defaultMinBandwidth)

	v.SetDefault("telemetry.cpu_sample_interval", defaultCPUSampleInterval)
	v.SetDefault("telemetry.network_window", defaultNetworkWindow)
	v.SetDefault("telemetry.encode_window", defaultEncodeWindow)
}

// Defaults returns a validated configuration built only from defaults.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Unmarshal(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	const maxPort = 65535
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Selector.MaxDenominator < 1 {
		return fmt.Errorf("selector.max_denominator must be at least 1")
	}
	if c.Selector.MinScaledSize < 1 {
		return fmt.Errorf("selector.min_scaled_size must be at least 1")
	}
	if c.Selector.CacheSize < 0 {
		return fmt.Errorf("selector.cache_size must not be negative")
	}

	ctl := c.Controller
	if ctl.QueueSize < 1 {
		return fmt.Errorf("controller.queue_size must be at least 1")
	}
	if ctl.SustainFrames < 1 {
		return fmt.Errorf("controller.sustain_frames must be at least 1")
	}
	if ctl.HysteresisBand < 0 || ctl.HysteresisBand >= 1 {
		return fmt.Errorf("controller.hysteresis_band must be in [0,1)")
	}
	if ctl.FrameInterval <= 0 {
		return fmt.Errorf("controller.frame_interval must be positive")
	}
	if ctl.PressureStep <= 0 || ctl.PressureStep > 1 {
		return fmt.Errorf("controller.pressure_step must be in (0,1]")
	}
	if ctl.MinQuality < 0 || ctl.MinQuality > 100 {
		return fmt.Errorf("controller.min_quality must be between 0 and 100")
	}
	if ctl.MinSpeed < 0 || ctl.MinSpeed > 100 {
		return fmt.Errorf("controller.min_speed must be between 0 and 100")
	}
	if ctl.ReselectInterval < 0 {
		return fmt.Errorf("controller.reselect_interval must not be negative")
	}
	if ctl.CloseTimeout <= 0 {
		return fmt.Errorf("controller.close_timeout must be positive")
	}
	if ctl.LossThreshold < 0 || ctl.LossThreshold > 1 {
		return fmt.Errorf("controller.loss_threshold must be in [0,1]")
	}
	if ctl.CPUHighWatermark <= 0 || ctl.CPUHighWatermark > 100 {
		return fmt.Errorf("controller.cpu_high_watermark must be in (0,100]")
	}
	if ctl.MinBandwidth < 0 {
		return fmt.Errorf("controller.min_bandwidth must not be negative")
	}

	if c.Telemetry.NetworkWindow < 1 {
		return fmt.Errorf("telemetry.network_window must be at least 1")
	}
	if c.Telemetry.EncodeWindow < 1 {
		return fmt.Errorf("telemetry.encode_window must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
