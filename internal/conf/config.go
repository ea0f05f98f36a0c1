// config.go: This file contains the configuration for the audiosrc capture service. It defines the settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// CaptureSettings describes which device to open and how the capture
// session reconciles its clock with the pipeline clock.
type CaptureSettings struct {
	Source          string        `yaml:"source" mapstructure:"source"`                     // "malgo" or "synthetic"
	Device          string        `yaml:"device" mapstructure:"device"`                     // device id or name, empty follows the default device
	Role            string        `yaml:"role" mapstructure:"role"`                         // console, multimedia or communications
	Loopback        bool          `yaml:"loopback" mapstructure:"loopback"`                 // capture what the render endpoint plays
	Exclusive       bool          `yaml:"exclusive" mapstructure:"exclusive"`               // request exclusive hardware access
	LowLatency      bool          `yaml:"low_latency" mapstructure:"low_latency"`           // prefer the smallest device period
	UseAudioClient3 bool          `yaml:"use_audioclient3" mapstructure:"use_audioclient3"` // shared-mode low latency engine periods
	SlaveMode       string        `yaml:"slave_mode" mapstructure:"slave_mode"`             // none, retimestamp, skew or resample
	DriftThreshold  time.Duration `yaml:"drift_threshold" mapstructure:"drift_threshold"`   // resample drift tolerance
	PullLength      int           `yaml:"pull_length" mapstructure:"pull_length"`           // bytes per pull, 0 = one segment
	SampleRate      int           `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels        int           `yaml:"channels" mapstructure:"channels"`
	BitDepth        int           `yaml:"bit_depth" mapstructure:"bit_depth"`
	PeriodFrames    int           `yaml:"period_frames" mapstructure:"period_frames"` // frames per ring segment
	BufferFrames    int           `yaml:"buffer_frames" mapstructure:"buffer_frames"` // device buffer size in frames

	// DriftThresholdNS is the integer nanosecond form accepted from the
	// environment. It overrides DriftThreshold when positive.
	DriftThresholdNS int64 `yaml:"-" mapstructure:"drift_threshold_ns"`
}

// TelemetrySettings controls the Prometheus endpoint and Sentry error reporting.
type TelemetrySettings struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`       // serve /metrics
	Listen    string `yaml:"listen" mapstructure:"listen"`         // address for the metrics endpoint
	SentryDSN string `yaml:"sentry_dsn" mapstructure:"sentry_dsn"` // empty disables error reporting
}

// MQTTSettings contains settings for publishing session events.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`
}

// OutputSettings describes where pulled buffers go.
type OutputSettings struct {
	Path     string        `yaml:"path" mapstructure:"path"`         // WAV file, empty discards audio
	Duration time.Duration `yaml:"duration" mapstructure:"duration"` // stop after this long, 0 runs until interrupted
}

// Settings contains all configuration options for audiosrc.
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Capture   CaptureSettings      `yaml:"capture" mapstructure:"capture"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	MQTT      MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Output    OutputSettings       `yaml:"output" mapstructure:"output"`
}

// EffectiveDriftThreshold returns the drift threshold after applying the
// nanosecond override.
func (c *CaptureSettings) EffectiveDriftThreshold() time.Duration {
	if c.DriftThresholdNS > 0 {
		return time.Duration(c.DriftThresholdNS)
	}
	return c.DriftThreshold
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// GetLogger returns the config package logger scoped to the config module.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

// Load reads the configuration file and environment variables into the settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
// A missing config file is not an error; defaults and environment apply.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("Ignoring invalid environment configuration", logger.Error(err))
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("No config file found, using defaults",
				logger.Any("paths", configPaths))
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Info("Loaded configuration", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// WriteDefaultConfig writes the embedded default config.yaml to path.
// Existing files are left untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Context("operation", "write_default_config").
			Build()
	}

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
