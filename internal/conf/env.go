package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every bound environment variable.
const envPrefix = "AUDIOSRC_"

// envBinding maps a config key to an environment variable with optional validation.
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings returns the environment variables honoured by Load.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"capture.source", envPrefix + "SOURCE", validateEnvOneOf(validSources)},
		{"capture.device", envPrefix + "DEVICE", nil},
		{"capture.role", envPrefix + "ROLE", validateEnvOneOf(validRoles)},
		{"capture.loopback", envPrefix + "LOOPBACK", validateEnvBool},
		{"capture.exclusive", envPrefix + "EXCLUSIVE", validateEnvBool},
		{"capture.low_latency", envPrefix + "LOW_LATENCY", validateEnvBool},
		{"capture.use_audioclient3", envPrefix + "USE_AUDIOCLIENT3", validateEnvBool},
		{"capture.slave_mode", envPrefix + "SLAVE_MODE", validateEnvOneOf(validSlaveModes)},
		{"capture.drift_threshold", envPrefix + "DRIFT_THRESHOLD", validateEnvDuration},
		{"capture.drift_threshold_ns", envPrefix + "DRIFT_THRESHOLD_NS", validateEnvPositiveInt},
		{"capture.pull_length", envPrefix + "PULL_LENGTH", validateEnvNonNegativeInt},
		{"capture.sample_rate", envPrefix + "SAMPLE_RATE", validateEnvPositiveInt},

		{"telemetry.enabled", envPrefix + "TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", envPrefix + "TELEMETRY_LISTEN", nil},
		{"telemetry.sentry_dsn", envPrefix + "SENTRY_DSN", nil},

		{"mqtt.enabled", envPrefix + "MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", envPrefix + "MQTT_BROKER", nil},
		{"mqtt.username", envPrefix + "MQTT_USERNAME", nil},
		{"mqtt.password", envPrefix + "MQTT_PASSWORD", nil},

		{"logging.default_level", envPrefix + "LOG_LEVEL", validateEnvOneOf(validLogLevels)},
	}
}

// bindEnvVars sets up environment variable bindings with validation.
// Invalid values are still bound; ValidateSettings rejects them later.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 5ms")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvOneOf(allowed []string) func(string) error {
	return func(value string) error {
		if !contains(allowed, strings.ToLower(value)) {
			return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
		}
		return nil
	}
}
