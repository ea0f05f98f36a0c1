// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

var (
	validSources    = []string{"malgo", "synthetic"}
	validRoles      = []string{"console", "multimedia", "communications"}
	validSlaveModes = []string{"none", "retimestamp", "skew", "resample"}
	validLogLevels  = []string{"trace", "debug", "info", "warn", "error"}
	validBitDepths  = []int{16, 24, 32}
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateCaptureSettings(&settings.Capture)...)
	ve.Errors = append(ve.Errors, validateTelemetrySettings(&settings.Telemetry)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)

	if lvl := settings.Logging.DefaultLevel; lvl != "" && !contains(validLogLevels, lvl) {
		ve.Errors = append(ve.Errors, fmt.Sprintf("logging.default_level %q is not one of %s", lvl, strings.Join(validLogLevels, ", ")))
	}

	if settings.Output.Duration < 0 {
		ve.Errors = append(ve.Errors, "output.duration must not be negative")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateCaptureSettings normalizes enum fields to lower case and reports
// every problem it finds rather than stopping at the first.
func validateCaptureSettings(c *CaptureSettings) []string {
	var errs []string

	c.Source = strings.ToLower(c.Source)
	c.Role = strings.ToLower(c.Role)
	c.SlaveMode = strings.ToLower(c.SlaveMode)

	if !contains(validSources, c.Source) {
		errs = append(errs, fmt.Sprintf("capture.source %q is not one of %s", c.Source, strings.Join(validSources, ", ")))
	}
	if !contains(validRoles, c.Role) {
		errs = append(errs, fmt.Sprintf("capture.role %q is not one of %s", c.Role, strings.Join(validRoles, ", ")))
	}
	if !contains(validSlaveModes, c.SlaveMode) {
		errs = append(errs, fmt.Sprintf("capture.slave_mode %q is not one of %s", c.SlaveMode, strings.Join(validSlaveModes, ", ")))
	}
	if c.EffectiveDriftThreshold() <= 0 {
		errs = append(errs, "capture.drift_threshold must be positive")
	}
	if c.SampleRate <= 0 {
		errs = append(errs, "capture.sample_rate must be positive")
	}
	if c.Channels <= 0 {
		errs = append(errs, "capture.channels must be positive")
	}
	if !slices.Contains(validBitDepths, c.BitDepth) {
		errs = append(errs, fmt.Sprintf("capture.bit_depth %d is not supported", c.BitDepth))
	}
	if c.PeriodFrames <= 0 {
		errs = append(errs, "capture.period_frames must be positive")
	}
	if c.BufferFrames < c.PeriodFrames {
		errs = append(errs, "capture.buffer_frames must hold at least one period")
	}
	if c.PullLength < 0 {
		errs = append(errs, "capture.pull_length must not be negative")
	}
	if c.Exclusive && c.Loopback {
		errs = append(errs, "capture.loopback cannot be combined with exclusive mode")
	}

	return errs
}

func validateTelemetrySettings(t *TelemetrySettings) []string {
	if !t.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(t.Listen); err != nil {
		return []string{fmt.Sprintf("telemetry.listen %q is not host:port: %v", t.Listen, err)}
	}
	return nil
}

func validateMQTTSettings(m *MQTTSettings) []string {
	if !m.Enabled {
		return nil
	}

	var errs []string
	u, err := url.Parse(m.Broker)
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("mqtt.broker is not a URL: %v", err))
	case u.Scheme == "" || u.Host == "":
		errs = append(errs, fmt.Sprintf("mqtt.broker %q must include scheme and host", m.Broker))
	}
	if strings.TrimSpace(m.Topic) == "" {
		errs = append(errs, "mqtt.topic must not be empty")
	}
	return errs
}

func contains(values []string, v string) bool {
	return slices.Contains(values, v)
}
