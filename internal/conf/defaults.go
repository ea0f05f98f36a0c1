// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Capture defaults. The drift threshold is 50 device ticks of 100000 ns
// units, i.e. 5 ms.
const (
	DefaultSampleRate     = 48000
	DefaultChannels       = 2
	DefaultBitDepth       = 16
	DefaultPeriodFrames   = 960
	DefaultBufferPeriods  = 3
	DefaultDriftThreshold = 5 * time.Millisecond
	DefaultSlaveMode      = "skew"
	DefaultRole           = "console"
	DefaultMetricsListen  = "localhost:9190"
	DefaultMQTTTopic      = "audiosrc"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("capture.source", "malgo")
	viper.SetDefault("capture.device", "")
	viper.SetDefault("capture.role", DefaultRole)
	viper.SetDefault("capture.loopback", false)
	viper.SetDefault("capture.exclusive", false)
	viper.SetDefault("capture.low_latency", false)
	viper.SetDefault("capture.use_audioclient3", false)
	viper.SetDefault("capture.slave_mode", DefaultSlaveMode)
	viper.SetDefault("capture.drift_threshold", DefaultDriftThreshold)
	viper.SetDefault("capture.drift_threshold_ns", 0)
	viper.SetDefault("capture.pull_length", 0)
	viper.SetDefault("capture.sample_rate", DefaultSampleRate)
	viper.SetDefault("capture.channels", DefaultChannels)
	viper.SetDefault("capture.bit_depth", DefaultBitDepth)
	viper.SetDefault("capture.period_frames", DefaultPeriodFrames)
	viper.SetDefault("capture.buffer_frames", DefaultPeriodFrames*DefaultBufferPeriods)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.console.format", "text")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/audiosrc.log")
	viper.SetDefault("logging.file_output.max_size", 100)
	viper.SetDefault("logging.file_output.max_age", 30)
	viper.SetDefault("logging.file_output.max_rotated_files", 10)
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", DefaultMetricsListen)
	viper.SetDefault("telemetry.sentry_dsn", "")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", DefaultMQTTTopic)
	viper.SetDefault("mqtt.client_id", "audiosrc")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("output.path", "")
	viper.SetDefault("output.duration", time.Duration(0))
}
