package observability

import "github.com/tphakala/audiosrc/internal/logger"

// GetLogger returns the telemetry logger. It is resolved per call so the
// configured global logger is used once main has installed it.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
