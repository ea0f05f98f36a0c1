package audiocore

import (
	"fmt"

	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
)

// ComponentAudioCore is the component identifier for audiocore errors
const ComponentAudioCore = "audiocore"

// Sentinels for errors.Is matching. Errors returned by this package wrap one
// of these inside an EnhancedError carrying category and context.
var (
	// ErrConfiguration is returned for invalid formats, sizes and illegal state transitions
	ErrConfiguration = errors.NewStd("invalid capture configuration")

	// ErrDeviceOpen is returned when the capture device cannot be opened or started
	ErrDeviceOpen = errors.NewStd("capture device open failed")

	// ErrDeviceLost is reported when the device disappears mid-stream
	ErrDeviceLost = errors.NewStd("capture device lost")

	// ErrDriverBuffer is returned when the driver fails to hand out a capture buffer
	ErrDriverBuffer = errors.NewStd("driver capture buffer error")

	// ErrOverflowCapacityExceeded is returned when spilled frames do not fit the overflow buffer
	ErrOverflowCapacityExceeded = errors.NewStd("overflow buffer capacity exceeded")

	// ErrSequentialAccess is returned when a pull requests a non-sequential offset
	ErrSequentialAccess = errors.NewStd("sequential access violation")

	// ErrRingBufferError is returned when the ring buffer is in its error state
	ErrRingBufferError = errors.NewStd("ring buffer in error state")
)

// Burst status sentinels returned by CaptureSource.FetchBurst
var (
	// ErrBurstEmpty means the driver has no more frames queued
	ErrBurstEmpty = errors.NewStd("capture buffer empty")

	// ErrDeviceInvalidated means the driver reported the device as gone
	ErrDeviceInvalidated = errors.NewStd("capture device invalidated")
)

// GetLogger returns the audiocore package logger
func GetLogger() logger.Logger {
	return logger.Global().Module(ComponentAudioCore)
}

func newError(sentinel error, category errors.ErrorCategory, operation, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return errors.New(fmt.Errorf("%w: %s", sentinel, msg)).
		Component(ComponentAudioCore).
		Category(category).
		Context("operation", operation).
		Build()
}

func newConfigError(operation, format string, args ...any) error {
	return newError(ErrConfiguration, errors.CategoryValidation, operation, format, args...)
}

func wrapError(sentinel, cause error, category errors.ErrorCategory, operation string) error {
	return errors.New(fmt.Errorf("%w: %w", sentinel, cause)).
		Component(ComponentAudioCore).
		Category(category).
		Context("operation", operation).
		Build()
}
