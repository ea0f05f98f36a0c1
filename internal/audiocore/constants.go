package audiocore

import (
	"math"
	"time"
)

// Ring and overflow sizing
const (
	// MinSegments is the smallest usable segment count before the extra
	// guard segment is added.
	MinSegments = 2

	// OverflowSegments is the overflow buffer capacity in segments.
	OverflowSegments = 4

	// DefaultBufferPeriods is the device buffer length in periods when the
	// configuration leaves it unset.
	DefaultBufferPeriods = 3
)

// Clock constants
const (
	// DeviceTick is the resolution of device clock positions.
	DeviceTick = 100 * time.Nanosecond

	// DeviceTicksPerSecond is the device clock frequency.
	DeviceTicksPerSecond = uint64(time.Second / DeviceTick)

	// DefaultDriftThreshold is the resample drift tolerance (5_000_000 ns).
	DefaultDriftThreshold = 50 * 100000 * time.Nanosecond
)

// NoSample marks a cursor that has not produced a buffer yet.
const NoSample uint64 = math.MaxUint64

// State is the lifecycle state of a capture session
type State int32

const (
	// StateIdle is a session that has not been prepared or was unprepared
	StateIdle State = iota

	// StatePrepared has an open device and allocated buffers
	StatePrepared

	// StateRunning has a live pump goroutine
	StateRunning

	// StateStopped has a halted pump; it can be unprepared
	StateStopped
)

// String returns the string representation of the session state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ReadStatus tells the pump how a drain read was satisfied
type ReadStatus int

const (
	// ReadComplete filled the request with captured frames
	ReadComplete ReadStatus = iota

	// ReadFlushed was interrupted by Stop or Reset; the remainder is silence
	ReadFlushed

	// ReadBestEffort hit device loss; the remainder is silence
	ReadBestEffort
)

func (s ReadStatus) String() string {
	switch s {
	case ReadComplete:
		return "complete"
	case ReadFlushed:
		return "flushed"
	case ReadBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}
