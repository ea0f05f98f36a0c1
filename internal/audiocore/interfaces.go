package audiocore

import (
	"context"
	"time"
)

// BurstFlags are driver annotations on a captured burst
type BurstFlags uint8

const (
	// BurstSilent means the burst content is undefined and must be treated as silence
	BurstSilent BurstFlags = 1 << iota
	// BurstDiscontinuity means the driver dropped frames before this burst
	BurstDiscontinuity
)

// Has reports whether all bits in flag are set.
func (f BurstFlags) Has(flag BurstFlags) bool {
	return f&flag == flag
}

// Burst is one driver-owned block of captured frames. Data stays valid until
// Release is called.
type Burst struct {
	Data   []byte
	Frames int
	Flags  BurstFlags
}

// DeviceSelector picks the endpoint a source opens
type DeviceSelector struct {
	DeviceID        string // empty follows the default device
	Role            string // console, multimedia or communications
	Loopback        bool
	Exclusive       bool
	LowLatency      bool
	UseAudioClient3 bool
	Format          Format // requested format; zero fields take the device default
	PeriodFrames    int
	BufferFrames    int
}

// FollowsDefault reports whether the selector tracks the default device.
func (d DeviceSelector) FollowsDefault() bool {
	return d.DeviceID == ""
}

// DeviceInfo describes the endpoint a source actually opened
type DeviceInfo struct {
	ID           string
	Name         string
	PeriodFrames int // frames per driver period
	BufferFrames int // frames in the driver buffer
}

// CaptureSource is the driver contract the drain loop consumes. Ready is
// signalled whenever at least one burst may be queued.
type CaptureSource interface {
	Open(ctx context.Context, sel DeviceSelector) (Format, DeviceInfo, error)
	Start() error
	Stop() error
	Reset() error
	Ready() <-chan struct{}

	// FetchBurst returns the next queued burst, ErrBurstEmpty when drained,
	// or ErrDeviceInvalidated when the device disappeared.
	FetchBurst() (Burst, error)
	Release(frames int) error

	// Padding returns frames captured but not yet fetched.
	Padding() (int, error)
	Close() error
}

// DeviceWatcher notifies when the system default capture device changes.
type DeviceWatcher interface {
	Register(onChange func()) (unregister func())
}

// Clock is the pipeline reference clock. Both values are on the same
// monotonic timeline.
type Clock interface {
	Now() time.Duration
	BaseTime() time.Duration
}

// DeviceClock reads the capture device's own position counter.
type DeviceClock interface {
	// Position returns the device position in DeviceTick units.
	Position() (ticks uint64, err error)
}
