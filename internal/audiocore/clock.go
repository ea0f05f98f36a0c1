package audiocore

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

// RunningClock is a Clock whose running-time origin is set when capture starts.
type RunningClock interface {
	Clock
	SetBaseTime(base time.Duration)
}

// SystemClock is a monotonic reference clock whose epoch is its construction
// time. BaseTime is the running-time origin set when the pipeline starts.
type SystemClock struct {
	epoch time.Time
	base  atomic.Int64
}

// NewSystemClock returns a clock reading zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// Now returns the time elapsed since the clock was created.
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// BaseTime returns the running-time origin.
func (c *SystemClock) BaseTime() time.Duration {
	return time.Duration(c.base.Load())
}

// SetBaseTime sets the running-time origin.
func (c *SystemClock) SetBaseTime(base time.Duration) {
	c.base.Store(int64(base))
}

// ManualClock is a Clock driven explicitly, for tests and offline replays.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Duration
	base time.Duration
}

// NewManualClock returns a clock reading now with the given base time.
func NewManualClock(now, base time.Duration) *ManualClock {
	return &ManualClock{now: now, base: base}
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) BaseTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// Set moves the clock to now.
func (c *ManualClock) Set(now time.Duration) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// SetBaseTime sets the running-time origin.
func (c *ManualClock) SetBaseTime(base time.Duration) {
	c.mu.Lock()
	c.base = base
	c.mu.Unlock()
}

// AudioClock exposes a DeviceClock as a reference Clock. When the device
// position restarts, Rebase keeps the timeline continuous by folding the
// last reading into an offset that Adjust also applies to sample-derived
// timestamps.
type AudioClock struct {
	dev    DeviceClock
	base   atomic.Int64
	offset atomic.Int64
	last   atomic.Int64
}

// NewAudioClock wraps a device position counter.
func NewAudioClock(dev DeviceClock) *AudioClock {
	return &AudioClock{dev: dev}
}

// Now returns the device position converted to time plus the current offset.
// A failed position read repeats the last good value.
func (c *AudioClock) Now() time.Duration {
	ticks, err := c.dev.Position()
	if err != nil {
		return time.Duration(c.last.Load())
	}
	now := time.Duration(c.offset.Load()) + ticksToDuration(ticks)
	c.last.Store(int64(now))
	return now
}

func (c *AudioClock) BaseTime() time.Duration {
	return time.Duration(c.base.Load())
}

// SetBaseTime sets the running-time origin.
func (c *AudioClock) SetBaseTime(base time.Duration) {
	c.base.Store(int64(base))
}

// Adjust maps a device-relative timestamp onto the clock timeline.
func (c *AudioClock) Adjust(ts time.Duration) time.Duration {
	return ts + time.Duration(c.offset.Load())
}

// Rebase makes the next reading continue from the last one after the device
// position counter restarted from zero.
func (c *AudioClock) Rebase() {
	c.offset.Store(c.last.Load())
}

func ticksToDuration(ticks uint64) time.Duration {
	return time.Duration(scaleUint64(ticks, uint64(time.Second), DeviceTicksPerSecond))
}

// scaleUint64 returns v*num/den using a 128-bit intermediate. Results that
// do not fit in 64 bits saturate.
func scaleUint64(v, num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

// samplesToDuration converts a sample position to stream time.
func samplesToDuration(samples uint64, rate int) time.Duration {
	return time.Duration(scaleUint64(samples, uint64(time.Second), uint64(rate)))
}

// durationToSamples converts stream time to a sample position, rounding down.
func durationToSamples(d time.Duration, rate int) uint64 {
	if d <= 0 {
		return 0
	}
	return scaleUint64(uint64(d), uint64(rate), uint64(time.Second))
}
