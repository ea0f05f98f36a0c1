package audiocore

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiosrc/internal/logger"
)

// SlaveMode selects how buffer timestamps are reconciled with a reference
// clock that is not the capture device's own clock.
type SlaveMode int

const (
	// SlaveNone keeps sample-derived timestamps
	SlaveNone SlaveMode = iota
	// SlaveReTimestamp stamps buffers with the reference clock's running time
	SlaveReTimestamp
	// SlaveSkew jumps the read position when the ring falls a full ring behind
	SlaveSkew
	// SlaveResample is SlaveSkew plus drift-triggered resynchronisation
	SlaveResample
)

// ParseSlaveMode parses none, retimestamp, skew or resample.
func ParseSlaveMode(s string) (SlaveMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return SlaveNone, nil
	case "retimestamp", "re-timestamp":
		return SlaveReTimestamp, nil
	case "skew", "":
		return SlaveSkew, nil
	case "resample":
		return SlaveResample, nil
	default:
		return SlaveNone, newConfigError("parse_slave_mode", "unknown slave mode %q", s)
	}
}

func (m SlaveMode) String() string {
	switch m {
	case SlaveNone:
		return "none"
	case SlaveReTimestamp:
		return "retimestamp"
	case SlaveSkew:
		return "skew"
	case SlaveResample:
		return "resample"
	default:
		return "unknown"
	}
}

// resyncs reports whether the mode repositions the read cursor.
func (m SlaveMode) resyncs() bool {
	return m == SlaveSkew || m == SlaveResample
}

// ReconcileParams is the per-pull input to ClockSlaver.Reconcile
type ReconcileParams struct {
	Clock         Clock                             // nil disables synchronisation
	ClockAdjust   func(time.Duration) time.Duration // device clock offset, may be nil
	DeviceClocked bool                              // Clock is the capture device's own clock

	Ring   *RingBuffer
	Rate   int
	Sample uint64 // first sample of the pull
	Frames uint64 // frames in the pull

	Timestamp          time.Duration // sample-derived timestamp
	RingTimestamp      time.Duration
	RingTimestampValid bool
	FirstSample        bool
}

// ReconcileResult is the reconciled timestamp and the cursor for the next pull.
type ReconcileResult struct {
	Timestamp      time.Duration
	Next           uint64
	Resynced       bool
	DriftCorrected bool
	SegmentSkew    int64
}

// ClockSlaver keeps pulled buffers aligned with a reference clock. A single
// code path serves every mode; the mode only decides whether the resync
// check runs and whether drift is measured.
type ClockSlaver struct {
	mode      SlaveMode
	threshold time.Duration

	// consumer-only drift latch
	mu          sync.Mutex
	initialDiff time.Duration
	initialSet  bool

	timeshifted      atomic.Uint64
	driftCorrections atomic.Uint64

	log logger.Logger
}

// NewClockSlaver creates a slaver; a non-positive threshold selects DefaultDriftThreshold.
func NewClockSlaver(mode SlaveMode, threshold time.Duration) *ClockSlaver {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	return &ClockSlaver{
		mode:      mode,
		threshold: threshold,
		log:       GetLogger().Module("clock"),
	}
}

// Mode returns the configured slave mode.
func (c *ClockSlaver) Mode() SlaveMode { return c.mode }

// Threshold returns the drift threshold.
func (c *ClockSlaver) Threshold() time.Duration { return c.threshold }

// Timeshifted returns how many times the read position was resynchronised.
func (c *ClockSlaver) Timeshifted() uint64 { return c.timeshifted.Load() }

// DriftCorrections returns how many resyncs were forced by drift.
func (c *ClockSlaver) DriftCorrections() uint64 { return c.driftCorrections.Load() }

// ResetDrift forgets the latched initial timestamp difference.
func (c *ClockSlaver) ResetDrift() {
	c.mu.Lock()
	c.initialSet = false
	c.initialDiff = 0
	c.mu.Unlock()
}

// Reconcile computes the final timestamp for a pull and the sample the next
// pull should start from. In the resync modes it may advance the ring.
func (c *ClockSlaver) Reconcile(in *ReconcileParams) ReconcileResult {
	res := ReconcileResult{Timestamp: in.Timestamp, Next: in.Sample + in.Frames}

	if in.Clock == nil {
		return res
	}
	base := in.Clock.BaseTime()

	if in.RingTimestampValid || in.DeviceClocked {
		ts := in.Timestamp
		switch {
		case in.RingTimestampValid:
			ts = in.RingTimestamp
		case in.ClockAdjust != nil:
			ts = in.ClockAdjust(ts)
		}
		res.Timestamp = clampSub(ts, base)
		return res
	}

	switch c.mode {
	case SlaveNone:
		if in.ClockAdjust != nil {
			res.Timestamp = in.ClockAdjust(in.Timestamp)
		}
	case SlaveReTimestamp:
		latency := samplesToDuration(in.Frames, in.Rate)
		res.Timestamp = clampSub(clampSub(in.Clock.Now(), base), latency)
	case SlaveSkew, SlaveResample:
		c.resync(in, base, &res)
	}
	return res
}

func (c *ClockSlaver) resync(in *ReconcileParams, base time.Duration, res *ReconcileResult) {
	ring := in.Ring
	sps := ring.SamplesPerSegment()
	if sps == 0 {
		return
	}
	total := int64(ring.Spec().SegmentTotal)

	running := clampSub(in.Clock.Now(), base)
	runSegment := int64(durationToSamples(running, in.Rate) / sps)
	lastWritten := int64(ring.WriteSegments()) - 1
	readSegment := in.Sample / sps
	skew := runSegment - lastWritten
	res.SegmentSkew = skew

	drift := c.mode == SlaveResample && c.measureDrift(running, in)
	if drift {
		res.DriftCorrected = true
	}

	if skew < total && readSegment != 0 && !in.FirstSample && !drift {
		return
	}

	if skew > 0 {
		ring.Advance(uint64(skew))
	}
	// The new position is the next segment to be written, not the clock's
	// running segment, so with zero skew the reader lands one segment past it.
	newSample := ring.WriteSegments() * sps
	res.Timestamp = samplesToDuration(newSample, in.Rate)
	res.Next = newSample + in.Frames
	res.Resynced = true
	c.timeshifted.Add(1)

	c.log.Debug("timeshifted ring buffer",
		logger.Int64("segments", skew),
		logger.Uint64("next_sample", res.Next),
		logger.Duration("timestamp", res.Timestamp),
		logger.Bool("drift", drift))
}

// measureDrift latches the initial timestamp difference on the second pull
// and reports whether the current difference strays beyond the threshold.
func (c *ClockSlaver) measureDrift(running time.Duration, in *ReconcileParams) bool {
	diff := absDuration(running - in.Timestamp)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !in.FirstSample && !c.initialSet {
		c.initialDiff = diff
		c.initialSet = true
	}

	var drift time.Duration
	if diff > 0 && c.initialSet {
		drift = absDuration(c.initialDiff - diff)
	}
	if drift <= c.threshold {
		return false
	}

	c.initialSet = false
	c.initialDiff = 0
	c.driftCorrections.Add(1)
	c.log.Debug("clock drift exceeded threshold",
		logger.Duration("drift", drift),
		logger.Duration("threshold", c.threshold))
	return true
}

func clampSub(a, b time.Duration) time.Duration {
	if a <= b {
		return 0
	}
	return a - b
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
