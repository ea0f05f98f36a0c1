package audiocore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 48000

func ringWithSegments(t *testing.T, written int) *RingBuffer {
	t.Helper()
	r := newTestRing(t, testSegFrames, 4)
	r.Advance(uint64(written))
	return r
}

func params(clock Clock, ring *RingBuffer, sample uint64, first bool) *ReconcileParams {
	return &ReconcileParams{
		Clock:       clock,
		Ring:        ring,
		Rate:        testRate,
		Sample:      sample,
		Frames:      testSegFrames,
		Timestamp:   samplesToDuration(sample, testRate),
		FirstSample: first,
	}
}

func TestParseSlaveMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SlaveMode
		wantErr bool
	}{
		{"none", SlaveNone, false},
		{"retimestamp", SlaveReTimestamp, false},
		{"Re-Timestamp", SlaveReTimestamp, false},
		{"skew", SlaveSkew, false},
		{"", SlaveSkew, false},
		{" resample ", SlaveResample, false},
		{"drift", SlaveNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSlaveMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			roundTrip, err := ParseSlaveMode(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, roundTrip)
		})
	}
}

func TestClockSlaverResyncIsIdempotent(t *testing.T) {
	for _, mode := range []SlaveMode{SlaveSkew, SlaveResample} {
		t.Run(mode.String(), func(t *testing.T) {
			ring := ringWithSegments(t, 10)
			clock := NewManualClock(12*20*time.Millisecond+5*time.Millisecond, 0)
			s := NewClockSlaver(mode, DefaultDriftThreshold)

			res := s.Reconcile(params(clock, ring, 10*testSegFrames, true))
			require.True(t, res.Resynced)
			assert.Equal(t, uint64(13), ring.WriteSegments())
			assert.Equal(t, 260*time.Millisecond, res.Timestamp)
			assert.Equal(t, uint64(14*testSegFrames), res.Next)

			res = s.Reconcile(params(clock, ring, res.Next, false))
			assert.False(t, res.Resynced)
			assert.Equal(t, uint64(13), ring.WriteSegments())
			assert.Equal(t, uint64(1), s.Timeshifted())
			assert.Zero(t, s.DriftCorrections())
		})
	}
}

func TestClockSlaverResyncTriggers(t *testing.T) {
	tests := []struct {
		name        string
		written     int
		now         time.Duration
		sample      uint64
		first       bool
		wantResync  bool
		wantWritten uint64
	}{
		{"reader a full ring behind the clock", 10, 20 * 20 * time.Millisecond, 9 * testSegFrames, false, true, 21},
		{"cold start at segment zero", 10, 10 * 20 * time.Millisecond, 0, false, true, 11},
		{"clock behind the writer does not rewind", 10, 2 * 20 * time.Millisecond, 5 * testSegFrames, true, true, 10},
		{"zero skew lands on the next segment to be written", 10, 9 * 20 * time.Millisecond, 5 * testSegFrames, true, true, 10},
		{"in sync", 10, 10 * 20 * time.Millisecond, 9 * testSegFrames, false, false, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring := ringWithSegments(t, tt.written)
			s := NewClockSlaver(SlaveSkew, 0)

			res := s.Reconcile(params(NewManualClock(tt.now, 0), ring, tt.sample, tt.first))
			assert.Equal(t, tt.wantResync, res.Resynced)
			assert.Equal(t, tt.wantWritten, ring.WriteSegments())
			if tt.wantResync {
				assert.Equal(t, tt.wantWritten*testSegFrames+testSegFrames, res.Next)
				assert.Equal(t, samplesToDuration(tt.wantWritten*testSegFrames, testRate), res.Timestamp)
			} else {
				assert.Equal(t, tt.sample+testSegFrames, res.Next)
			}
		})
	}
}

func TestClockSlaverDriftThreshold(t *testing.T) {
	tests := []struct {
		name      string
		secondNow time.Duration
		wantFire  bool
	}{
		{"drift 5.5ms above 5ms threshold", 226500 * time.Microsecond, true},
		{"drift 4.5ms within threshold", 225500 * time.Microsecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring := ringWithSegments(t, 10)
			clock := NewManualClock(201*time.Millisecond, 0)
			s := NewClockSlaver(SlaveResample, 5*time.Millisecond)

			// second sample of the session latches a 1ms timestamp difference
			res := s.Reconcile(params(clock, ring, 10*testSegFrames, false))
			require.False(t, res.Resynced)

			clock.Set(tt.secondNow)
			res = s.Reconcile(params(clock, ring, 11*testSegFrames, false))
			assert.Equal(t, tt.wantFire, res.DriftCorrected)
			assert.Equal(t, tt.wantFire, res.Resynced)

			if tt.wantFire {
				assert.Equal(t, uint64(1), s.DriftCorrections())
				assert.Equal(t, uint64(1), s.Timeshifted())
				assert.Equal(t, uint64(12), ring.WriteSegments())
			} else {
				assert.Zero(t, s.DriftCorrections())
				assert.Zero(t, s.Timeshifted())
			}
		})
	}
}

func TestClockSlaverRelatchesAfterCorrection(t *testing.T) {
	ring := ringWithSegments(t, 10)
	clock := NewManualClock(201*time.Millisecond, 0)
	s := NewClockSlaver(SlaveResample, 5*time.Millisecond)

	s.Reconcile(params(clock, ring, 10*testSegFrames, false))
	clock.Set(226500 * time.Microsecond)
	res := s.Reconcile(params(clock, ring, 11*testSegFrames, false))
	require.True(t, res.DriftCorrected)

	// the next pull latches a new baseline instead of comparing against the old one
	res = s.Reconcile(params(clock, ring, res.Next, false))
	assert.False(t, res.DriftCorrected)
	assert.Equal(t, uint64(1), s.DriftCorrections())
}

func TestClockSlaverSkewIgnoresDrift(t *testing.T) {
	ring := ringWithSegments(t, 10)
	clock := NewManualClock(201*time.Millisecond, 0)
	s := NewClockSlaver(SlaveSkew, 5*time.Millisecond)

	s.Reconcile(params(clock, ring, 10*testSegFrames, false))
	clock.Set(226500 * time.Microsecond)
	res := s.Reconcile(params(clock, ring, 11*testSegFrames, false))
	assert.False(t, res.DriftCorrected)
	assert.Zero(t, s.DriftCorrections())
}

func TestClockSlaverReTimestamp(t *testing.T) {
	tests := []struct {
		name string
		now  time.Duration
		base time.Duration
		want time.Duration
	}{
		{"running time minus latency", 500 * time.Millisecond, 100 * time.Millisecond, 380 * time.Millisecond},
		{"clamped below latency", 110 * time.Millisecond, 100 * time.Millisecond, 0},
		{"clock before base time", 50 * time.Millisecond, 100 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewClockSlaver(SlaveReTimestamp, 0)
			res := s.Reconcile(params(NewManualClock(tt.now, tt.base), ringWithSegments(t, 3), 5*testSegFrames, false))
			assert.Equal(t, tt.want, res.Timestamp)
			assert.Equal(t, uint64(6*testSegFrames), res.Next)
		})
	}
}

func TestClockSlaverUnslavedPaths(t *testing.T) {
	ring := ringWithSegments(t, 3)
	clock := NewManualClock(time.Second, 100*time.Millisecond)
	adjust := func(ts time.Duration) time.Duration { return ts + 150*time.Millisecond }

	t.Run("no clock keeps sample time", func(t *testing.T) {
		s := NewClockSlaver(SlaveSkew, 0)
		in := params(nil, ring, 5*testSegFrames, true)
		res := s.Reconcile(in)
		assert.Equal(t, in.Timestamp, res.Timestamp)
		assert.False(t, res.Resynced)
	})

	t.Run("ring timestamp wins", func(t *testing.T) {
		s := NewClockSlaver(SlaveSkew, 0)
		in := params(clock, ring, 5*testSegFrames, true)
		in.RingTimestamp, in.RingTimestampValid = 300*time.Millisecond, true
		res := s.Reconcile(in)
		assert.Equal(t, 200*time.Millisecond, res.Timestamp)
		assert.False(t, res.Resynced)
	})

	t.Run("device clock adjusts sample time", func(t *testing.T) {
		s := NewClockSlaver(SlaveSkew, 0)
		in := params(clock, ring, 5*testSegFrames, true)
		in.DeviceClocked, in.ClockAdjust = true, adjust
		res := s.Reconcile(in)
		assert.Equal(t, 100*time.Millisecond+150*time.Millisecond-100*time.Millisecond, res.Timestamp)
	})

	t.Run("none mode applies device offset", func(t *testing.T) {
		s := NewClockSlaver(SlaveNone, 0)
		in := params(clock, ring, 5*testSegFrames, true)
		in.ClockAdjust = adjust
		res := s.Reconcile(in)
		assert.Equal(t, 250*time.Millisecond, res.Timestamp)
		assert.Zero(t, s.Timeshifted())
	})
}

func TestAudioClockRebase(t *testing.T) {
	dev := &stepDeviceClock{}
	c := NewAudioClock(dev)

	dev.ticks = 10_000_000
	assert.Equal(t, time.Second, c.Now())

	dev.ticks = 0
	c.Rebase()
	dev.ticks = 5_000_000
	assert.Equal(t, 1500*time.Millisecond, c.Now())
	assert.Equal(t, 1200*time.Millisecond, c.Adjust(200*time.Millisecond))
}

type stepDeviceClock struct {
	ticks uint64
}

func (s *stepDeviceClock) Position() (uint64, error) { return s.ticks, nil }

func TestScaleUint64(t *testing.T) {
	// 2^40 samples at 1e9 overflow 64 bits in the intermediate product
	assert.Equal(t, uint64(22906492245333333), scaleUint64(1<<40, 1_000_000_000, 48000))
	assert.Equal(t, uint64(22675), scaleUint64(1, 1_000_000_000, 44100))
	assert.Equal(t, ^uint64(0), scaleUint64(^uint64(0), 2, 1))
	assert.Zero(t, scaleUint64(5, 5, 0))
}
