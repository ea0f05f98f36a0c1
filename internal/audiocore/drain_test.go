package audiocore

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiosrc/internal/errors"
)

const (
	testBPF       = 4
	testSegFrames = 960
	testSegBytes  = testSegFrames * testBPF
)

func newTestDrain(src *fakeSource, opts ...DrainOption) *DrainLoop {
	return NewDrainLoop(src, src.format, NewOverflowBuffer(testSegBytes), opts...)
}

// readWithin fails the test if Read does not return within timeout.
func readWithin(t *testing.T, d *DrainLoop, dst []byte, timeout time.Duration) (ReadResult, error) {
	t.Helper()

	type result struct {
		res ReadResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := d.Read(dst)
		done <- result{res, err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-time.After(timeout):
		d.Stop()
		<-done
		t.Fatalf("Read did not return within %v", timeout)
		return ReadResult{}, nil
	}
}

func frames(n int, seed byte) scriptedBurst {
	return scriptedBurst{data: pattern(n*testBPF, seed)}
}

func silentFrames(n int, seed byte) scriptedBurst {
	return scriptedBurst{data: pattern(n*testBPF, seed), flags: BurstSilent}
}

// expectedStream renders bursts the way the drain loop must deliver them.
func expectedStream(batches ...[]scriptedBurst) []byte {
	var out bytes.Buffer
	for _, batch := range batches {
		for _, b := range batch {
			if b.flags.Has(BurstSilent) {
				out.Write(make([]byte, len(b.data)))
				continue
			}
			out.Write(b.data)
		}
	}
	return out.Bytes()
}

func TestDrainLoopFillsRequestFromBursts(t *testing.T) {
	tests := []struct {
		name    string
		batches [][]scriptedBurst
	}{
		{
			name:    "single exact burst",
			batches: [][]scriptedBurst{{frames(960, 1)}},
		},
		{
			name:    "several bursts in one wake",
			batches: [][]scriptedBurst{{frames(100, 1), frames(300, 2), frames(560, 3)}},
		},
		{
			name:    "bursts across wakes",
			batches: [][]scriptedBurst{{frames(400, 1)}, {frames(400, 2)}, {frames(400, 3)}},
		},
		{
			name:    "silent burst renders zeros",
			batches: [][]scriptedBurst{{frames(480, 1), silentFrames(480, 9)}},
		},
		{
			name:    "burst larger than request",
			batches: [][]scriptedBurst{{frames(1920, 7)}},
		},
		{
			name:    "glitch flag does not alter data",
			batches: [][]scriptedBurst{{{data: pattern(960*testBPF, 5), flags: BurstDiscontinuity}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(testFormat())
			d := newTestDrain(src)
			src.deliver(tt.batches...)

			dst := make([]byte, testSegBytes)
			res, err := readWithin(t, d, dst, time.Second)
			require.NoError(t, err)

			assert.Equal(t, ReadComplete, res.Status)
			assert.Equal(t, testSegBytes, res.Bytes)
			assert.Equal(t, expectedStream(tt.batches...)[:testSegBytes], dst)
		})
	}
}

func TestDrainLoopReleasesWholeBursts(t *testing.T) {
	src := newFakeSource(testFormat())
	d := newTestDrain(src)
	src.deliver([]scriptedBurst{frames(700, 1), frames(700, 2)})

	_, err := readWithin(t, d, make([]byte, testSegBytes), time.Second)
	require.NoError(t, err)

	assert.Equal(t, []int{700, 700}, src.released)
	assert.Equal(t, 440*testBPF, d.overflow.Len())
}

func TestDrainLoopOverflowRoundTrip(t *testing.T) {
	src := newFakeSource(testFormat())
	d := newTestDrain(src)

	first := []scriptedBurst{frames(500, 1), frames(1000, 2), frames(1380, 3)}
	src.deliver(first)
	stream := expectedStream(first)
	require.Len(t, stream, 3*testSegBytes)

	for i := range 3 {
		dst := make([]byte, testSegBytes)
		res, err := readWithin(t, d, dst, time.Second)
		require.NoError(t, err)
		require.Equal(t, ReadComplete, res.Status)
		assert.Equal(t, stream[i*testSegBytes:(i+1)*testSegBytes], dst, "read %d", i)
	}
	assert.Zero(t, d.overflow.Len())

	fresh := []scriptedBurst{frames(960, 42)}
	src.deliver(fresh)
	dst := make([]byte, testSegBytes)
	_, err := readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, expectedStream(fresh), dst)
}

func TestDrainLoopOverflowCapacityExceeded(t *testing.T) {
	src := newFakeSource(testFormat())
	d := newTestDrain(src)

	// one segment is read, four fit the overflow, the last one is dropped
	batch := []scriptedBurst{frames(6*testSegFrames, 1)}
	src.deliver(batch)
	stream := expectedStream(batch)

	dst := make([]byte, testSegBytes)
	res, err := readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadComplete, res.Status)
	assert.Equal(t, OverflowSegments*testSegBytes, d.overflow.Len())

	for i := 1; i <= OverflowSegments; i++ {
		_, err := readWithin(t, d, dst, time.Second)
		require.NoError(t, err)
		assert.Equal(t, stream[i*testSegBytes:(i+1)*testSegBytes], dst)
	}
}

// A 1920-frame burst serves two 960-frame pulls: the second one comes
// entirely from the overflow buffer without waiting on the device.
func TestDrainLoopBurstTwiceTheSegment(t *testing.T) {
	src := newFakeSource(testFormat())
	d := newTestDrain(src)

	batch := []scriptedBurst{frames(1920, 1)}
	stream := expectedStream(batch)
	src.deliver(batch)

	dst := make([]byte, 3840)
	res, err := readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadComplete, res.Status)
	assert.Equal(t, stream[:3840], dst)
	assert.Equal(t, 960*testBPF, d.overflow.Len())

	fetches := src.fetchCount()
	res, err = readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadComplete, res.Status)
	assert.Equal(t, stream[3840:], dst)
	assert.Equal(t, fetches, src.fetchCount(), "second read must not touch the device")
	assert.Zero(t, d.overflow.Len())
}

func TestDrainLoopDriverError(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeSource)
	}{
		{"fetch fails", func(f *fakeSource) { f.fetchErr = errors.NewStd("AUDCLNT_E_BUFFER_ERROR") }},
		{"release fails", func(f *fakeSource) { f.releaseErr = errors.NewStd("release rejected") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(testFormat())
			tt.setup(src)
			d := newTestDrain(src)
			src.deliver([]scriptedBurst{frames(480, 1)})

			res, err := readWithin(t, d, make([]byte, testSegBytes), time.Second)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDriverBuffer)
			assert.Zero(t, res.Bytes)
		})
	}
}

func TestDrainLoopStopFlushesWithSilence(t *testing.T) {
	src := newFakeSource(testFormat())
	d := newTestDrain(src)
	src.deliver([]scriptedBurst{frames(240, 1)})

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Stop()
	}()

	dst := pattern(testSegBytes, 0xAA)
	res, err := readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadFlushed, res.Status)
	assert.Equal(t, testSegBytes, res.Bytes)
	assert.Equal(t, pattern(240*testBPF, 1), dst[:240*testBPF])
	assert.Equal(t, make([]byte, testSegBytes-240*testBPF), dst[240*testBPF:])

	// stop is permanent
	res, err = readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadFlushed, res.Status)
	assert.True(t, d.Stopped())
}

func TestDrainLoopResetRestartsSource(t *testing.T) {
	src := newFakeSource(testFormat())
	d := newTestDrain(src)

	go func() {
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, d.Reset())
	}()

	res, err := readWithin(t, d, make([]byte, testSegBytes), time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadFlushed, res.Status)
	assert.True(t, d.NeedsRestart())
	assert.Equal(t, 1, src.resetCount())

	src.deliver([]scriptedBurst{frames(960, 3)})
	dst := make([]byte, testSegBytes)
	res, err = readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadComplete, res.Status)
	assert.False(t, d.NeedsRestart())
	assert.Equal(t, 1, src.startCount())
	assert.Equal(t, pattern(testSegBytes, 3), dst)
}

func TestDrainLoopRestartFailure(t *testing.T) {
	src := newFakeSource(testFormat())
	d := newTestDrain(src)
	require.NoError(t, d.Reset())
	src.startErr = errors.NewStd("device busy")

	res, err := readWithin(t, d, make([]byte, testSegBytes), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceOpen)
	assert.Zero(t, res.Bytes)
	assert.True(t, d.NeedsRestart())
}

func TestDrainLoopDeviceLostNotifiesOnce(t *testing.T) {
	var notified atomic.Int32
	src := newFakeSource(testFormat())
	d := newTestDrain(src, WithDeviceLostFunc(func() { notified.Add(1) }))

	src.deliver([]scriptedBurst{frames(240, 1)})
	go func() {
		time.Sleep(20 * time.Millisecond)
		src.invalidate()
	}()

	dst := make([]byte, testSegBytes)
	res, err := readWithin(t, d, dst, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadBestEffort, res.Status)
	assert.Equal(t, testSegBytes, res.Bytes)
	assert.Equal(t, pattern(240*testBPF, 1), dst[:240*testBPF])
	assert.Equal(t, make([]byte, testSegBytes-240*testBPF), dst[240*testBPF:])
	assert.True(t, d.DeviceLost())

	// reads on the lost device keep producing paced silence
	for range 3 {
		res, err := readWithin(t, d, dst, time.Second)
		require.NoError(t, err)
		assert.Equal(t, ReadBestEffort, res.Status)
	}

	// restarting onto a device that is still gone fails again without a second notification
	for range 3 {
		require.NoError(t, d.Reset())
		res, err := readWithin(t, d, dst, time.Second)
		require.NoError(t, err)
		assert.Equal(t, ReadFlushed, res.Status)

		src.invalidate()
		res, err = readWithin(t, d, dst, time.Second)
		require.NoError(t, err)
		assert.Equal(t, ReadBestEffort, res.Status)
	}

	assert.Equal(t, int32(1), notified.Load())
}

func TestDrainLoopDefaultDeviceChange(t *testing.T) {
	tests := []struct {
		name       string
		follow     bool
		wantStatus ReadStatus
		wantLost   int32
	}{
		{"following default device", true, ReadBestEffort, 1},
		{"explicit device ignores change", false, ReadComplete, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var notified atomic.Int32
			src := newFakeSource(testFormat())
			d := newTestDrain(src,
				WithFollowDefault(tt.follow),
				WithDeviceLostFunc(func() { notified.Add(1) }))

			d.NotifyDefaultDeviceChanged()
			src.deliver([]scriptedBurst{frames(960, 1)})

			res, err := readWithin(t, d, make([]byte, testSegBytes), time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantLost, notified.Load())
			if tt.follow {
				assert.False(t, d.DefaultDeviceChanged(), "flag is cleared by polling")
			}
		})
	}
}
