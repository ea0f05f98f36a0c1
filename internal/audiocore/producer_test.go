package audiocore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProducer(t *testing.T, segTotal int, opts ...ProducerOption) (*Producer, *RingBuffer) {
	t.Helper()
	r := newTestRing(t, testSegFrames, segTotal)
	return NewProducer(r, testFormat(), nil, opts...), r
}

func commitN(t *testing.T, r *RingBuffer, n int, seed byte) {
	t.Helper()
	for i := range n {
		require.NoError(t, r.CommitSegment(pattern(testSegBytes, seed+byte(i))))
	}
}

// commitLater commits segments from a separate goroutine after a short delay.
func commitLater(r *RingBuffer, n int, seed byte) {
	go func() {
		time.Sleep(10 * time.Millisecond)
		for i := range n {
			_ = r.CommitSegment(pattern(testSegBytes, seed+byte(i)))
		}
	}()
}

func TestProducerSequentialPulls(t *testing.T) {
	p, r := newTestProducer(t, 4)
	commitN(t, r, 1, 0)

	// the first pull aligns to the write position and waits for that segment
	commitLater(r, 2, 10)
	buf, err := p.Pull(t.Context(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(testSegFrames), buf.Offset)
	assert.Equal(t, uint64(2*testSegFrames), buf.OffsetEnd)
	assert.Equal(t, pattern(testSegBytes, 10), buf.Data)
	assert.False(t, buf.Discontinuous)
	assert.Equal(t, 20*time.Millisecond, buf.Timestamp)
	assert.Equal(t, 20*time.Millisecond, buf.Duration)

	buf, err = p.Pull(t.Context(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, pattern(testSegBytes, 11), buf.Data)
	assert.False(t, buf.Discontinuous)
	assert.Equal(t, uint64(3*testSegFrames), p.NextSample())
}

func TestProducerLengthRounding(t *testing.T) {
	p, r := newTestProducer(t, 4)
	p.next.Store(0)
	commitN(t, r, 2, 0)

	buf, err := p.Pull(t.Context(), 3843, nil)
	require.NoError(t, err)
	assert.Len(t, buf.Data, 3840)

	_, err = p.Pull(t.Context(), 3, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestProducerExplicitOffset(t *testing.T) {
	p, r := newTestProducer(t, 4)
	commitN(t, r, 3, 0)

	start := uint64(0)
	buf, err := p.Pull(t.Context(), 0, &start)
	require.NoError(t, err, "any offset is accepted before the first pull")
	assert.Equal(t, uint64(0), buf.Offset)

	wrong := p.NextSample() + 1
	_, err = p.Pull(t.Context(), 0, &wrong)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSequentialAccess)

	right := p.NextSample()
	buf, err = p.Pull(t.Context(), 0, &right)
	require.NoError(t, err)
	assert.Equal(t, right, buf.Offset)
}

func TestProducerWaitsForPump(t *testing.T) {
	p, r := newTestProducer(t, 4)
	p.next.Store(0)
	commitN(t, r, 1, 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.CommitSegmentAt(pattern(testSegBytes, 1), 0)
	}()

	buf, err := p.Pull(t.Context(), 2*testSegBytes, nil)
	require.NoError(t, err)
	assert.Equal(t, append(pattern(testSegBytes, 0), pattern(testSegBytes, 1)...), buf.Data)
}

func TestProducerRingErrorDiscardsPartialBuffer(t *testing.T) {
	p, r := newTestProducer(t, 4)
	p.next.Store(0)
	commitN(t, r, 1, 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.SetError()
	}()

	buf, err := p.Pull(t.Context(), 2*testSegBytes, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRingBufferError)
	assert.Nil(t, buf)
	assert.Equal(t, uint64(0), p.NextSample(), "failed pulls do not advance the cursor")
}

func TestProducerStoppedRing(t *testing.T) {
	p, r := newTestProducer(t, 4)
	p.next.Store(0)
	r.Stop()

	_, err := p.Pull(t.Context(), 0, nil)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestProducerContextCancel(t *testing.T) {
	p, _ := newTestProducer(t, 4)
	p.next.Store(0)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Pull(ctx, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProducerMarksDiscontinuity(t *testing.T) {
	p, r := newTestProducer(t, 4)
	p.next.Store(0)
	commitN(t, r, 1, 0)

	buf, err := p.Pull(t.Context(), 0, nil)
	require.NoError(t, err)
	require.False(t, buf.Discontinuous)
	require.Equal(t, uint64(testSegFrames), p.NextSample())

	// the writer laps the reader by more than a full ring
	commitN(t, r, 8, 20)
	commitLater(r, 1, 40)

	buf, err = p.Pull(t.Context(), 0, nil)
	require.NoError(t, err)
	assert.True(t, buf.Discontinuous)
	assert.Equal(t, uint64(9*testSegFrames), buf.Offset)
	assert.Equal(t, pattern(testSegBytes, 40), buf.Data)
}

func TestProducerTimestampsUseExactIntegerMath(t *testing.T) {
	r := NewRingBuffer()
	require.NoError(t, r.Acquire(RingSpec{SegmentSize: 441 * testBPF, SegmentTotal: 4, BytesPerFrame: testBPF}))
	r.Start()
	format := Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
	p := NewProducer(r, format, nil)
	p.next.Store(1)

	for range 2 {
		require.NoError(t, r.CommitSegment(make([]byte, 441*testBPF)))
	}

	buf, err := p.Pull(t.Context(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(22675), buf.Timestamp)
	assert.Equal(t, 10*time.Millisecond, buf.Duration)
}
