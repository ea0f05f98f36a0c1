package audiocore

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
	"github.com/tphakala/audiosrc/internal/observability/metrics"
)

// Buffer is one pulled block of audio
type Buffer struct {
	Data          []byte
	Offset        uint64 // first sample
	OffsetEnd     uint64 // one past the last sample
	Timestamp     time.Duration
	Duration      time.Duration
	Discontinuous bool
}

// Frames returns the number of frames in the buffer.
func (b *Buffer) Frames() uint64 {
	return b.OffsetEnd - b.Offset
}

// ErrStopped is returned by Pull when the ring stops while a pull waits for data.
var ErrStopped = errors.NewStd("capture stopped")

// Producer assembles fixed-size buffers from the ring for a single consumer.
type Producer struct {
	ring   *RingBuffer
	format Format
	slaver *ClockSlaver

	clock         Clock
	clockAdjust   func(time.Duration) time.Duration
	deviceClocked bool

	next atomic.Uint64

	metrics    *MetricsCollector
	log        logger.Logger
	gapLimiter *rate.Limiter
}

// ProducerOption configures a Producer
type ProducerOption func(*Producer)

// WithClock sets the reference clock. Without one, timestamps are purely
// sample-derived.
func WithClock(clock Clock) ProducerOption {
	return func(p *Producer) { p.clock = clock }
}

// WithAudioClock makes the device clock available for timestamp adjustment.
// When it is also the reference clock, buffers are not slaved.
func WithAudioClock(ac *AudioClock) ProducerOption {
	return func(p *Producer) {
		if ac == nil {
			return
		}
		p.clockAdjust = ac.Adjust
		if p.clock == nil || p.clock == Clock(ac) {
			p.clock = ac
			p.deviceClocked = true
		}
	}
}

// WithProducerMetrics attaches a metrics collector.
func WithProducerMetrics(m *MetricsCollector) ProducerOption {
	return func(p *Producer) { p.metrics = m }
}

// NewProducer creates a producer reading from ring.
func NewProducer(ring *RingBuffer, format Format, slaver *ClockSlaver, opts ...ProducerOption) *Producer {
	p := &Producer{
		ring:       ring,
		format:     format,
		slaver:     slaver,
		log:        GetLogger().Module("producer"),
		gapLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	p.next.Store(NoSample)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextSample returns the sample the next sequential pull starts at, or NoSample.
func (p *Producer) NextSample() uint64 {
	return p.next.Load()
}

// ResetCursor forgets the read position so the next pull aligns to the
// newest data.
func (p *Producer) ResetCursor() {
	p.next.Store(NoSample)
}

// Pull returns length bytes of audio. A zero length pulls one segment; other
// lengths are rounded down to whole frames. When offset is non-nil it must be
// the next sequential sample. Pull waits for the pump when the ring has not
// caught up yet and never returns a partially filled buffer.
func (p *Producer) Pull(ctx context.Context, length int, offset *uint64) (*Buffer, error) {
	started := time.Now()
	buf, err := p.pull(ctx, length, offset)

	status := metrics.StatusSuccess
	switch {
	case err != nil:
		status = metrics.StatusError
	case buf.Discontinuous:
		status = metrics.StatusDiscontinuous
	}
	bytes := 0
	if buf != nil {
		bytes = len(buf.Data)
	}
	p.metrics.recordPull(status, bytes, time.Since(started))
	return buf, err
}

func (p *Producer) pull(ctx context.Context, length int, offset *uint64) (*Buffer, error) {
	spec := p.ring.Spec()
	bpf := spec.BytesPerFrame
	if bpf == 0 {
		return nil, newError(ErrRingBufferError, errors.CategoryBuffer, "pull", "ring buffer not acquired")
	}

	if length == 0 {
		length = spec.SegmentSize
	} else {
		length -= length % bpf
	}
	if length <= 0 {
		return nil, newConfigError("pull", "pull length smaller than one %d-byte frame", bpf)
	}

	next := p.next.Load()
	var sample uint64
	if offset != nil {
		sample = *offset
		if next != NoSample && sample != next {
			return nil, errors.New(ErrSequentialAccess).
				Component(ComponentAudioCore).
				Category(errors.CategoryValidation).
				Context("operation", "sequential_access").
				Context("requested_sample", sample).
				Context("expected_sample", next).
				Build()
		}
	} else {
		sample = ResolveReadSample(next, p.ring.WriteSegments(), p.ring.SamplesPerSegment(), uint64(spec.SegmentTotal))
	}

	frames := length / bpf
	data := make([]byte, length)

	var (
		ringTS      time.Duration
		ringTSValid bool
		first       = true
		got         int
	)
	for {
		n, ts, ok := p.ring.Read(sample+uint64(got), data[got*bpf:], frames-got)
		if first && n > 0 && ok {
			first = false
			ringTS, ringTSValid = ts, true
		}
		got += n
		if got == frames {
			break
		}

		switch p.ring.State() {
		case RingError:
			return nil, newError(ErrRingBufferError, errors.CategoryBuffer, "pull",
				"ring failed after %d of %d frames", got, frames)
		case RingStopped:
			return nil, ErrStopped
		}

		select {
		case <-p.ring.Committed():
		case <-ctx.Done():
			return nil, errors.New(ctx.Err()).
				Component(ComponentAudioCore).
				Category(errors.CategoryCancellation).
				Context("operation", "pull").
				Build()
		}
	}

	firstRead := next == NoSample
	discont := !firstRead && sample != next
	if discont {
		gap := sample - next
		if sample < next {
			gap = next - sample
		}
		p.metrics.recordDiscontinuity(gap)
		if p.gapLimiter.Allow() {
			p.log.Warn("can't record audio fast enough, dropped samples",
				logger.Uint64("gap_frames", gap),
				logger.Uint64("sample", sample))
		}
	}

	end := sample + uint64(frames)
	timestamp := samplesToDuration(sample, p.format.SampleRate)
	duration := samplesToDuration(end, p.format.SampleRate) - timestamp
	nextSample := end

	if p.slaver != nil {
		res := p.slaver.Reconcile(&ReconcileParams{
			Clock:              p.clock,
			ClockAdjust:        p.clockAdjust,
			DeviceClocked:      p.deviceClocked,
			Ring:               p.ring,
			Rate:               p.format.SampleRate,
			Sample:             sample,
			Frames:             uint64(frames),
			Timestamp:          timestamp,
			RingTimestamp:      ringTS,
			RingTimestampValid: ringTSValid,
			FirstSample:        firstRead,
		})
		timestamp = res.Timestamp
		nextSample = res.Next
		p.metrics.setClockSkew(res.SegmentSkew)
		if res.Resynced {
			// the buffer takes the position the reader was moved to
			sample = res.Next - uint64(frames)
			end = res.Next
			duration = samplesToDuration(end, p.format.SampleRate) - samplesToDuration(sample, p.format.SampleRate)
			p.metrics.recordResync(res.DriftCorrected)
		}
	}
	p.next.Store(nextSample)

	return &Buffer{
		Data:          data,
		Offset:        sample,
		OffsetEnd:     end,
		Timestamp:     timestamp,
		Duration:      duration,
		Discontinuous: discont,
	}, nil
}
