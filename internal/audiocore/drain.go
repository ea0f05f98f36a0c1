package audiocore

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
)

// DeviceLostFunc is invoked once per session when the capture device goes away.
type DeviceLostFunc func()

// ReadResult reports how many bytes a drain read produced and how the
// request was satisfied. Bytes always equals the request length unless an
// error is returned.
type ReadResult struct {
	Bytes  int
	Status ReadStatus
}

// DrainLoop fills fixed-size reads from a bursty CaptureSource. Every wakeup
// drains the driver completely; frames that do not fit the current read are
// spilled to the overflow buffer and served first on the next read.
//
// Read is called from the pump goroutine only. Reset and Stop may be called
// from any goroutine.
type DrainLoop struct {
	source   CaptureSource
	overflow *OverflowBuffer
	format   Format
	bpf      int

	followsDefault bool
	defaultChanged atomic.Bool

	restartMu    sync.Mutex
	needsRestart bool

	stopOnce sync.Once
	stopCh   chan struct{}
	flushCh  chan struct{}

	lost         atomic.Bool
	lostNotified atomic.Bool
	onDeviceLost DeviceLostFunc

	metrics *MetricsCollector
	log     logger.Logger

	glitchLimiter   *rate.Limiter
	overflowLimiter *rate.Limiter
}

// DrainOption configures a DrainLoop
type DrainOption func(*DrainLoop)

// WithDeviceLostFunc sets the device loss callback.
func WithDeviceLostFunc(fn DeviceLostFunc) DrainOption {
	return func(d *DrainLoop) { d.onDeviceLost = fn }
}

// WithFollowDefault makes a default device change count as device loss.
func WithFollowDefault(follow bool) DrainOption {
	return func(d *DrainLoop) { d.followsDefault = follow }
}

// WithDrainMetrics attaches a metrics collector.
func WithDrainMetrics(m *MetricsCollector) DrainOption {
	return func(d *DrainLoop) { d.metrics = m }
}

// WithDrainLogger overrides the logger.
func WithDrainLogger(l logger.Logger) DrainOption {
	return func(d *DrainLoop) { d.log = l }
}

// NewDrainLoop creates a drain loop over an opened source.
func NewDrainLoop(source CaptureSource, format Format, overflow *OverflowBuffer, opts ...DrainOption) *DrainLoop {
	d := &DrainLoop{
		source:          source,
		overflow:        overflow,
		format:          format,
		bpf:             format.BytesPerFrame(),
		stopCh:          make(chan struct{}),
		flushCh:         make(chan struct{}, 1),
		log:             GetLogger().Module("drain"),
		glitchLimiter:   rate.NewLimiter(rate.Every(time.Second), 3),
		overflowLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyDefaultDeviceChanged raises the polled device-change flag. It is
// the callback registered with a DeviceWatcher.
func (d *DrainLoop) NotifyDefaultDeviceChanged() {
	d.defaultChanged.Store(true)
}

// DefaultDeviceChanged reads and clears the device-change flag.
func (d *DrainLoop) DefaultDeviceChanged() bool {
	return d.defaultChanged.Swap(false)
}

// NeedsRestart reports whether the next Read will restart the source.
func (d *DrainLoop) NeedsRestart() bool {
	d.restartMu.Lock()
	defer d.restartMu.Unlock()
	return d.needsRestart
}

// DeviceLost reports whether device loss has been observed.
func (d *DrainLoop) DeviceLost() bool {
	return d.lost.Load()
}

// Read fills dst completely. It returns ReadFlushed when interrupted by Stop
// or Reset and ReadBestEffort after device loss; in both cases the unfilled
// remainder is silence. A driver failure returns ErrDriverBuffer and no data.
func (d *DrainLoop) Read(dst []byte) (ReadResult, error) {
	if err := d.restartIfNeeded(); err != nil {
		return ReadResult{}, err
	}

	filled := 0
	if d.overflow.Len() > 0 {
		filled = d.overflow.Pop(dst)
		d.log.Trace("restored bytes from overflow", logger.Int("bytes", filled))
		if d.overflow.Len() > 0 {
			d.log.Debug("overflow holds more than requested",
				logger.Int("remaining", d.overflow.Len()),
				logger.Int("requested", len(dst)))
		}
		d.metrics.recordOverflow(0, 0, d.overflow.Len())
	}

	if filled < len(dst) && d.lost.Load() {
		return d.idleAfterLoss(dst, filled), nil
	}

	for filled < len(dst) {
		select {
		case <-d.source.Ready():
		case <-d.stopCh:
			clear(dst[filled:])
			return ReadResult{Bytes: len(dst), Status: ReadFlushed}, nil
		case <-d.flushCh:
			clear(dst[filled:])
			return ReadResult{Bytes: len(dst), Status: ReadFlushed}, nil
		}

		if d.followsDefault && d.DefaultDeviceChanged() {
			return d.handleDeviceLost(dst, filled, "default device changed"), nil
		}

		n, err := d.drain(dst[filled:])
		if errors.Is(err, ErrDeviceInvalidated) {
			return d.handleDeviceLost(dst, filled+n, "device invalidated"), nil
		}
		if err != nil {
			d.metrics.recordDriverError()
			return ReadResult{}, err
		}
		filled += n
	}

	return ReadResult{Bytes: len(dst), Status: ReadComplete}, nil
}

// drain fetches bursts until the driver reports empty, copying what fits in
// dst and spilling the rest. It returns the bytes written to dst.
func (d *DrainLoop) drain(dst []byte) (int, error) {
	written := 0
	for i := 0; ; i++ {
		burst, err := d.source.FetchBurst()
		switch {
		case errors.Is(err, ErrBurstEmpty):
			return written, nil
		case errors.Is(err, ErrDeviceInvalidated):
			return written, err
		case err != nil:
			return 0, wrapError(ErrDriverBuffer, err, errors.CategoryAudio, "fetch_burst")
		}

		if i > 0 {
			d.log.Trace("draining queued burst", logger.Int("index", i))
		}

		silent := burst.Flags.Has(BurstSilent)
		if burst.Flags.Has(BurstDiscontinuity) && d.glitchLimiter.Allow() {
			d.log.Warn("driver reported glitch in capture buffer", logger.Int("frames", burst.Frames))
		}

		wantFrames := (len(dst) - written) / d.bpf
		n := min(burst.Frames, wantFrames)
		nbytes := n * d.bpf
		if silent {
			clear(dst[written : written+nbytes])
		} else {
			copy(dst[written:written+nbytes], burst.Data[:nbytes])
		}
		written += nbytes
		d.metrics.recordBurst(burst.Frames*d.bpf, silent, burst.Flags.Has(BurstDiscontinuity))

		if burst.Frames > wantFrames {
			d.spill(burst, nbytes, silent)
		}

		if err := d.source.Release(burst.Frames); err != nil {
			return 0, wrapError(ErrDriverBuffer, err, errors.CategoryAudio, "release_burst")
		}
	}
}

func (d *DrainLoop) spill(burst Burst, from int, silent bool) {
	excess := burst.Data[from : burst.Frames*d.bpf]
	if silent {
		excess = make([]byte, len(excess))
	}

	before := d.overflow.Len()
	err := d.overflow.Push(excess)
	stored := d.overflow.Len() - before
	d.metrics.recordOverflow(stored, len(excess)-stored, d.overflow.Len())

	if err != nil {
		if d.overflowLimiter.Allow() {
			d.log.Error("cannot save overflow",
				logger.Int("wanted_bytes", len(excess)),
				logger.Int("stored_bytes", stored),
				logger.Int("capacity_bytes", d.overflow.Cap()),
				logger.Error(err))
		}
		return
	}
	d.log.Trace("saved bytes to overflow", logger.Int("bytes", len(excess)))
}

func (d *DrainLoop) handleDeviceLost(dst []byte, filled int, reason string) ReadResult {
	d.lost.Store(true)
	if d.lostNotified.CompareAndSwap(false, true) {
		d.log.Info("capture device disconnected", logger.String("reason", reason))
		d.metrics.recordDeviceLost()
		if d.onDeviceLost != nil {
			d.onDeviceLost()
		}
	}
	clear(dst[filled:])
	return ReadResult{Bytes: len(dst), Status: ReadBestEffort}
}

// idleAfterLoss paces silence at the real-time rate so a pump on a lost
// device does not spin.
func (d *DrainLoop) idleAfterLoss(dst []byte, filled int) ReadResult {
	frames := (len(dst) - filled) / max(d.bpf, 1)
	wait := time.Duration(frames) * time.Second / time.Duration(max(d.format.SampleRate, 1))

	timer := time.NewTimer(wait)
	defer timer.Stop()

	status := ReadBestEffort
	select {
	case <-timer.C:
	case <-d.stopCh:
		status = ReadFlushed
	case <-d.flushCh:
		status = ReadFlushed
	}
	clear(dst[filled:])
	return ReadResult{Bytes: len(dst), Status: status}
}

func (d *DrainLoop) restartIfNeeded() error {
	d.restartMu.Lock()
	defer d.restartMu.Unlock()

	if !d.needsRestart {
		return nil
	}
	if err := d.source.Start(); err != nil {
		return wrapError(ErrDeviceOpen, err, errors.CategoryAudioSource, "restart_source")
	}
	d.needsRestart = false
	d.lost.Store(false)
	d.log.Debug("capture source restarted")
	return nil
}

// Reset stops and flushes the source, wakes a blocked Read and marks the
// source for restart on the next Read.
func (d *DrainLoop) Reset() error {
	defer d.wake()

	d.restartMu.Lock()
	defer d.restartMu.Unlock()

	if err := d.source.Stop(); err != nil {
		return wrapError(ErrDriverBuffer, err, errors.CategoryAudio, "reset_stop")
	}
	if err := d.source.Reset(); err != nil {
		return wrapError(ErrDriverBuffer, err, errors.CategoryAudio, "reset_flush")
	}
	d.needsRestart = true
	return nil
}

// Stop permanently wakes and terminates blocked and future waits.
func (d *DrainLoop) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *DrainLoop) wake() {
	select {
	case d.flushCh <- struct{}{}:
	default:
	}
}

// Stopped reports whether Stop has been called.
func (d *DrainLoop) Stopped() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}
