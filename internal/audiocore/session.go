package audiocore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/audiosrc/internal/conf"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
	"github.com/tphakala/audiosrc/internal/observability/metrics"
)

// SessionConfig holds the capture parameters of one session
type SessionConfig struct {
	Selector       DeviceSelector
	SlaveMode      SlaveMode
	DriftThreshold time.Duration
	PullLength     int // bytes, 0 pulls one segment
}

// ConfigFromSettings converts validated capture settings.
func ConfigFromSettings(s *conf.CaptureSettings) (SessionConfig, error) {
	mode, err := ParseSlaveMode(s.SlaveMode)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{
		Selector: DeviceSelector{
			DeviceID:        s.Device,
			Role:            s.Role,
			Loopback:        s.Loopback,
			Exclusive:       s.Exclusive,
			LowLatency:      s.LowLatency,
			UseAudioClient3: s.UseAudioClient3,
			Format: Format{
				SampleRate: s.SampleRate,
				Channels:   s.Channels,
				BitDepth:   s.BitDepth,
			},
			PeriodFrames: s.PeriodFrames,
			BufferFrames: s.BufferFrames,
		},
		SlaveMode:      mode,
		DriftThreshold: s.EffectiveDriftThreshold(),
		PullLength:     s.PullLength,
	}, nil
}

// Diagnostics is a read-only snapshot of session internals
type Diagnostics struct {
	SessionID        string `json:"session_id"`
	State            string `json:"state"`
	RestartRequired  bool   `json:"restart_required"`
	DeviceLost       bool   `json:"device_lost"`
	SampleRate       int    `json:"sample_rate"`
	Description      string `json:"description"`
	SlaveMode        string `json:"slave_mode"`
	SegmentSize      int    `json:"segment_size"`
	SegmentTotal     int    `json:"segment_total"`
	WriteSegments    uint64 `json:"write_segments"`
	NextSample       uint64 `json:"next_sample"`
	OverflowBytes    int    `json:"overflow_bytes"`
	Timeshifted      uint64 `json:"timeshifted_count"`
	DriftCorrections uint64 `json:"drift_correction_count"`
}

// DeviceLostHandler receives the device loss error once per session.
type DeviceLostHandler func(sessionID string, err error)

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionClock sets the pipeline reference clock. A RunningClock gets
// its base time set to its current reading on Start.
func WithSessionClock(clock Clock) SessionOption {
	return func(s *Session) { s.clock = clock }
}

// WithDeviceWatcher sets the default device change notifier.
func WithDeviceWatcher(w DeviceWatcher) SessionOption {
	return func(s *Session) { s.watcher = w }
}

// WithMetrics attaches Prometheus capture metrics and an operation recorder.
func WithMetrics(m *metrics.CaptureMetrics, recorder metrics.Recorder) SessionOption {
	return func(s *Session) {
		s.captureMetrics = m
		s.recorder = recorder
	}
}

// WithDeviceLostHandler sets the device loss callback.
func WithDeviceLostHandler(h DeviceLostHandler) SessionOption {
	return func(s *Session) { s.onDeviceLost = h }
}

// WithSessionLogger overrides the session logger.
func WithSessionLogger(l logger.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// Session owns one capture device from Prepare to Unprepare and runs the
// pump goroutine between Start and Stop.
type Session struct {
	id     string
	cfg    SessionConfig
	source CaptureSource

	watcher        DeviceWatcher
	clock          Clock
	captureMetrics *metrics.CaptureMetrics
	recorder       metrics.Recorder
	onDeviceLost   DeviceLostHandler
	log            logger.Logger

	// lifecycle calls are serialised; Pull does not take mu
	mu    sync.Mutex
	state atomic.Int32

	format     Format
	device     DeviceInfo
	ring       *RingBuffer
	overflow   *OverflowBuffer
	drain      *DrainLoop
	producer   *Producer
	slaver     *ClockSlaver
	audioClock *AudioClock
	unregister func()
	metrics    *MetricsCollector

	pumpDone chan struct{}
	pumpErr  atomic.Pointer[error]
}

// NewSession binds configuration and a source. Nothing is opened until Prepare.
func NewSession(cfg SessionConfig, source CaptureSource, opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		source: source,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger().Module("session")
	}
	s.log = s.log.With(logger.String("session_id", s.id))
	s.metrics = NewMetricsCollector(s.captureMetrics, s.recorder, s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.setState(st)
}

func (s *Session) requireState(operation string, allowed ...State) error {
	cur := s.State()
	for _, st := range allowed {
		if cur == st {
			return nil
		}
	}
	return errors.New(fmt.Errorf("%w: %s not allowed in state %s", ErrConfiguration, operation, cur)).
		Component(ComponentAudioCore).
		Category(errors.CategoryValidation).
		Context("operation", operation).
		Context("state", cur.String()).
		Build()
}

// Prepare opens the device, sizes and allocates the ring and overflow
// buffers and registers the device watcher. On failure everything acquired
// so far is released again.
func (s *Session) Prepare(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState("prepare", StateIdle); err != nil {
		return err
	}

	format, device, err := s.source.Open(ctx, s.cfg.Selector)
	if err != nil {
		if errors.Is(err, ErrDeviceOpen) {
			return err
		}
		return errors.New(fmt.Errorf("%w: %w", ErrDeviceOpen, err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			Context("operation", "open_device").
			DeviceContext(s.cfg.Selector.DeviceID, s.cfg.Selector.Loopback).
			Build()
	}
	defer func() {
		if err != nil {
			if cerr := s.source.Close(); cerr != nil {
				s.log.Warn("closing source after failed prepare", logger.Error(cerr))
			}
		}
	}()

	if err := format.Validate(); err != nil {
		return err
	}

	bpf := format.BytesPerFrame()
	period := firstPositive(s.cfg.Selector.PeriodFrames, device.PeriodFrames, format.SampleRate/50)
	bufferFrames := firstPositive(s.cfg.Selector.BufferFrames, device.BufferFrames, period*DefaultBufferPeriods)

	segsize := period * bpf
	segtotal := max(bufferFrames*bpf/segsize, MinSegments) + 1

	ring := NewRingBuffer()
	if err := ring.Acquire(RingSpec{SegmentSize: segsize, SegmentTotal: segtotal, BytesPerFrame: bpf}); err != nil {
		return err
	}

	s.format = format
	s.device = device
	s.ring = ring
	s.overflow = NewOverflowBuffer(segsize)
	s.slaver = NewClockSlaver(s.cfg.SlaveMode, s.cfg.DriftThreshold)
	s.drain = NewDrainLoop(s.source, format, s.overflow,
		WithFollowDefault(s.cfg.Selector.FollowsDefault()),
		WithDeviceLostFunc(s.deviceLost),
		WithDrainMetrics(s.metrics),
		WithDrainLogger(s.log.Module("drain")))

	popts := []ProducerOption{WithClock(s.clock), WithProducerMetrics(s.metrics)}
	if dc, ok := s.source.(DeviceClock); ok {
		s.audioClock = NewAudioClock(dc)
		popts = append(popts, WithAudioClock(s.audioClock))
	}
	s.producer = NewProducer(ring, format, s.slaver, popts...)

	if s.watcher != nil {
		s.unregister = s.watcher.Register(s.drain.NotifyDefaultDeviceChanged)
	}

	s.setState(StatePrepared)
	s.log.Info("capture session prepared",
		logger.String("device", device.Name),
		logger.String("format", format.String()),
		logger.Int("segment_bytes", segsize),
		logger.Int("segments", segtotal),
		logger.String("slave_mode", s.cfg.SlaveMode.String()))
	return nil
}

// Start starts the device and launches the pump.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState("start", StatePrepared); err != nil {
		return err
	}
	if err := s.source.Start(); err != nil {
		return wrapError(ErrDeviceOpen, err, errors.CategoryAudioSource, "start_device")
	}

	if rc, ok := s.clock.(RunningClock); ok {
		rc.SetBaseTime(rc.Now())
	}

	s.ring.Start()
	s.pumpDone = make(chan struct{})
	s.pumpErr.Store(nil)
	go s.pump(s.drain, s.ring, s.pumpDone)

	s.setState(StateRunning)
	s.log.Debug("capture session started")
	return nil
}

// pump moves whole segments from the drain loop into the ring until Stop.
func (s *Session) pump(drain *DrainLoop, ring *RingBuffer, done chan<- struct{}) {
	defer close(done)

	seg := make([]byte, ring.Spec().SegmentSize)
	for {
		res, err := drain.Read(seg)
		if err != nil {
			s.pumpErr.Store(&err)
			s.log.Error("capture read failed", logger.Error(err))
			ring.SetError()
			return
		}
		s.metrics.recordDrain(res.Status)
		if drain.Stopped() {
			return
		}
		if err := ring.CommitSegment(seg); err != nil {
			s.pumpErr.Store(&err)
			ring.SetError()
			return
		}
	}
}

// Pull returns the next buffer. A zero length uses the configured pull
// length; offset, when set, must be the next sequential sample.
func (s *Session) Pull(ctx context.Context, length int, offset *uint64) (*Buffer, error) {
	if err := s.requireState("pull", StateRunning, StateStopped); err != nil {
		return nil, err
	}
	if length == 0 {
		length = s.cfg.PullLength
	}
	return s.producer.Pull(ctx, length, offset)
}

// Reset flushes the device and realigns the next pull to the newest data.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState("reset", StatePrepared, StateRunning); err != nil {
		return err
	}
	err := s.drain.Reset()
	s.producer.ResetCursor()
	s.slaver.ResetDrift()
	if s.audioClock != nil {
		s.audioClock.Rebase()
	}
	return err
}

// Stop halts the pump and the device. The session can then only be unprepared.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if err := s.requireState("stop", StateRunning); err != nil {
		return err
	}

	s.drain.Stop()
	<-s.pumpDone
	s.ring.Stop()

	s.setState(StateStopped)
	if err := s.source.Stop(); err != nil {
		return wrapError(ErrDriverBuffer, err, errors.CategoryAudio, "stop_device")
	}
	s.log.Debug("capture session stopped")
	return nil
}

// Unprepare stops the session if needed, unregisters the watcher, closes
// the device and releases the buffers.
func (s *Session) Unprepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	switch s.State() {
	case StateIdle:
		return s.requireState("unprepare", StatePrepared, StateRunning, StateStopped)
	case StateRunning:
		if err := s.stopLocked(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
	}
	if err := s.source.Close(); err != nil {
		errs = append(errs, wrapError(ErrDeviceOpen, err, errors.CategoryAudioSource, "close_device"))
	}
	s.ring.Release()
	s.overflow.Reset()

	s.setState(StateIdle)
	s.log.Info("capture session unprepared")
	return errors.Join(errs...)
}

func (s *Session) deviceLost() {
	err := errors.New(ErrDeviceLost).
		Component(ComponentAudioCore).
		Category(errors.CategoryAudioSource).
		Priority(errors.PriorityHigh).
		Context("operation", "device_lost").
		DeviceContext(s.cfg.Selector.DeviceID, s.cfg.Selector.Loopback).
		Build()
	s.log.Warn("capture device lost, owner must reopen the session", logger.Error(err))
	if s.onDeviceLost != nil {
		s.onDeviceLost(s.id, err)
	}
}

// Err returns the error that terminated the pump, if any.
func (s *Session) Err() error {
	if p := s.pumpErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Delay returns the frames captured by the device but not fetched yet.
func (s *Session) Delay() int {
	if s.State() == StateIdle {
		return 0
	}
	frames, err := s.source.Padding()
	if err != nil {
		return 0
	}
	return frames
}

// Format returns the negotiated device format.
func (s *Session) Format() Format { return s.format }

// SampleRate returns the negotiated sample rate.
func (s *Session) SampleRate() int { return s.format.SampleRate }

// Description returns the opened device's name.
func (s *Session) Description() string { return s.device.Name }

// Device returns the opened device.
func (s *Session) Device() DeviceInfo { return s.device }

// NeedsRestart reports whether a Reset is waiting for the next read to restart the device.
func (s *Session) NeedsRestart() bool {
	if s.drain == nil {
		return false
	}
	return s.drain.NeedsRestart()
}

// Timeshifted returns the number of clock slaving resyncs.
func (s *Session) Timeshifted() uint64 {
	if s.slaver == nil {
		return 0
	}
	return s.slaver.Timeshifted()
}

// DriftCorrections returns the number of drift-forced resyncs.
func (s *Session) DriftCorrections() uint64 {
	if s.slaver == nil {
		return 0
	}
	return s.slaver.DriftCorrections()
}

// Diagnostics returns a snapshot of the session.
func (s *Session) Diagnostics() Diagnostics {
	d := Diagnostics{
		SessionID:        s.id,
		State:            s.State().String(),
		RestartRequired:  s.NeedsRestart(),
		SampleRate:       s.format.SampleRate,
		Description:      s.device.Name,
		SlaveMode:        s.cfg.SlaveMode.String(),
		Timeshifted:      s.Timeshifted(),
		DriftCorrections: s.DriftCorrections(),
		NextSample:       NoSample,
	}
	if s.ring != nil {
		d.SegmentSize = s.ring.Spec().SegmentSize
		d.SegmentTotal = s.ring.Spec().SegmentTotal
		d.WriteSegments = s.ring.WriteSegments()
	}
	if s.overflow != nil {
		d.OverflowBytes = s.overflow.Len()
	}
	if s.drain != nil {
		d.DeviceLost = s.drain.DeviceLost()
	}
	if s.producer != nil {
		d.NextSample = s.producer.NextSample()
	}
	return d
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
