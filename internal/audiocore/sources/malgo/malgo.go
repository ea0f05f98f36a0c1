// Package malgo provides a miniaudio capture source for audiocore sessions.
// On Windows it drives WASAPI, including loopback and exclusive mode.
package malgo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
)

// Roles accepted in DeviceSelector.Role. miniaudio has no stream roles so
// the value is validated and logged only.
var validRoles = map[string]bool{"": true, "console": true, "multimedia": true, "communications": true}

// Option configures a Source
type Option func(*Source)

// WithPollInterval sets how often the default device is checked.
func WithPollInterval(d time.Duration) Option {
	return func(s *Source) { s.pollInterval = d }
}

// WithLogger overrides the source logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) { s.log = l }
}

// Source captures from a miniaudio device. It implements
// audiocore.CaptureSource, audiocore.DeviceWatcher and audiocore.DeviceClock.
type Source struct {
	audiocore.ListenerSet

	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	endpoint Endpoint
	format   audiocore.Format
	queue    *audiocore.BurstQueue
	watcher  *defaultWatcher

	pollInterval time.Duration
	log          logger.Logger

	stopping    atomic.Bool // Stop requested, the stop callback is expected
	invalidated atomic.Bool
}

// New returns an unopened Source.
func New(opts ...Option) *Source {
	s := &Source{}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("audiocore").Module("malgo")
	}
	return s
}

// Open initialises the miniaudio context and device for sel.
func (s *Source) Open(ctx context.Context, sel audiocore.DeviceSelector) (audiocore.Format, audiocore.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, configError("open_device", "source already open")
	}
	if !validRoles[sel.Role] {
		return audiocore.Format{}, audiocore.DeviceInfo{}, configError("open_device", fmt.Sprintf("unknown device role %q", sel.Role))
	}
	sampleFormat, err := formatType(sel.Format)
	if err != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, err
	}
	backend, err := backendForPlatform(sel.Loopback)
	if err != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, err
	}

	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		s.log.Trace("miniaudio", logger.String("message", message))
	})
	if err != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, openError(err, "init_context")
	}

	format, info, err := s.openDevice(ctx, mctx, sel, sampleFormat)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return audiocore.Format{}, audiocore.DeviceInfo{}, err
	}
	s.mctx = mctx

	if sel.FollowsDefault() {
		_, devType := endpointKind(sel.Loopback)
		s.watcher = newDefaultWatcher(func() (string, error) {
			endpoints, err := enumerate(mctx, devType)
			if err != nil {
				return "", err
			}
			ep, _ := defaultEndpoint(endpoints)
			return ep.ID, nil
		}, s.Notify, s.pollInterval, s.log)
		s.watcher.start()
	}

	s.log.Info("capture device opened",
		logger.String("device", info.Name),
		logger.String("format", format.String()),
		logger.String("role", sel.Role),
		logger.Bool("loopback", sel.Loopback),
		logger.Bool("exclusive", sel.Exclusive),
		logger.Bool("low_latency", sel.LowLatency || sel.UseAudioClient3))
	return format, info, nil
}

func (s *Source) openDevice(ctx context.Context, mctx *malgo.AllocatedContext, sel audiocore.DeviceSelector, sampleFormat malgo.FormatType) (audiocore.Format, audiocore.DeviceInfo, error) {
	endpoints, err := cachedEndpoints(mctx, sel.Loopback)
	if err != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, err
	}
	ep, err := SelectEndpoint(endpoints, sel.DeviceID)
	if err != nil && !sel.FollowsDefault() {
		return audiocore.Format{}, audiocore.DeviceInfo{}, err
	}

	devType := malgo.Capture
	if sel.Loopback {
		devType = malgo.Loopback
	}
	cfg := malgo.DefaultDeviceConfig(devType)
	cfg.Capture.Format = sampleFormat
	cfg.Capture.Channels = uint32(sel.Format.Channels)
	cfg.SampleRate = uint32(sel.Format.SampleRate)
	cfg.Alsa.NoMMap = 1
	if !sel.FollowsDefault() {
		cfg.Capture.DeviceID = ep.raw.Pointer()
	}
	if sel.Exclusive {
		cfg.Capture.ShareMode = malgo.Exclusive
	}
	if sel.LowLatency || sel.UseAudioClient3 {
		cfg.PerformanceProfile = malgo.LowLatency
	} else {
		cfg.PerformanceProfile = malgo.Conservative
	}
	if sel.PeriodFrames > 0 {
		cfg.PeriodSizeInFrames = uint32(sel.PeriodFrames)
		if sel.BufferFrames > sel.PeriodFrames {
			cfg.Periods = uint32(sel.BufferFrames / sel.PeriodFrames)
		}
	}

	if err := ctx.Err(); err != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, openError(err, "init_device")
	}

	s.invalidated.Store(false)
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, errors.New(fmt.Errorf("%w: %w", audiocore.ErrDeviceOpen, err)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			Context("operation", "init_device").
			DeviceContext(sel.DeviceID, sel.Loopback).
			Build()
	}

	format, err := negotiatedFormat(device.CaptureFormat(), device.CaptureChannels(), device.SampleRate())
	if err != nil {
		device.Uninit()
		return audiocore.Format{}, audiocore.DeviceInfo{}, err
	}

	queueFrames := max(sel.BufferFrames*4, format.SampleRate)
	s.queue = audiocore.NewBurstQueue(format.BytesPerFrame(), queueFrames)
	s.device = device
	s.endpoint = ep
	s.format = format

	return format, audiocore.DeviceInfo{
		ID:           ep.ID,
		Name:         ep.Name,
		PeriodFrames: sel.PeriodFrames,
		BufferFrames: sel.BufferFrames,
	}, nil
}

// onData runs on the miniaudio thread.
func (s *Source) onData(_, input []byte, frameCount uint32) {
	q := s.queue
	if q == nil {
		return
	}
	if dropped := q.Push(input, int(frameCount)); dropped > 0 {
		s.log.Debug("capture queue full, dropped oldest frames", logger.Int("frames", dropped))
	}
}

// onStop runs when the device stops. An unrequested stop means the endpoint
// went away.
func (s *Source) onStop() {
	if s.stopping.Load() {
		return
	}
	s.invalidated.Store(true)
	s.log.Warn("capture device stopped unexpectedly")
	if q := s.queue; q != nil {
		q.Signal()
	}
}

// Start starts the device.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return configError("start_device", "source not open")
	}
	s.stopping.Store(false)
	if err := s.device.Start(); err != nil {
		return openError(err, "start_device")
	}
	return nil
}

// Stop stops the device. Queued bursts stay until Reset.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	s.stopping.Store(true)
	if !s.device.IsStarted() {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return errors.New(fmt.Errorf("%w: %w", audiocore.ErrDriverBuffer, err)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudio).
			Context("operation", "stop_device").
			Build()
	}
	return nil
}

// Reset discards queued bursts.
func (s *Source) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		s.queue.Reset()
	}
	return nil
}

// Ready is signalled after every data callback.
func (s *Source) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return nil
	}
	return s.queue.Ready()
}

// FetchBurst returns the oldest queued burst.
func (s *Source) FetchBurst() (audiocore.Burst, error) {
	if s.invalidated.Load() {
		return audiocore.Burst{}, audiocore.ErrDeviceInvalidated
	}
	return s.queue.Fetch()
}

// Release frees the burst returned by the last FetchBurst.
func (s *Source) Release(frames int) error {
	return s.queue.Release(frames)
}

// Padding returns the frames queued but not fetched.
func (s *Source) Padding() (int, error) {
	if s.queue == nil {
		return 0, nil
	}
	return s.queue.Padding(), nil
}

// Position returns the captured frame count in 100ns device ticks.
func (s *Source) Position() (uint64, error) {
	if s.queue == nil || s.format.SampleRate == 0 {
		return 0, configError("device_position", "source not open")
	}
	frames := s.queue.Captured()
	rate := uint64(s.format.SampleRate)
	return frames/rate*audiocore.DeviceTicksPerSecond + frames%rate*audiocore.DeviceTicksPerSecond/rate, nil
}

// Close stops watching, uninitialises the device and the context.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.close()
		s.watcher = nil
	}
	if s.device != nil {
		s.stopping.Store(true)
		s.device.Uninit()
		s.device = nil
	}
	var err error
	if s.mctx != nil {
		if uerr := s.mctx.Uninit(); uerr != nil {
			err = errors.New(uerr).
				Component(audiocore.ComponentAudioCore).
				Category(errors.CategoryAudioSource).
				Context("operation", "uninit_context").
				Build()
		}
		s.mctx.Free()
		s.mctx = nil
	}
	s.log.Debug("capture device closed", logger.String("device", s.endpoint.Name))
	return err
}

var (
	_ audiocore.CaptureSource = (*Source)(nil)
	_ audiocore.DeviceWatcher = (*Source)(nil)
	_ audiocore.DeviceClock   = (*Source)(nil)
)
