// Package synthetic provides a paced test-tone capture source. It behaves
// like a bursty driver: frames arrive in groups of periods on a real-time
// ticker, optionally flagged silent, and the device can be invalidated or
// the default device switched on demand.
package synthetic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
)

// DeviceID is the id the synthetic device reports
const DeviceID = "synthetic"

// Config shapes the generated signal
type Config struct {
	Frequency    float64          // tone frequency in Hz
	Amplitude    float64          // peak amplitude, 0..1
	BurstPeriods int              // periods delivered per wakeup
	SilentEvery  int              // flag every Nth burst silent, 0 never
	Format       audiocore.Format // used for fields the selector leaves zero
}

// DefaultConfig returns a 440 Hz tone at half scale, one period per burst.
func DefaultConfig() Config {
	return Config{
		Frequency:    440,
		Amplitude:    0.5,
		BurstPeriods: 1,
		Format: audiocore.Format{
			SampleRate: 48000,
			Channels:   2,
			BitDepth:   16,
			Encoding:   audiocore.EncodingS16LE,
		},
	}
}

// Source generates a sine tone. It implements audiocore.CaptureSource,
// audiocore.DeviceWatcher and audiocore.DeviceClock.
type Source struct {
	audiocore.ListenerSet

	cfg Config
	log logger.Logger

	mu     sync.Mutex
	format audiocore.Format
	period int
	queue  *audiocore.BurstQueue
	phase  float64
	bursts int
	stop   chan struct{}
	done   chan struct{}

	invalidated atomic.Bool
}

// New returns an unopened source.
func New(cfg Config) *Source {
	def := DefaultConfig()
	if cfg.Frequency <= 0 {
		cfg.Frequency = def.Frequency
	}
	if cfg.Amplitude <= 0 || cfg.Amplitude > 1 {
		cfg.Amplitude = def.Amplitude
	}
	if cfg.BurstPeriods <= 0 {
		cfg.BurstPeriods = def.BurstPeriods
	}
	return &Source{
		cfg: cfg,
		log: logger.Global().Module("audiocore").Module("synthetic"),
	}
}

// Open negotiates the format: selector fields win over the configured
// defaults.
func (s *Source) Open(_ context.Context, sel audiocore.DeviceSelector) (audiocore.Format, audiocore.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sel.DeviceID != "" && sel.DeviceID != DeviceID {
		return audiocore.Format{}, audiocore.DeviceInfo{}, errors.New(fmt.Errorf("%w: no synthetic device %q", audiocore.ErrDeviceOpen, sel.DeviceID)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			Context("operation", "open_device").
			Build()
	}

	f := mergeFormat(sel.Format, s.cfg.Format, DefaultConfig().Format)
	if err := f.Validate(); err != nil {
		return audiocore.Format{}, audiocore.DeviceInfo{}, err
	}

	s.format = f
	s.period = sel.PeriodFrames
	if s.period <= 0 {
		s.period = f.SampleRate / 100
	}
	s.queue = audiocore.NewBurstQueue(f.BytesPerFrame(), max(sel.BufferFrames*4, f.SampleRate))
	s.phase = 0
	s.bursts = 0
	s.invalidated.Store(false)

	info := audiocore.DeviceInfo{
		ID:           DeviceID,
		Name:         fmt.Sprintf("Synthetic %.0f Hz tone", s.cfg.Frequency),
		PeriodFrames: s.period,
		BufferFrames: sel.BufferFrames,
	}
	s.log.Debug("synthetic device opened",
		logger.String("format", f.String()),
		logger.Int("period_frames", s.period),
		logger.Int("burst_periods", s.cfg.BurstPeriods))
	return f, info, nil
}

func mergeFormat(formats ...audiocore.Format) audiocore.Format {
	var f audiocore.Format
	for _, c := range formats {
		if f.SampleRate == 0 {
			f.SampleRate = c.SampleRate
		}
		if f.Channels == 0 {
			f.Channels = c.Channels
		}
		if f.BitDepth == 0 {
			f.BitDepth, f.Encoding = c.BitDepth, c.Encoding
		}
	}
	if f.Encoding == "" {
		f.Encoding = fmt.Sprintf("s%dle", f.BitDepth)
	}
	return f
}

// Start launches the generator.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue == nil {
		return errors.New(fmt.Errorf("%w: source not open", audiocore.ErrConfiguration)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("operation", "start_device").
			Build()
	}
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	interval := time.Duration(s.period*s.cfg.BurstPeriods) * time.Second / time.Duration(s.format.SampleRate)
	go s.run(interval, s.stop, s.done)
	return nil
}

func (s *Source) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.generate()
		}
	}
}

// generate queues BurstPeriods periods, each as its own burst.
func (s *Source) generate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range s.cfg.BurstPeriods {
		s.bursts++
		var flags audiocore.BurstFlags
		if s.cfg.SilentEvery > 0 && s.bursts%s.cfg.SilentEvery == 0 {
			flags = audiocore.BurstSilent
		}
		data := s.synthesize(s.period)
		if dropped := s.queue.PushFlagged(data, s.period, flags); dropped > 0 {
			s.log.Debug("synthetic queue full, dropped oldest frames", logger.Int("frames", dropped))
		}
	}
}

// synthesize renders frames of the tone and advances the phase.
func (s *Source) synthesize(frames int) []byte {
	f := s.format
	bps := f.BitDepth / 8
	out := make([]byte, frames*f.BytesPerFrame())
	step := 2 * math.Pi * s.cfg.Frequency / float64(f.SampleRate)

	off := 0
	for range frames {
		v := s.cfg.Amplitude * math.Sin(s.phase)
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
		for range f.Channels {
			putSample(out[off:off+bps], v, f.Encoding)
			off += bps
		}
	}
	return out
}

// putSample encodes v in [-1, 1] little-endian.
func putSample(dst []byte, v float64, encoding string) {
	switch encoding {
	case audiocore.EncodingF32LE:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case audiocore.EncodingS32LE:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v*math.MaxInt32)))
	case audiocore.EncodingS24LE:
		x := int32(v * (1<<23 - 1))
		dst[0], dst[1], dst[2] = byte(x), byte(x>>8), byte(x>>16)
	default:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v*math.MaxInt16)))
	}
}

// Stop halts the generator and waits for it.
func (s *Source) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// Reset drops queued bursts.
func (s *Source) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		s.queue.Reset()
	}
	return nil
}

func (s *Source) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return nil
	}
	return s.queue.Ready()
}

func (s *Source) FetchBurst() (audiocore.Burst, error) {
	if s.invalidated.Load() {
		return audiocore.Burst{}, audiocore.ErrDeviceInvalidated
	}
	return s.queue.Fetch()
}

func (s *Source) Release(frames int) error {
	return s.queue.Release(frames)
}

func (s *Source) Padding() (int, error) {
	if s.queue == nil {
		return 0, nil
	}
	return s.queue.Padding(), nil
}

// Position returns generated frames in 100ns device ticks.
func (s *Source) Position() (uint64, error) {
	s.mu.Lock()
	rate := uint64(s.format.SampleRate)
	q := s.queue
	s.mu.Unlock()
	if q == nil || rate == 0 {
		return 0, audiocore.ErrDeviceOpen
	}
	frames := q.Captured()
	return frames/rate*audiocore.DeviceTicksPerSecond + frames%rate*audiocore.DeviceTicksPerSecond/rate, nil
}

// Close stops the generator.
func (s *Source) Close() error {
	return s.Stop()
}

// Invalidate simulates the device disappearing.
func (s *Source) Invalidate() {
	s.invalidated.Store(true)
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q != nil {
		q.Signal()
	}
}

// SwitchDefault simulates a change of the system default device.
func (s *Source) SwitchDefault() {
	s.Notify()
}

var (
	_ audiocore.CaptureSource = (*Source)(nil)
	_ audiocore.DeviceWatcher = (*Source)(nil)
	_ audiocore.DeviceClock   = (*Source)(nil)
)
