// Package wavsink writes pulled capture buffers to a WAV file.
package wavsink

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
)

const (
	pcmFormat = 1 // WAVE_FORMAT_PCM

	// maxGapFrames caps the silence inserted for one discontinuity
	maxGapFrames = 10 * audiocore.MaxSampleRate
)

// Option configures a Sink
type Option func(*Sink)

// WithGapFill inserts silence for frames skipped between discontinuous
// buffers so the file keeps the capture timeline.
func WithGapFill(enabled bool) Option {
	return func(s *Sink) { s.fillGaps = enabled }
}

// Sink encodes buffers as PCM WAV. Float input is stored as 32-bit integer PCM.
type Sink struct {
	file   *os.File
	enc    *wav.Encoder
	format audiocore.Format
	buf    *audio.IntBuffer

	fillGaps bool
	lastEnd  uint64
	started  bool
	frames   uint64
	gaps     uint64

	log logger.Logger
}

// Create creates path, including missing directories, and returns a sink writing to it.
func Create(path string, format audiocore.Format, opts ...Option) (*Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fileError(err, "create_directory", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fileError(err, "create_file", path)
	}

	s, err := New(f, format, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// New returns a sink encoding to w. The caller owns w unless it came from Create.
func New(w io.WriteSeeker, format audiocore.Format, opts ...Option) (*Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	s := &Sink{
		enc:    wav.NewEncoder(w, format.SampleRate, format.BitDepth, format.Channels, pcmFormat),
		format: format,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
			SourceBitDepth: format.BitDepth,
		},
		log: logger.Global().Module("audiocore").Module("wavsink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Write appends b. Frames skipped since the previous buffer are filled with
// silence when gap filling is on.
func (s *Sink) Write(b *audiocore.Buffer) error {
	if s.fillGaps && s.started && b.Offset > s.lastEnd {
		gap := min(b.Offset-s.lastEnd, maxGapFrames)
		if err := s.writeSilence(int(gap)); err != nil {
			return err
		}
		s.gaps++
		s.log.Debug("filled capture gap with silence", logger.Uint64("frames", gap))
	}

	s.buf.Data = decode(s.buf.Data[:0], b.Data, s.format)
	if err := s.enc.Write(s.buf); err != nil {
		return encodeError(err)
	}

	s.frames += uint64(s.format.BytesToFrames(len(b.Data)))
	s.lastEnd = b.OffsetEnd
	s.started = true
	return nil
}

func (s *Sink) writeSilence(frames int) error {
	n := frames * s.format.Channels
	if cap(s.buf.Data) < n {
		s.buf.Data = make([]int, n)
	}
	s.buf.Data = s.buf.Data[:n]
	clear(s.buf.Data)
	if err := s.enc.Write(s.buf); err != nil {
		return encodeError(err)
	}
	s.frames += uint64(frames)
	return nil
}

// Frames returns the frames written, inserted silence included.
func (s *Sink) Frames() uint64 { return s.frames }

// Gaps returns the number of discontinuities filled with silence.
func (s *Sink) Gaps() uint64 { return s.gaps }

// Close finalises the WAV header and closes the file if the sink created it.
func (s *Sink) Close() error {
	err := s.enc.Close()
	if err != nil {
		err = encodeError(err)
	}
	if s.file != nil {
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = fileError(cerr, "close_file", s.file.Name())
		}
	}
	return err
}

// decode converts little-endian PCM to integer samples.
func decode(dst []int, data []byte, f audiocore.Format) []int {
	bps := f.BitDepth / 8
	for i := 0; i+bps <= len(data); i += bps {
		switch {
		case f.Encoding == audiocore.EncodingF32LE:
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
			v = max(-1, min(1, v))
			dst = append(dst, int(v*math.MaxInt32))
		case bps == 2:
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(data[i:]))))
		case bps == 3:
			x := int32(data[i]) | int32(data[i+1])<<8 | int32(data[i+2])<<16
			dst = append(dst, int(x<<8>>8))
		default:
			dst = append(dst, int(int32(binary.LittleEndian.Uint32(data[i:]))))
		}
	}
	return dst
}

func fileError(err error, operation, path string) error {
	return errors.New(err).
		Component("wavsink").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("path", path).
		Build()
}

func encodeError(err error) error {
	return errors.New(fmt.Errorf("wav encode: %w", err)).
		Component("wavsink").
		Category(errors.CategoryFileIO).
		Context("operation", "encode").
		Build()
}
