package audiocore

import "fmt"

// Sample encodings understood by the capture sources
const (
	EncodingS16LE = "s16le"
	EncodingS24LE = "s24le"
	EncodingS32LE = "s32le"
	EncodingF32LE = "f32le"
)

// Sample rate bounds accepted by Validate
const (
	MinSampleRate = 8000
	MaxSampleRate = 384000
	MaxChannels   = 32
)

// Format describes interleaved PCM as delivered by the device
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Encoding   string
}

// BytesPerFrame returns the size of one frame, all channels included.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// FramesToBytes converts a frame count to a byte count.
func (f Format) FramesToBytes(frames int) int {
	return frames * f.BytesPerFrame()
}

// BytesToFrames converts a byte count to whole frames, rounding down.
func (f Format) BytesToFrames(n int) int {
	bpf := f.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return n / bpf
}

// Validate checks that the format can drive a capture session.
func (f Format) Validate() error {
	switch {
	case f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate:
		return newConfigError("validate_format", "unsupported sample rate %d", f.SampleRate)
	case f.Channels <= 0 || f.Channels > MaxChannels:
		return newConfigError("validate_format", "unsupported channel count %d", f.Channels)
	}

	switch f.BitDepth {
	case 16, 24, 32:
	default:
		return newConfigError("validate_format", "unsupported bit depth %d", f.BitDepth)
	}

	switch f.Encoding {
	case "", EncodingS16LE, EncodingS24LE, EncodingS32LE:
	case EncodingF32LE:
		if f.BitDepth != 32 {
			return newConfigError("validate_format", "encoding %s requires 32-bit samples", f.Encoding)
		}
	default:
		return newConfigError("validate_format", "unsupported encoding %q", f.Encoding)
	}
	return nil
}

func (f Format) String() string {
	enc := f.Encoding
	if enc == "" {
		enc = fmt.Sprintf("s%dle", f.BitDepth)
	}
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, enc)
}
