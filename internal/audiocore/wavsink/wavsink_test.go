package wavsink

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobal(logger.NewSlogLogger(io.Discard, logger.LogLevelTrace))
	os.Exit(m.Run())
}

func s16(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func readBack(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return dec, buf.Data
}

func TestSinkWritesPCM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "capture.wav")
	format := audiocore.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

	sink, err := Create(path, format)
	require.NoError(t, err)

	require.NoError(t, sink.Write(&audiocore.Buffer{Data: s16(1, -1, 2, -2), Offset: 0, OffsetEnd: 2}))
	require.NoError(t, sink.Write(&audiocore.Buffer{Data: s16(3, -3), Offset: 2, OffsetEnd: 3}))
	assert.Equal(t, uint64(3), sink.Frames())
	require.NoError(t, sink.Close())

	dec, data := readBack(t, path)
	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, []int{1, -1, 2, -2, 3, -3}, data)
}

func TestSinkGapFill(t *testing.T) {
	tests := []struct {
		name     string
		fill     bool
		wantData []int
		wantGaps uint64
	}{
		{"gap filled with silence", true, []int{7, 0, 0, 9}, 1},
		{"gap ignored", false, []int{7, 9}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "gap.wav")
			sink, err := Create(path, audiocore.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}, WithGapFill(tt.fill))
			require.NoError(t, err)

			require.NoError(t, sink.Write(&audiocore.Buffer{Data: s16(7), Offset: 10, OffsetEnd: 11}))
			require.NoError(t, sink.Write(&audiocore.Buffer{Data: s16(9), Offset: 13, OffsetEnd: 14, Discontinuous: true}))
			assert.Equal(t, tt.wantGaps, sink.Gaps())
			require.NoError(t, sink.Close())

			_, data := readBack(t, path)
			assert.Equal(t, tt.wantData, data)
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		format audiocore.Format
		data   []byte
		want   []int
	}{
		{"s16", audiocore.Format{BitDepth: 16}, s16(-32768, 32767), []int{-32768, 32767}},
		{"s24 sign extension", audiocore.Format{BitDepth: 24}, []byte{0xff, 0xff, 0xff, 0x01, 0x00, 0x00}, []int{-1, 1}},
		{"s32", audiocore.Format{BitDepth: 32}, []byte{0xfe, 0xff, 0xff, 0xff}, []int{-2}},
		{"partial sample dropped", audiocore.Format{BitDepth: 16}, []byte{1, 0, 2}, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decode(nil, tt.data, tt.format))
		})
	}

	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-0.5))
	got := decode(nil, f32, audiocore.Format{BitDepth: 32, Encoding: audiocore.EncodingF32LE})
	assert.Equal(t, []int{math.MaxInt32, -math.MaxInt32 / 2}, got)
}

func TestCreateRejectsInvalidFormat(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "x.wav"), audiocore.Format{SampleRate: 48000, Channels: 2, BitDepth: 8})
	require.ErrorIs(t, err, audiocore.ErrConfiguration)
}
