package synthetic

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiosrc/internal/audiocore"
)

func TestOpenNegotiatesFormat(t *testing.T) {
	tests := []struct {
		name       string
		sel        audiocore.DeviceSelector
		wantFormat audiocore.Format
		wantPeriod int
		wantErr    error
	}{
		{
			name:       "defaults",
			wantFormat: audiocore.Format{SampleRate: 48000, Channels: 2, BitDepth: 16, Encoding: audiocore.EncodingS16LE},
			wantPeriod: 480,
		},
		{
			name: "selector overrides",
			sel: audiocore.DeviceSelector{
				DeviceID:     DeviceID,
				Format:       audiocore.Format{SampleRate: 44100, Channels: 1, BitDepth: 32, Encoding: audiocore.EncodingF32LE},
				PeriodFrames: 441,
			},
			wantFormat: audiocore.Format{SampleRate: 44100, Channels: 1, BitDepth: 32, Encoding: audiocore.EncodingF32LE},
			wantPeriod: 441,
		},
		{
			name:    "unknown device",
			sel:     audiocore.DeviceSelector{DeviceID: "hw:1,0"},
			wantErr: audiocore.ErrDeviceOpen,
		},
		{
			name:    "unsupported depth",
			sel:     audiocore.DeviceSelector{Format: audiocore.Format{BitDepth: 12}},
			wantErr: audiocore.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(DefaultConfig())
			f, info, err := s.Open(context.Background(), tt.sel)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, f)
			assert.Equal(t, tt.wantPeriod, info.PeriodFrames)
			assert.Equal(t, DeviceID, info.ID)
			assert.Equal(t, "Synthetic 440 Hz tone", info.Name)
		})
	}
}

func TestGenerateQuarterRateTone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Frequency = 12000 // a quarter of the sample rate: 0, +A, 0, -A
	s := New(cfg)
	_, _, err := s.Open(context.Background(), audiocore.DeviceSelector{
		Format:       audiocore.Format{Channels: 1},
		PeriodFrames: 4,
	})
	require.NoError(t, err)

	s.generate()
	b, err := s.FetchBurst()
	require.NoError(t, err)
	require.Equal(t, 4, b.Frames)

	sample := func(i int) int16 { return int16(binary.LittleEndian.Uint16(b.Data[i*2:])) }
	assert.Equal(t, int16(0), sample(0))
	assert.Equal(t, int16(16383), sample(1))
	assert.InDelta(t, 0, sample(2), 1)
	assert.Equal(t, int16(-16383), sample(3))

	require.NoError(t, s.Release(4))
	ticks, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, uint64(4*audiocore.DeviceTicksPerSecond/48000), ticks)
}

func TestGenerateBurstsAndSilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BurstPeriods = 4
	cfg.SilentEvery = 2
	s := New(cfg)
	_, _, err := s.Open(context.Background(), audiocore.DeviceSelector{PeriodFrames: 100})
	require.NoError(t, err)

	s.generate()
	padding, err := s.Padding()
	require.NoError(t, err)
	assert.Equal(t, 400, padding)

	var silent int
	for {
		b, err := s.FetchBurst()
		if err != nil {
			require.ErrorIs(t, err, audiocore.ErrBurstEmpty)
			break
		}
		if b.Flags.Has(audiocore.BurstSilent) {
			silent++
			assert.Equal(t, make([]byte, len(b.Data)), b.Data)
		}
		require.NoError(t, s.Release(b.Frames))
	}
	assert.Equal(t, 2, silent)

	require.NoError(t, s.Reset())
}

func TestInvalidate(t *testing.T) {
	s := New(DefaultConfig())
	_, _, err := s.Open(context.Background(), audiocore.DeviceSelector{})
	require.NoError(t, err)

	s.Invalidate()
	select {
	case <-s.Ready():
	default:
		t.Fatal("invalidate did not wake the reader")
	}
	_, err = s.FetchBurst()
	require.ErrorIs(t, err, audiocore.ErrDeviceInvalidated)
}

func TestSessionOverSyntheticSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BurstPeriods = 3 // 30ms bursts against 20ms segments
	src := New(cfg)

	session := audiocore.NewSession(audiocore.SessionConfig{
		Selector:  audiocore.DeviceSelector{PeriodFrames: 960, BufferFrames: 4 * 960},
		SlaveMode: audiocore.SlaveSkew,
	}, src)
	require.NoError(t, session.Prepare(context.Background()))
	require.NoError(t, session.Start(context.Background()))
	defer func() { require.NoError(t, session.Unprepare()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := session.Pull(ctx, 0, nil)
	require.NoError(t, err)
	assert.Len(t, first.Data, 960*4)

	prev := first
	for range 5 {
		buf, err := session.Pull(ctx, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, prev.OffsetEnd, buf.Offset)
		assert.False(t, buf.Discontinuous)
		prev = buf
	}
}

func TestSessionReportsSyntheticDeviceLoss(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(s *Source)
	}{
		{"device invalidated", (*Source).Invalidate},
		{"default device switched", (*Source).SwitchDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := New(DefaultConfig())
			var lost atomic.Int32
			session := audiocore.NewSession(audiocore.SessionConfig{SlaveMode: audiocore.SlaveNone}, src,
				audiocore.WithDeviceWatcher(src),
				audiocore.WithDeviceLostHandler(func(string, error) { lost.Add(1) }))
			require.NoError(t, session.Prepare(context.Background()))
			require.NoError(t, session.Start(context.Background()))
			defer func() { require.NoError(t, session.Unprepare()) }()

			tt.trigger(src)
			require.Eventually(t, func() bool { return lost.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
		})
	}
}
