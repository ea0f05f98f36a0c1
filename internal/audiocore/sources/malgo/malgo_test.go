package malgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiosrc/internal/audiocore"
)

func TestSourceBeforeOpen(t *testing.T) {
	s := New()

	_, err := s.Position()
	require.ErrorIs(t, err, audiocore.ErrConfiguration)
	require.ErrorIs(t, s.Start(), audiocore.ErrConfiguration)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Close())

	padding, err := s.Padding()
	require.NoError(t, err)
	assert.Zero(t, padding)
}

func TestSourceStopCallbackInvalidates(t *testing.T) {
	s := New()
	s.queue = audiocore.NewBurstQueue(4, 100)
	s.format = audiocore.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

	s.onData(nil, make([]byte, 480*4), 480)
	ticks, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), ticks, "480 frames at 48kHz is 10ms")

	s.stopping.Store(true)
	s.onStop()
	_, err = s.FetchBurst()
	require.NoError(t, err, "requested stop is not a device loss")

	s.stopping.Store(false)
	s.onStop()
	_, err = s.FetchBurst()
	require.ErrorIs(t, err, audiocore.ErrDeviceInvalidated)
}
