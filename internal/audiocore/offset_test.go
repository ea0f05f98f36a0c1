package audiocore

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveReadSample(t *testing.T) {
	const sps, total = 960, 4

	tests := []struct {
		name  string
		next  uint64
		write uint64
		want  uint64
	}{
		{"first read aligns to write position", NoSample, 10, 10 * sps},
		{"first read on empty ring", NoSample, 0, 0},
		{"sequential continuation", 8*sps + 100, 10, 8*sps + 100},
		{"reader one ring behind drops forward", 6 * sps, 10, 10 * sps},
		{"reader just inside the ring", 7 * sps, 10, 7 * sps},
		{"reader ahead of writer waits", 12 * sps, 10, 12 * sps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveReadSample(tt.next, tt.write, sps, total))
		})
	}
}

func TestResolveReadSampleStaysWithinRing(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for range 10000 {
		sps := uint64(rng.IntN(2048) + 1)
		total := uint64(rng.IntN(16) + 3)
		write := uint64(rng.IntN(1 << 20))
		next := NoSample
		if rng.IntN(10) > 0 {
			next = uint64(rng.IntN(int(write+1))) * sps
		}

		got := ResolveReadSample(next, write, sps, total)
		readSeg := got / sps
		if readSeg <= write {
			assert.Less(t, write-readSeg, total, "next=%d write=%d sps=%d total=%d", next, write, sps, total)
		}
	}
}
