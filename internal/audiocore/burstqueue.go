package audiocore

import (
	"fmt"
	"sync"

	"github.com/tphakala/audiosrc/internal/errors"
)

// queuedBurst is one data callback's worth of frames
type queuedBurst struct {
	data   []byte
	frames int
	flags  BurstFlags
}

// BurstQueue stands in for a driver capture buffer in sources whose
// platform API pushes data from a callback. The callback side pushes, the
// drain loop fetches and releases the head.
type BurstQueue struct {
	mu        sync.Mutex
	bursts    []queuedBurst
	frames    int
	maxFrames int
	bpf       int
	fetched   bool // head handed out and not yet released
	orphan    int  // frames of a fetched head discarded by Reset, 0 if none
	captured  uint64

	ready chan struct{}
}

// Ready is signalled after every Push.
func (q *BurstQueue) Ready() <-chan struct{} {
	return q.ready
}

// NewBurstQueue returns a queue holding at most maxFrames frames of bpf bytes.
func NewBurstQueue(bpf, maxFrames int) *BurstQueue {
	return &BurstQueue{
		bpf:       bpf,
		maxFrames: maxFrames,
		ready:     make(chan struct{}, 1),
	}
}

// Push copies data into the queue and returns the frames dropped to make
// room. Only bursts not currently fetched are dropped.
func (q *BurstQueue) Push(data []byte, frames int) int {
	return q.PushFlagged(data, frames, 0)
}

// PushFlagged is Push with driver flags attached to the burst. Silent bursts
// carry no data.
func (q *BurstQueue) PushFlagged(data []byte, frames int, flags BurstFlags) int {
	if frames <= 0 {
		return 0
	}
	buf := make([]byte, frames*q.bpf)
	if !flags.Has(BurstSilent) {
		copy(buf, data)
	}

	q.mu.Lock()
	droppedFrames := 0
	keep := 0
	if q.fetched && q.orphan == 0 {
		keep = 1
	}
	for q.frames+frames > q.maxFrames && len(q.bursts) > keep {
		victim := q.bursts[keep]
		q.bursts = append(q.bursts[:keep], q.bursts[keep+1:]...)
		q.frames -= victim.frames
		droppedFrames += victim.frames
	}

	// the gap sits in front of the oldest surviving burst
	if droppedFrames > 0 {
		if len(q.bursts) > keep {
			q.bursts[keep].flags |= BurstDiscontinuity
		} else {
			flags |= BurstDiscontinuity
		}
	}
	q.bursts = append(q.bursts, queuedBurst{data: buf, frames: frames, flags: flags})
	q.frames += frames
	q.captured += uint64(frames)
	q.mu.Unlock()

	q.Signal()
	return droppedFrames
}

// Signal wakes a waiting reader without queueing data.
func (q *BurstQueue) Signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Fetch returns the head burst without removing it, or ErrBurstEmpty.
func (q *BurstQueue) Fetch() (Burst, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.bursts) == 0 {
		return Burst{}, ErrBurstEmpty
	}
	head := q.bursts[0]
	q.fetched = true
	q.orphan = 0
	return Burst{Data: head.data, Frames: head.frames, Flags: head.flags}, nil
}

// Release removes the fetched head. frames must cover the whole burst.
func (q *BurstQueue) Release(frames int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.fetched && q.orphan > 0 {
		if frames != q.orphan {
			return releaseError(fmt.Sprintf("released %d frames of a %d frame burst", frames, q.orphan))
		}
		q.fetched = false
		q.orphan = 0
		return nil
	}
	if !q.fetched || len(q.bursts) == 0 {
		return releaseError("release without fetched burst")
	}
	if head := q.bursts[0]; frames != head.frames {
		return releaseError(fmt.Sprintf("released %d frames of a %d frame burst", frames, head.frames))
	}
	q.frames -= q.bursts[0].frames
	q.bursts[0] = queuedBurst{}
	q.bursts = q.bursts[1:]
	q.fetched = false
	return nil
}

// Reset discards everything queued. A head fetched before the reset stays
// releasable so a drain in progress finishes cleanly.
func (q *BurstQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fetched && q.orphan == 0 && len(q.bursts) > 0 {
		q.orphan = q.bursts[0].frames
	}
	q.bursts = nil
	q.frames = 0
}

// Padding returns the queued frames.
func (q *BurstQueue) Padding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames
}

// Captured returns the frames pushed since creation.
func (q *BurstQueue) Captured() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.captured
}

func releaseError(msg string) error {
	return newError(ErrDriverBuffer, errors.CategoryAudio, "release_buffer", "%s", msg)
}
