package audiocore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/audiosrc/internal/errors"
)

// RingState is the state of a RingBuffer
type RingState int32

const (
	// RingStopped is an acquired ring that is not being filled
	RingStopped RingState = iota
	// RingRunning is a ring the pump is filling
	RingRunning
	// RingError is a ring whose producer failed; readers must abort
	RingError
)

func (s RingState) String() string {
	switch s {
	case RingStopped:
		return "stopped"
	case RingRunning:
		return "running"
	case RingError:
		return "error"
	default:
		return "unknown"
	}
}

// RingSpec sizes a RingBuffer
type RingSpec struct {
	SegmentSize   int // bytes per segment
	SegmentTotal  int // number of segments
	BytesPerFrame int
}

// SamplesPerSegment returns the number of frames in one segment.
func (s RingSpec) SamplesPerSegment() uint64 {
	if s.BytesPerFrame == 0 {
		return 0
	}
	return uint64(s.SegmentSize / s.BytesPerFrame)
}

// RingBuffer is a fixed ring of equally sized segments. One goroutine commits
// whole segments, one goroutine reads frames at absolute sample positions.
//
// segdone counts committed segments since Acquire and only grows; segment n
// maps to sample n*SamplesPerSegment. It is read lock-free but only changed
// under mem, so a commit's slot and its counter bump are one step. A reader
// whose position falls more than SegmentTotal segments behind gets silence
// for the lapped segments instead of stale data.
type RingBuffer struct {
	spec RingSpec
	sps  uint64

	// mem guards segment memory and per-segment timestamps; the copies are
	// short and never block on I/O.
	mem        sync.Mutex
	memory     []byte
	timestamps []time.Duration
	tsValid    []bool

	segdone atomic.Uint64
	state   atomic.Int32

	committed chan struct{}
}

// NewRingBuffer returns an empty ring; call Acquire before use.
func NewRingBuffer() *RingBuffer {
	return &RingBuffer{committed: make(chan struct{}, 1)}
}

// Acquire allocates segment memory for spec and resets all counters.
func (r *RingBuffer) Acquire(spec RingSpec) error {
	if spec.SegmentSize <= 0 || spec.BytesPerFrame <= 0 || spec.SegmentSize%spec.BytesPerFrame != 0 {
		return newConfigError("ring_acquire", "segment size %d is not a whole number of %d-byte frames",
			spec.SegmentSize, spec.BytesPerFrame)
	}
	if spec.SegmentTotal < MinSegments {
		return newConfigError("ring_acquire", "segment total %d below minimum %d", spec.SegmentTotal, MinSegments)
	}

	r.mem.Lock()
	r.spec = spec
	r.sps = spec.SamplesPerSegment()
	r.memory = make([]byte, spec.SegmentSize*spec.SegmentTotal)
	r.timestamps = make([]time.Duration, spec.SegmentTotal)
	r.tsValid = make([]bool, spec.SegmentTotal)
	r.segdone.Store(0)
	r.mem.Unlock()

	r.state.Store(int32(RingStopped))
	return nil
}

// Release frees segment memory.
func (r *RingBuffer) Release() {
	r.mem.Lock()
	r.memory = nil
	r.timestamps = nil
	r.tsValid = nil
	r.mem.Unlock()
}

// Spec returns the sizing the ring was acquired with.
func (r *RingBuffer) Spec() RingSpec {
	return r.spec
}

// SamplesPerSegment returns the frames held by one segment.
func (r *RingBuffer) SamplesPerSegment() uint64 {
	return r.sps
}

// Start marks the ring as running.
func (r *RingBuffer) Start() {
	r.state.Store(int32(RingRunning))
}

// Stop marks the ring as stopped and wakes a waiting reader.
func (r *RingBuffer) Stop() {
	r.state.CompareAndSwap(int32(RingRunning), int32(RingStopped))
	r.notify()
}

// SetError puts the ring in its error state and wakes a waiting reader.
func (r *RingBuffer) SetError() {
	r.state.Store(int32(RingError))
	r.notify()
}

// State returns the current ring state.
func (r *RingBuffer) State() RingState {
	return RingState(r.state.Load())
}

// WriteSegments returns the number of segments committed or skipped since Acquire.
func (r *RingBuffer) WriteSegments() uint64 {
	return r.segdone.Load()
}

// Advance moves the write counter forward by n segments without writing,
// used by clock slaving to skip the reader past stale data. The next commit
// lands in the segment after the skipped ones.
func (r *RingBuffer) Advance(n uint64) {
	if n == 0 {
		return
	}
	r.mem.Lock()
	r.segdone.Add(n)
	r.mem.Unlock()
	r.notify()
}

// Committed returns a channel that receives after each commit, Advance or
// state change. It holds at most one pending signal.
func (r *RingBuffer) Committed() <-chan struct{} {
	return r.committed
}

// CommitSegment copies one segment into the ring without a capture timestamp.
func (r *RingBuffer) CommitSegment(seg []byte) error {
	return r.commit(seg, 0, false)
}

// CommitSegmentAt copies one segment into the ring together with the capture
// time of its first frame.
func (r *RingBuffer) CommitSegmentAt(seg []byte, ts time.Duration) error {
	return r.commit(seg, ts, true)
}

func (r *RingBuffer) commit(seg []byte, ts time.Duration, valid bool) error {
	if len(seg) != r.spec.SegmentSize {
		return errors.Newf("segment is %d bytes, ring expects %d", len(seg), r.spec.SegmentSize).
			Component(ComponentAudioCore).
			Category(errors.CategoryBuffer).
			Context("operation", "ring_commit").
			Build()
	}

	r.mem.Lock()
	if r.memory == nil {
		r.mem.Unlock()
		return newError(ErrRingBufferError, errors.CategoryBuffer, "ring_commit", "ring not acquired")
	}
	slot := r.segdone.Load() % uint64(r.spec.SegmentTotal)
	off := int(slot) * r.spec.SegmentSize
	copy(r.memory[off:off+r.spec.SegmentSize], seg)
	r.timestamps[slot] = ts
	r.tsValid[slot] = valid
	r.segdone.Add(1)
	r.mem.Unlock()

	r.notify()
	return nil
}

// Read copies up to frames frames starting at absolute position sample into
// dst. It never blocks; it stops at the first segment that has not been
// committed yet. Segments the writer has already lapped read as silence.
// The returned timestamp belongs to the last segment touched and is only
// meaningful when ok is true.
func (r *RingBuffer) Read(sample uint64, dst []byte, frames int) (read int, timestamp time.Duration, ok bool) {
	if r.sps == 0 || frames <= 0 {
		return 0, 0, false
	}

	bpf := r.spec.BytesPerFrame
	total := uint64(r.spec.SegmentTotal)

	r.mem.Lock()
	defer r.mem.Unlock()
	if r.memory == nil {
		return 0, 0, false
	}

	for read < frames {
		readSeg := sample / r.sps
		sampleOff := sample % r.sps
		chunk := min(int(r.sps-sampleOff), frames-read)
		out := dst[read*bpf : (read+chunk)*bpf]

		done := r.segdone.Load()
		if readSeg >= done {
			break
		}

		slot := readSeg % total
		if done-readSeg >= total {
			clear(out)
			ok = false
		} else {
			off := int(slot)*r.spec.SegmentSize + int(sampleOff)*bpf
			copy(out, r.memory[off:off+len(out)])
			timestamp, ok = r.timestamps[slot], r.tsValid[slot]
		}

		read += chunk
		sample += uint64(chunk)
	}
	return read, timestamp, ok
}

func (r *RingBuffer) notify() {
	select {
	case r.committed <- struct{}{}:
	default:
	}
}
