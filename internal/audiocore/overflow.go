package audiocore

import (
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/audiosrc/internal/errors"
)

// OverflowBuffer holds frames the driver delivered beyond what a read asked
// for. It is FIFO and bounded; the drain loop serves it before touching the
// device again. Only the pump goroutine uses it, so it is not locked.
type OverflowBuffer struct {
	rb *ringbuffer.RingBuffer
}

// NewOverflowBuffer creates an overflow buffer sized for the given segment size.
func NewOverflowBuffer(segmentSize int) *OverflowBuffer {
	return &OverflowBuffer{rb: ringbuffer.New(OverflowSegments * segmentSize)}
}

// Push appends as much of p as fits. When p exceeds the free space the
// tail is dropped and ErrOverflowCapacityExceeded is returned; the bytes that
// did fit stay queued.
func (o *OverflowBuffer) Push(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	free := o.rb.Free()
	n := min(len(p), free)
	if n > 0 {
		if _, err := o.rb.Write(p[:n]); err != nil {
			return errors.New(err).
				Component(ComponentAudioCore).
				Category(errors.CategoryBuffer).
				Context("operation", "overflow_push").
				Build()
		}
	}

	if n < len(p) {
		return errors.New(ErrOverflowCapacityExceeded).
			Component(ComponentAudioCore).
			Category(errors.CategoryBuffer).
			Context("operation", "overflow_push").
			Context("wanted_bytes", len(p)).
			Context("free_bytes", free).
			Context("capacity_bytes", o.rb.Capacity()).
			Build()
	}
	return nil
}

// Pop copies the oldest min(Len(), len(dst)) bytes into dst and returns the count.
func (o *OverflowBuffer) Pop(dst []byte) int {
	n := min(o.rb.Length(), len(dst))
	if n == 0 {
		return 0
	}
	read, _ := o.rb.Read(dst[:n])
	return read
}

// Len returns the number of queued bytes.
func (o *OverflowBuffer) Len() int {
	return o.rb.Length()
}

// Cap returns the capacity in bytes.
func (o *OverflowBuffer) Cap() int {
	return o.rb.Capacity()
}

// Reset discards all queued bytes.
func (o *OverflowBuffer) Reset() {
	o.rb.Reset()
}
