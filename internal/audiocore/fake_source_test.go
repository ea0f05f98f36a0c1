package audiocore

import (
	"context"
	"sync"
)

// scriptedBurst is one burst a fakeSource hands out
type scriptedBurst struct {
	data  []byte
	flags BurstFlags
}

// fakeSource is a scripted CaptureSource. Each batch is delivered on one
// readiness signal; the next batch is queued when the previous one is drained.
type fakeSource struct {
	ListenerSet

	mu          sync.Mutex
	format      Format
	device      DeviceInfo
	ready       chan struct{}
	queue       []scriptedBurst
	batches     [][]scriptedBurst
	invalidated bool
	fetchErr    error
	releaseErr  error
	openErr     error
	startErr    error

	fetches  int
	released []int
	starts   int
	stops    int
	resets   int
	closes   int
	opened   DeviceSelector
	padding  int
}

func newFakeSource(format Format) *fakeSource {
	return &fakeSource{
		format: format,
		device: DeviceInfo{ID: "fake-0", Name: "Fake Capture", PeriodFrames: 960},
		ready:  make(chan struct{}, 1),
	}
}

// deliver queues batches and signals readiness for the first one.
func (f *fakeSource) deliver(batches ...[]scriptedBurst) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batches...)
	if len(f.queue) == 0 {
		f.loadNextLocked()
	}
}

func (f *fakeSource) loadNextLocked() {
	if len(f.batches) == 0 {
		return
	}
	f.queue = append(f.queue, f.batches[0]...)
	f.batches = f.batches[1:]
	f.signal()
}

func (f *fakeSource) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *fakeSource) invalidate() {
	f.mu.Lock()
	f.invalidated = true
	f.mu.Unlock()
	f.signal()
}

func (f *fakeSource) Open(_ context.Context, sel DeviceSelector) (Format, DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = sel
	if f.openErr != nil {
		return Format{}, DeviceInfo{}, f.openErr
	}
	return f.format, f.device, nil
}

func (f *fakeSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSource) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeSource) Ready() <-chan struct{} { return f.ready }

func (f *fakeSource) FetchBurst() (Burst, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++

	switch {
	case f.invalidated:
		return Burst{}, ErrDeviceInvalidated
	case f.fetchErr != nil:
		return Burst{}, f.fetchErr
	case len(f.queue) == 0:
		f.loadNextLocked()
		return Burst{}, ErrBurstEmpty
	}

	b := f.queue[0]
	f.queue = f.queue[1:]
	return Burst{Data: b.data, Frames: len(b.data) / f.format.BytesPerFrame(), Flags: b.flags}, nil
}

func (f *fakeSource) Release(frames int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, frames)
	return f.releaseErr
}

func (f *fakeSource) Padding() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.padding, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// pattern returns n bytes counting up from seed.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func testFormat() Format {
	return Format{SampleRate: 48000, Channels: 2, BitDepth: 16, Encoding: EncodingS16LE}
}

func (f *fakeSource) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}
