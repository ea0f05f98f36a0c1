// Package audiocore turns bursty device capture into fixed-size, timestamped
// buffers that a downstream consumer pulls on its own clock.
//
// # Architecture Overview
//
// A capture session wires the following pieces together:
//
//   - CaptureSource: the device driver adapter (see sources/malgo and sources/synthetic)
//   - DrainLoop: empties the driver on every readiness signal, spilling extra frames
//   - OverflowBuffer: holds spilled frames until the next drain
//   - RingBuffer: segment ring filled by the pump goroutine
//   - Producer: assembles pulls, detects discontinuities and stamps buffers
//   - ClockSlaver: keeps the read position aligned with the pipeline clock
//
// Data flows in one direction:
//
//	device -> CaptureSource -> DrainLoop -> RingBuffer -> Producer -> ClockSlaver -> *Buffer
//
// # Concurrency and Thread Safety
//
// A running session has exactly two goroutines touching audio data:
//
//   - the pump, which calls DrainLoop.Read and commits segments to the ring
//   - the consumer, which calls Session.Pull
//
// The ring's write counter and state are atomics. The restart flag shared by
// Reset and the drain loop is the only mutex-guarded state. Stop closes a
// channel and is permanent for the lifetime of the loop.
//
// # Lifecycle
//
//  1. NewSession: binds configuration and a source
//  2. Prepare: opens the device, sizes the ring and overflow, registers the device watcher
//  3. Start: launches the pump
//  4. Pull / Reset: consume buffers, flush on seek
//  5. Stop: halts the pump
//  6. Unprepare: unregisters the watcher and closes the device
//
// Every failing step in Prepare unwinds what it already acquired.
package audiocore
