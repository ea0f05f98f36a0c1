// Package metrics provides custom Prometheus metrics for the audiosrc capture service.
package metrics

import "sync"

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction rather than concrete metric types.
type Recorder interface {
	// RecordOperation records an operation with its status, e.g. ("wav_write", "success").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type, e.g. ("pull", "ring_buffer").
	RecordError(operation, errorType string)
}

// NoOpRecorder is a no-op implementation of the Recorder interface.
type NoOpRecorder struct{}

func (n *NoOpRecorder) RecordOperation(operation, status string)         {}
func (n *NoOpRecorder) RecordDuration(operation string, seconds float64) {}
func (n *NoOpRecorder) RecordError(operation, errorType string)          {}

// NewNoOpRecorder creates a new no-op recorder instance.
func NewNoOpRecorder() *NoOpRecorder {
	return &NoOpRecorder{}
}

// TestRecorder records calls in memory for assertions in tests.
type TestRecorder struct {
	mu         sync.Mutex
	operations map[string]int
	durations  map[string][]float64
	errors     map[string]int
}

// NewTestRecorder creates an empty TestRecorder.
func NewTestRecorder() *TestRecorder {
	return &TestRecorder{
		operations: make(map[string]int),
		durations:  make(map[string][]float64),
		errors:     make(map[string]int),
	}
}

func (t *TestRecorder) RecordOperation(operation, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operations[operation+":"+status]++
}

func (t *TestRecorder) RecordDuration(operation string, seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.durations[operation] = append(t.durations[operation], seconds)
}

func (t *TestRecorder) RecordError(operation, errorType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[operation+":"+errorType]++
}

// OperationCount returns how often operation was recorded with status.
func (t *TestRecorder) OperationCount(operation, status string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.operations[operation+":"+status]
}

// ErrorCount returns how often operation failed with errorType.
func (t *TestRecorder) ErrorCount(operation, errorType string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors[operation+":"+errorType]
}

// Durations returns the recorded durations for operation.
func (t *TestRecorder) Durations(operation string) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.durations[operation]...)
}
