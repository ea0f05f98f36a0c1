// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation names used as label values by Recorder implementations.
const (
	// OpPull is one consumer pull through the buffer producer.
	OpPull = "pull"
	// OpDrain is one capture drain loop read.
	OpDrain = "drain"
	// OpResync is a clock slaving resync.
	OpResync = "resync"
	// OpWAVWrite is a write of pulled audio to a WAV sink.
	OpWAVWrite = "wav_write"
	// OpEventPublish is a session event published over MQTT.
	OpEventPublish = "event_publish"
)

// Status label values.
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusFlushed    = "flushed"
	StatusBestEffort = "best_effort"
	// StatusDiscontinuous is a successful pull that skipped samples.
	StatusDiscontinuous = "discontinuous"
)

const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
)
