// dto.go: Payloads published for capture session events.
package mqtt

import (
	"time"

	"github.com/tphakala/audiosrc/internal/audiocore"
)

// EventType names a session event
type EventType string

const (
	EventDeviceLost      EventType = "device_lost"
	EventState           EventType = "state"
	EventDriftCorrection EventType = "drift_correction"
)

// SessionEvent is the JSON payload published on <topic>/events and, for
// state snapshots, on <topic>/state.
type SessionEvent struct {
	Type        EventType              `json:"type"`
	SessionID   string                 `json:"session_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Device      string                 `json:"device,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Corrections uint64                 `json:"corrections,omitempty"` // drift corrections since the previous snapshot
	Diagnostics *audiocore.Diagnostics `json:"diagnostics,omitempty"`
}
