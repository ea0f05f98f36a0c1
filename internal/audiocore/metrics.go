package audiocore

import (
	"time"

	"github.com/tphakala/audiosrc/internal/observability/metrics"
)

// MetricsCollector binds capture metrics to one session. A nil collector or
// one built from nil metrics records nothing, so components call it
// unconditionally.
type MetricsCollector struct {
	metrics   *metrics.CaptureMetrics
	recorder  metrics.Recorder
	sessionID string
}

// NewMetricsCollector returns a collector for sessionID. Either argument may be nil.
func NewMetricsCollector(m *metrics.CaptureMetrics, recorder metrics.Recorder, sessionID string) *MetricsCollector {
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	return &MetricsCollector{metrics: m, recorder: recorder, sessionID: sessionID}
}

func (mc *MetricsCollector) enabled() bool {
	return mc != nil && mc.metrics != nil
}

func (mc *MetricsCollector) setState(s State) {
	if mc.enabled() {
		mc.metrics.SetSessionState(mc.sessionID, int(s))
	}
}

func (mc *MetricsCollector) recordDeviceLost() {
	if mc.enabled() {
		mc.metrics.RecordDeviceLost(mc.sessionID)
	}
}

func (mc *MetricsCollector) recordBurst(bytes int, silent, discontinuous bool) {
	if mc.enabled() {
		mc.metrics.RecordBurst(mc.sessionID, bytes, silent, discontinuous)
	}
}

func (mc *MetricsCollector) recordOverflow(spilled, dropped, level int) {
	if mc.enabled() {
		mc.metrics.RecordOverflow(mc.sessionID, spilled, dropped, level)
	}
}

func (mc *MetricsCollector) recordDriverError() {
	if mc == nil {
		return
	}
	mc.recorder.RecordError(metrics.OpDrain, "driver_buffer")
	if mc.metrics != nil {
		mc.metrics.RecordDriverError(mc.sessionID)
	}
}

func (mc *MetricsCollector) recordDrain(status ReadStatus) {
	if mc == nil {
		return
	}
	switch status {
	case ReadFlushed:
		mc.recorder.RecordOperation(metrics.OpDrain, metrics.StatusFlushed)
	case ReadBestEffort:
		mc.recorder.RecordOperation(metrics.OpDrain, metrics.StatusBestEffort)
	default:
		mc.recorder.RecordOperation(metrics.OpDrain, metrics.StatusSuccess)
	}
}

func (mc *MetricsCollector) recordPull(status string, bytes int, elapsed time.Duration) {
	if mc == nil {
		return
	}
	mc.recorder.RecordOperation(metrics.OpPull, status)
	mc.recorder.RecordDuration(metrics.OpPull, elapsed.Seconds())
	if mc.metrics != nil {
		mc.metrics.RecordPull(mc.sessionID, status, bytes, elapsed.Seconds())
	}
}

func (mc *MetricsCollector) recordDiscontinuity(gapFrames uint64) {
	if mc.enabled() {
		mc.metrics.RecordDiscontinuity(mc.sessionID, gapFrames)
	}
}

func (mc *MetricsCollector) recordResync(drift bool) {
	if mc == nil {
		return
	}
	mc.recorder.RecordOperation(metrics.OpResync, metrics.StatusSuccess)
	if mc.metrics != nil {
		mc.metrics.RecordResync(mc.sessionID, drift)
	}
}

func (mc *MetricsCollector) setClockSkew(segments int64) {
	if mc.enabled() {
		mc.metrics.SetClockSkew(mc.sessionID, segments)
	}
}
