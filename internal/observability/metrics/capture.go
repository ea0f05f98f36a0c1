// Package metrics provides capture session metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for capture sessions. Every
// vector is labelled by session so concurrent sessions stay distinguishable.
type CaptureMetrics struct {
	registry *prometheus.Registry

	// Generic Recorder metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec

	// Session lifecycle
	sessionState *prometheus.GaugeVec
	deviceLost   *prometheus.CounterVec

	// Drain loop
	bytesCaptured   *prometheus.CounterVec
	silentBursts    *prometheus.CounterVec
	burstGlitches   *prometheus.CounterVec
	overflowSpilled *prometheus.CounterVec
	overflowDropped *prometheus.CounterVec
	overflowLevel   *prometheus.GaugeVec
	driverErrors    *prometheus.CounterVec

	// Buffer producer
	pulls           *prometheus.CounterVec
	bytesPulled     *prometheus.CounterVec
	discontinuities *prometheus.CounterVec
	gapFrames       *prometheus.HistogramVec
	pullDuration    *prometheus.HistogramVec

	// Clock slaving
	timeshifted      *prometheus.CounterVec
	driftCorrections *prometheus.CounterVec
	clockSkew        *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewCaptureMetrics creates and registers new capture metrics
func NewCaptureMetrics(registry *prometheus.Registry) (*CaptureMetrics, error) {
	m := &CaptureMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	session := []string{"session_id"}

	m.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_operations_total",
		Help: "Total number of operations by outcome",
	}, []string{"operation", "status"})

	m.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audiosrc_operation_duration_seconds",
		Help:    "Duration of operations",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
	}, []string{"operation"})

	m.operationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_operation_errors_total",
		Help: "Total number of operation errors by type",
	}, []string{"operation", "error_type"})

	m.sessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audiosrc_session_state",
		Help: "Capture session state (0 idle, 1 prepared, 2 running, 3 stopped)",
	}, session)

	m.deviceLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_device_lost_total",
		Help: "Device loss notifications delivered",
	}, session)

	m.bytesCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_captured_bytes_total",
		Help: "Bytes copied from device bursts, silence included",
	}, session)

	m.silentBursts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_silent_bursts_total",
		Help: "Bursts flagged silent by the driver",
	}, session)

	m.burstGlitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_burst_discontinuities_total",
		Help: "Bursts flagged discontinuous by the driver",
	}, session)

	m.overflowSpilled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_overflow_spilled_bytes_total",
		Help: "Bytes spilled to the overflow buffer",
	}, session)

	m.overflowDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_overflow_dropped_bytes_total",
		Help: "Bytes dropped because the overflow buffer was full",
	}, session)

	m.overflowLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audiosrc_overflow_level_bytes",
		Help: "Bytes currently held in the overflow buffer",
	}, session)

	m.driverErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_driver_errors_total",
		Help: "Reads aborted by a driver buffer error",
	}, session)

	m.pulls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_pulls_total",
		Help: "Buffer pulls by outcome",
	}, []string{"session_id", "status"})

	m.bytesPulled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_pulled_bytes_total",
		Help: "Bytes delivered to the consumer",
	}, session)

	m.discontinuities = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_discontinuities_total",
		Help: "Output buffers marked discontinuous",
	}, session)

	m.gapFrames = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audiosrc_discontinuity_gap_frames",
		Help:    "Frames skipped at each discontinuity",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, session)

	m.pullDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audiosrc_pull_duration_seconds",
		Help:    "Time spent in a pull, including waits for the producer",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, session)

	m.timeshifted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_timeshifted_total",
		Help: "Clock slaving resyncs that moved the read position",
	}, session)

	m.driftCorrections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosrc_drift_corrections_total",
		Help: "Resyncs forced by drift exceeding the threshold",
	}, session)

	m.clockSkew = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audiosrc_clock_skew_segments",
		Help: "Last observed skew between reference clock and capture position, in segments",
	}, session)

	m.collectors = []prometheus.Collector{
		m.operations, m.operationDuration, m.operationErrors,
		m.sessionState, m.deviceLost,
		m.bytesCaptured, m.silentBursts, m.burstGlitches,
		m.overflowSpilled, m.overflowDropped, m.overflowLevel, m.driverErrors,
		m.pulls, m.bytesPulled, m.discontinuities, m.gapFrames, m.pullDuration,
		m.timeshifted, m.driftCorrections, m.clockSkew,
	}
}

// RecordOperation implements Recorder
func (m *CaptureMetrics) RecordOperation(operation, status string) {
	m.operations.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *CaptureMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *CaptureMetrics) RecordError(operation, errorType string) {
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

// SetSessionState records the numeric lifecycle state of a session
func (m *CaptureMetrics) SetSessionState(sessionID string, state int) {
	m.sessionState.WithLabelValues(sessionID).Set(float64(state))
}

// RecordDeviceLost counts a delivered device loss notification
func (m *CaptureMetrics) RecordDeviceLost(sessionID string) {
	m.deviceLost.WithLabelValues(sessionID).Inc()
}

// RecordBurst records bytes taken from one device burst
func (m *CaptureMetrics) RecordBurst(sessionID string, bytes int, silent, discontinuous bool) {
	m.bytesCaptured.WithLabelValues(sessionID).Add(float64(bytes))
	if silent {
		m.silentBursts.WithLabelValues(sessionID).Inc()
	}
	if discontinuous {
		m.burstGlitches.WithLabelValues(sessionID).Inc()
	}
}

// RecordOverflow records spilled and dropped bytes and the resulting fill level
func (m *CaptureMetrics) RecordOverflow(sessionID string, spilled, dropped, level int) {
	if spilled > 0 {
		m.overflowSpilled.WithLabelValues(sessionID).Add(float64(spilled))
	}
	if dropped > 0 {
		m.overflowDropped.WithLabelValues(sessionID).Add(float64(dropped))
	}
	m.overflowLevel.WithLabelValues(sessionID).Set(float64(level))
}

// RecordDriverError counts a read aborted by the driver
func (m *CaptureMetrics) RecordDriverError(sessionID string) {
	m.driverErrors.WithLabelValues(sessionID).Inc()
}

// RecordPull records the outcome of one consumer pull
func (m *CaptureMetrics) RecordPull(sessionID, status string, bytes int, seconds float64) {
	m.pulls.WithLabelValues(sessionID, status).Inc()
	if bytes > 0 {
		m.bytesPulled.WithLabelValues(sessionID).Add(float64(bytes))
	}
	m.pullDuration.WithLabelValues(sessionID).Observe(seconds)
}

// RecordDiscontinuity records a gap in the delivered sample stream
func (m *CaptureMetrics) RecordDiscontinuity(sessionID string, gapFrames uint64) {
	m.discontinuities.WithLabelValues(sessionID).Inc()
	m.gapFrames.WithLabelValues(sessionID).Observe(float64(gapFrames))
}

// RecordResync records a clock slaving resync; drift marks resyncs forced
// by drift correction.
func (m *CaptureMetrics) RecordResync(sessionID string, drift bool) {
	m.timeshifted.WithLabelValues(sessionID).Inc()
	if drift {
		m.driftCorrections.WithLabelValues(sessionID).Inc()
	}
}

// SetClockSkew records the last computed segment skew
func (m *CaptureMetrics) SetClockSkew(sessionID string, segments int64) {
	m.clockSkew.WithLabelValues(sessionID).Set(float64(segments))
}

// Describe implements prometheus.Collector
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}
