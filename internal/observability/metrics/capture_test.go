package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCaptureMetrics(t *testing.T) (*CaptureMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewCaptureMetrics(reg)
	require.NoError(t, err)
	return m, reg
}

func TestCaptureMetricsRegisterOnce(t *testing.T) {
	_, reg := newTestCaptureMetrics(t)
	_, err := NewCaptureMetrics(reg)
	require.Error(t, err, "a second registration on the same registry must fail")
}

func TestCaptureMetricsPulls(t *testing.T) {
	m, reg := newTestCaptureMetrics(t)

	m.RecordPull("s1", StatusSuccess, 3840, 0.002)
	m.RecordPull("s1", StatusSuccess, 3840, 0.002)
	m.RecordPull("s1", StatusError, 0, 0.001)

	expected := `
# HELP audiosrc_pulls_total Buffer pulls by outcome
# TYPE audiosrc_pulls_total counter
audiosrc_pulls_total{session_id="s1",status="error"} 1
audiosrc_pulls_total{session_id="s1",status="success"} 2
# HELP audiosrc_pulled_bytes_total Bytes delivered to the consumer
# TYPE audiosrc_pulled_bytes_total counter
audiosrc_pulled_bytes_total{session_id="s1"} 7680
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"audiosrc_pulls_total", "audiosrc_pulled_bytes_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.pullDuration))
}

func TestCaptureMetricsResync(t *testing.T) {
	tests := []struct {
		name           string
		drifts         []bool
		wantShifted    float64
		wantCorrection float64
	}{
		{"skew only", []bool{false, false}, 2, 0},
		{"drift forced", []bool{true}, 1, 1},
		{"mixed", []bool{false, true, true}, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestCaptureMetrics(t)
			for _, drift := range tt.drifts {
				m.RecordResync("s1", drift)
			}
			assert.InDelta(t, tt.wantShifted, testutil.ToFloat64(m.timeshifted.WithLabelValues("s1")), 0)
			assert.InDelta(t, tt.wantCorrection, testutil.ToFloat64(m.driftCorrections.WithLabelValues("s1")), 0)
		})
	}
}

func TestCaptureMetricsOverflowAndBursts(t *testing.T) {
	m, _ := newTestCaptureMetrics(t)

	m.RecordBurst("s1", 1920, true, false)
	m.RecordBurst("s1", 1920, false, true)
	m.RecordOverflow("s1", 400, 0, 400)
	m.RecordOverflow("s1", 100, 60, 500)

	assert.InDelta(t, 3840, testutil.ToFloat64(m.bytesCaptured.WithLabelValues("s1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.silentBursts.WithLabelValues("s1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.burstGlitches.WithLabelValues("s1")), 0)
	assert.InDelta(t, 500, testutil.ToFloat64(m.overflowSpilled.WithLabelValues("s1")), 0)
	assert.InDelta(t, 60, testutil.ToFloat64(m.overflowDropped.WithLabelValues("s1")), 0)
	assert.InDelta(t, 500, testutil.ToFloat64(m.overflowLevel.WithLabelValues("s1")), 0)
}

func TestCaptureMetricsSessionsAreLabelled(t *testing.T) {
	m, _ := newTestCaptureMetrics(t)

	m.SetSessionState("a", 2)
	m.SetSessionState("b", 3)
	m.RecordDiscontinuity("a", 960)
	m.SetClockSkew("b", -2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.sessionState.WithLabelValues("a")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.sessionState.WithLabelValues("b")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.discontinuities.WithLabelValues("a")), 0)
	assert.InDelta(t, -2, testutil.ToFloat64(m.clockSkew.WithLabelValues("b")), 0)
}

func TestRecorders(t *testing.T) {
	rec := NewTestRecorder()
	var r Recorder = rec
	r.RecordOperation(OpWAVWrite, StatusSuccess)
	r.RecordOperation(OpWAVWrite, StatusSuccess)
	r.RecordError(OpPull, "ring_buffer")
	r.RecordDuration(OpPull, 0.5)

	assert.Equal(t, 2, rec.OperationCount(OpWAVWrite, StatusSuccess))
	assert.Equal(t, 1, rec.ErrorCount(OpPull, "ring_buffer"))
	assert.Equal(t, []float64{0.5}, rec.Durations(OpPull))

	assert.NotPanics(t, func() {
		var noop Recorder = NewNoOpRecorder()
		noop.RecordOperation(OpPull, StatusError)
	})
}

func TestMQTTMetricsNilReceiver(t *testing.T) {
	var m *MQTTMetrics
	assert.NotPanics(t, func() {
		m.SetConnected(true)
		m.RecordError(StageConnect)
		m.RecordReconnectAttempt()
		m.RecordPublishLatency(time.Millisecond)
		m.RecordEventPublished("state", 128)
		m.RecordEventDropped("state", DropQueueFull)
	})
}

func TestMQTTMetricsEventCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(reg)
	require.NoError(t, err)

	m.RecordEventPublished("state", 300)
	m.RecordEventPublished("state", 310)
	m.RecordEventDropped("device_lost", DropBrokerUnavailable)
	m.SetConnected(true)

	expected := `
# HELP audiosrc_session_events_dropped_total Session events discarded before delivery by event type and reason
# TYPE audiosrc_session_events_dropped_total counter
audiosrc_session_events_dropped_total{reason="broker_unavailable",type="device_lost"} 1
# HELP audiosrc_session_events_published_total Session events delivered to the broker by event type
# TYPE audiosrc_session_events_published_total counter
audiosrc_session_events_published_total{type="state"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"audiosrc_session_events_published_total", "audiosrc_session_events_dropped_total"))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Connected), 0)

	_, err = NewMQTTMetrics(reg)
	require.Error(t, err, "metrics register once per registry")
}
