package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT error stages
const (
	StageConnect        = "connect"
	StagePublish        = "publish"
	StageConnectionLost = "connection_lost"
)

// Reasons a session event never reached the broker
const (
	DropQueueFull         = "queue_full"
	DropBrokerUnavailable = "broker_unavailable"
	DropPublishFailed     = "publish_failed"
	DropEncode            = "encode"
)

// MQTTMetrics tracks the broker connection and the session events sent over
// it. All recording methods are no-ops on a nil receiver.
type MQTTMetrics struct {
	Connected      prometheus.Gauge
	Reconnects     prometheus.Counter
	Errors         *prometheus.CounterVec
	Published      *prometheus.CounterVec
	Dropped        *prometheus.CounterVec
	PayloadSize    prometheus.Histogram
	PublishLatency prometheus.Histogram
}

// NewMQTTMetrics creates the metrics and registers them with registry.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiosrc_mqtt_connected",
			Help: "Whether the event publisher holds a broker connection (1) or not (0)",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiosrc_mqtt_reconnect_attempts_total",
			Help: "Broker reconnection attempts after a lost connection",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiosrc_mqtt_errors_total",
			Help: "Broker errors by stage",
		}, []string{"stage"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiosrc_session_events_published_total",
			Help: "Session events delivered to the broker by event type",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiosrc_session_events_dropped_total",
			Help: "Session events discarded before delivery by event type and reason",
		}, []string{"type", "reason"}),
		PayloadSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiosrc_session_event_payload_bytes",
			Help:    "Encoded size of published session events",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8), // 64B to 8KiB
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiosrc_mqtt_publish_duration_seconds",
			Help:    "Time from publish to broker acknowledgement",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Connected, m.Reconnects, m.Errors, m.Published, m.Dropped, m.PayloadSize, m.PublishLatency,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
		}
	}
	return m, nil
}

// SetConnected records the broker connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

func (m *MQTTMetrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordError counts a broker error at one of the Stage* stages.
func (m *MQTTMetrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(stage).Inc()
}

// RecordPublishLatency records how long the broker took to acknowledge.
func (m *MQTTMetrics) RecordPublishLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.PublishLatency.Observe(d.Seconds())
}

// RecordEventPublished counts a delivered session event and its size.
func (m *MQTTMetrics) RecordEventPublished(eventType string, bytes int) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(eventType).Inc()
	m.PayloadSize.Observe(float64(bytes))
}

// RecordEventDropped counts an event discarded for one of the Drop* reasons.
func (m *MQTTMetrics) RecordEventDropped(eventType, reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(eventType, reason).Inc()
}
