// events.go: Asynchronous publisher for capture session events.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
	"github.com/tphakala/audiosrc/internal/observability/metrics"
)

const defaultQueueSize = 64

// Publisher queues session events and publishes them from Run. Event methods
// never block, so they are safe to call from the capture pump.
type Publisher struct {
	client  Client
	topic   string
	queue   chan SessionEvent
	now     func() time.Time
	metrics *metrics.MQTTMetrics
	log     logger.Logger

	mu        sync.Mutex
	lastDrift map[string]uint64
	device    map[string]string
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithQueueSize sets how many events may wait for the broker.
func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan SessionEvent, n)
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

// WithPublisherMetrics counts published and dropped events.
func WithPublisherMetrics(m *metrics.MQTTMetrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a publisher writing below topic.
func NewPublisher(client Client, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:    client,
		topic:     topic,
		queue:     make(chan SessionEvent, defaultQueueSize),
		now:       time.Now,
		log:       GetLogger().Module("events"),
		lastDrift: make(map[string]uint64),
		device:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EventsTopic returns the topic device and drift events go to.
func (p *Publisher) EventsTopic() string { return p.topic + "/events" }

// StateTopic returns the topic state snapshots go to.
func (p *Publisher) StateTopic() string { return p.topic + "/state" }

// DeviceLost queues a device_lost event. Its signature matches
// audiocore.DeviceLostHandler.
func (p *Publisher) DeviceLost(sessionID string, err error) {
	ev := SessionEvent{
		Type:      EventDeviceLost,
		SessionID: sessionID,
		Timestamp: p.now(),
	}
	p.mu.Lock()
	ev.Device = p.device[sessionID]
	p.mu.Unlock()
	if err != nil {
		ev.Error = err.Error()
	}
	p.log.Info("capture device lost",
		logger.String("session_id", sessionID),
		logger.String("device", ev.Device))
	p.enqueue(ev)
}

// ObserveState queues a state snapshot, preceded by a drift_correction
// event when the session corrected drift since the previous snapshot.
func (p *Publisher) ObserveState(d *audiocore.Diagnostics) {
	now := p.now()

	p.mu.Lock()
	prev := p.lastDrift[d.SessionID]
	p.lastDrift[d.SessionID] = d.DriftCorrections
	p.device[d.SessionID] = d.Description
	p.mu.Unlock()

	snapshot := *d
	if d.DriftCorrections > prev {
		p.enqueue(SessionEvent{
			Type:        EventDriftCorrection,
			SessionID:   d.SessionID,
			Timestamp:   now,
			Device:      d.Description,
			Corrections: d.DriftCorrections - prev,
		})
	}
	p.enqueue(SessionEvent{
		Type:        EventState,
		SessionID:   d.SessionID,
		Timestamp:   now,
		Device:      d.Description,
		Diagnostics: &snapshot,
	})
}

func (p *Publisher) enqueue(ev SessionEvent) {
	select {
	case p.queue <- ev:
	default:
		p.metrics.RecordEventDropped(string(ev.Type), metrics.DropQueueFull)
		p.log.Warn("event queue full, dropping event",
			logger.String("type", string(ev.Type)),
			logger.String("session_id", ev.SessionID))
	}
}

// Run connects the client and publishes queued events until ctx is done.
// Events still queued at shutdown are published with a short grace period.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.client.Connect(ctx); err != nil {
		p.log.Warn("initial MQTT connection failed, will retry on publish", logger.Error(err))
	}
	defer p.client.Disconnect()

	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, &ev)
		case <-ctx.Done():
			p.flush()
			return nil
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ctx, &ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev *SessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.metrics.RecordEventDropped(string(ev.Type), metrics.DropEncode)
		p.log.Error("failed to encode event", logger.Error(errors.New(err).
			Component("mqtt").
			Category(errors.CategoryGeneric).
			Context("operation", "encode_event").
			Context("type", string(ev.Type)).
			Build()))
		return
	}

	topic := p.EventsTopic()
	if ev.Type == EventState {
		topic = p.StateTopic()
	}

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.metrics.RecordEventDropped(string(ev.Type), metrics.DropBrokerUnavailable)
			p.log.Debug("dropping event, broker unavailable",
				logger.String("type", string(ev.Type)),
				logger.Error(err))
			return
		}
	}

	if err := p.client.Publish(ctx, topic, payload); err != nil {
		p.metrics.RecordEventDropped(string(ev.Type), metrics.DropPublishFailed)
		p.log.Warn("failed to publish event",
			logger.String("topic", topic),
			logger.String("type", string(ev.Type)),
			logger.Error(err))
		return
	}
	p.metrics.RecordEventPublished(string(ev.Type), len(payload))
}
