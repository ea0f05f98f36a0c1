// client.go: paho implementation of Client.
package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
	"github.com/tphakala/audiosrc/internal/observability/metrics"
	"github.com/tphakala/audiosrc/internal/privacy"
)

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
}

// NewClient creates a new MQTT client with the provided configuration.
// m may be nil.
func NewClient(config Config, m *metrics.MQTTMetrics) Client {
	return &client{
		config:        config,
		reconnectStop: make(chan struct{}),
		metrics:       m,
		log:           GetLogger(),
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return connectError(fmt.Errorf("connection attempt too recent, last attempt was %v ago", since), c.config.Broker)
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(fmt.Errorf("invalid broker URL: %w", err)).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_broker").
			Build()
	}
	if u.Host == "" {
		return errors.Newf("invalid broker URL %q: missing host", c.config.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_broker").
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return connectError(fmt.Errorf("failed to resolve hostname %s: %w", host, err), c.config.Broker)
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return connectError(fmt.Errorf("connection timeout after %v", c.config.ConnectTimeout), c.config.Broker)
	}
	if err := token.Error(); err != nil {
		return connectError(err, c.config.Broker)
	}

	c.metrics.SetConnected(true)
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return publishError(fmt.Errorf("not connected to MQTT broker"), topic)
	}

	started := time.Now()
	defer func() { c.metrics.RecordPublishLatency(time.Since(started)) }()

	c.log.Debug("publishing", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	token := c.internalClient.Publish(topic, 0, c.config.Retain, payload)

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		c.metrics.RecordError(metrics.StagePublish)
		return publishError(fmt.Errorf("publish timeout"), topic)
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordError(metrics.StagePublish)
		return publishError(err, topic)
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.stopOnce.Do(func() { close(c.reconnectStop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.SetConnected(false)
	}
}

func (c *client) onConnect(_ paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", privacy.SanitizeBrokerURL(c.config.Broker)))
	c.metrics.SetConnected(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", privacy.SanitizeBrokerURL(c.config.Broker)),
		logger.Error(err))
	c.metrics.SetConnected(false)
	c.metrics.RecordError(metrics.StageConnectionLost)
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		c.metrics.RecordReconnectAttempt()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.log.Info("reconnected to MQTT broker")
			return
		}

		c.metrics.RecordError(metrics.StageConnect)
		c.log.Warn("failed to reconnect to MQTT broker",
			logger.Error(err),
			logger.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-c.reconnectStop:
			return
		}
	}
}

func connectError(err error, broker string) error {
	return errors.New(privacy.WrapError(err)).
		Component("mqtt").
		Category(errors.CategoryMQTTConnect).
		Context("operation", "connect").
		Context("broker", privacy.SanitizeBrokerURL(broker)).
		Build()
}

func publishError(err error, topic string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTPublish).
		Context("operation", "publish").
		Context("topic", topic).
		Build()
}
