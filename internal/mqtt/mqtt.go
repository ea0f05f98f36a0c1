// mqtt.go: Package mqtt publishes capture session events to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/audiosrc/internal/conf"
	"github.com/tphakala/audiosrc/internal/logger"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // base topic, events go to <Topic>/events
	Retain            bool   // true to retain state messages at the broker
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:             "audiosrc",
		ClientID:          "audiosrc",
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings applies MQTT settings over the defaults.
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Retain = s.Retain
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	if s.Topic != "" {
		cfg.Topic = s.Topic
	}
	return cfg
}

// GetLogger returns the mqtt package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
