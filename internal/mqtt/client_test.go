// client_test.go: Tests for the paho client wrapper.

package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiosrc/internal/conf"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/observability/metrics"
)

func isMosquittoTestServerAvailable() bool {
	conn, err := net.DialTimeout("tcp", "test.mosquitto.org:1883", 5*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func createTestClient(t *testing.T, broker string) (Client, *metrics.MQTTMetrics) {
	t.Helper()

	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = broker
	cfg.ClientID = "audiosrc-test"
	cfg.ConnectTimeout = 5 * time.Second
	cfg.ReconnectCooldown = time.Minute

	return NewClient(cfg, m), m
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker:   "tcp://localhost:1883",
		Username: "user",
		Retain:   true,
	})
	assert.Equal(t, "tcp://localhost:1883", cfg.Broker)
	assert.Equal(t, "user", cfg.Username)
	assert.True(t, cfg.Retain)
	assert.Equal(t, "audiosrc", cfg.Topic, "empty topic keeps the default")
	assert.Equal(t, "audiosrc", cfg.ClientID)

	cfg = ConfigFromSettings(&conf.MQTTSettings{Topic: "studio/capture", ClientID: "rig-1"})
	assert.Equal(t, "studio/capture", cfg.Topic)
	assert.Equal(t, "rig-1", cfg.ClientID)
}

func TestConnectRejectsInvalidBroker(t *testing.T) {
	tests := []struct {
		name     string
		broker   string
		category errors.ErrorCategory
	}{
		{"unparseable url", "://broker", errors.CategoryConfiguration},
		{"missing host", "localhost", errors.CategoryConfiguration},
		{"unresolvable hostname", "tcp://audiosrc-test.invalid:1883", errors.CategoryMQTTConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := createTestClient(t, tt.broker)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := c.Connect(ctx)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
			assert.False(t, c.IsConnected())
		})
	}
}

func TestConnectCooldown(t *testing.T) {
	c, _ := createTestClient(t, "localhost")

	require.Error(t, c.Connect(context.Background()))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnect))
	assert.Contains(t, err.Error(), "too recent")
}

func TestPublishWhileDisconnected(t *testing.T) {
	c, m := createTestClient(t, "tcp://localhost:1883")

	err := c.Publish(context.Background(), "audiosrc/events", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.InDelta(t, 0, testutil.ToFloat64(m.Connected), 0)
	assert.Zero(t, testutil.CollectAndCount(m.Errors), "not-connected is rejected before the broker is involved")
}

func TestDisconnectWithoutConnect(t *testing.T) {
	c, _ := createTestClient(t, "tcp://localhost:1883")
	assert.NotPanics(t, func() {
		c.Disconnect()
		c.Disconnect()
	})
}

func TestNilMetricsAreIgnored(t *testing.T) {
	c := NewClient(DefaultConfig(), nil)
	err := c.Publish(context.Background(), "audiosrc/events", []byte("{}"))
	require.Error(t, err)
}

// TestPublishToPublicBroker exercises a real round trip when the public
// mosquitto test broker is reachable.
func TestPublishToPublicBroker(t *testing.T) {
	if testing.Short() || !isMosquittoTestServerAvailable() {
		t.Skip("Skipping MQTT broker test: test.mosquitto.org is not available")
	}

	c, m := createTestClient(t, "tcp://test.mosquitto.org:1883")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	require.True(t, c.IsConnected())

	require.NoError(t, c.Publish(ctx, "audiosrc/test", []byte(`{"type":"state"}`)))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Connected), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishLatency))
}
