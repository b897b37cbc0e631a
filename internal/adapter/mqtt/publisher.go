// Package mqtt publishes drained monitored-item notifications to an
// MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-server/internal/metrics"
)

// Config contains MQTT publisher configuration
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	KeepAlive      time.Duration
	CleanSession   bool
	ReconnectDelay time.Duration
}

// Publisher delivers notification batches to the broker.
type Publisher struct {
	config  Config
	client  paho.Client
	logger  zerolog.Logger
	metrics *metrics.Registry

	isConnected      atomic.Bool
	batchesPublished atomic.Uint64
	publishErrors    atomic.Uint64
}

// notificationPayload is the JSON wire form of one drained notification.
type notificationPayload struct {
	ClientHandle    uint32      `json:"client_handle"`
	Value           interface{} `json:"value,omitempty"`
	Status          uint32      `json:"status"`
	SourceTimestamp *time.Time  `json:"source_timestamp,omitempty"`
	ServerTimestamp *time.Time  `json:"server_timestamp,omitempty"`
}

// batchPayload is the JSON wire form of one publish cycle.
type batchPayload struct {
	SubscriptionID uint32                `json:"subscription_id"`
	PublishedAt    time.Time             `json:"published_at"`
	Notifications  []notificationPayload `json:"notifications"`
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(config Config, logger zerolog.Logger, metricsReg *metrics.Registry) (*Publisher, error) {
	p := &Publisher{
		config:  config,
		logger:  logger.With().Str("component", "mqtt-publisher").Logger(),
		metrics: metricsReg,
	}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetKeepAlive(config.KeepAlive).
		SetCleanSession(config.CleanSession).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(config.ReconnectDelay).
		SetConnectionLostHandler(p.onConnectionLost).
		SetOnConnectHandler(p.onConnect)

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	p.client = paho.NewClient(opts)

	return p, nil
}

// Connect establishes connection to the MQTT broker
func (p *Publisher) Connect(ctx context.Context) error {
	p.logger.Info().
		Str("broker", p.config.BrokerURL).
		Str("client_id", p.config.ClientID).
		Msg("Connecting to MQTT broker")

	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connection failed: %w", token.Error())
	}

	return nil
}

// Disconnect cleanly disconnects from the broker
func (p *Publisher) Disconnect() {
	p.client.Disconnect(5000)
	p.isConnected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// IsConnected returns current connection status
func (p *Publisher) IsConnected() bool {
	return p.isConnected.Load() && p.client.IsConnected()
}

// PublishNotifications encodes and publishes one notification batch.
// Topic: <prefix>/<subscription_id>/notifications
func (p *Publisher) PublishNotifications(ctx context.Context, subscriptionID uint32, notifs []*ua.MonitoredItemNotification) error {
	if len(notifs) == 0 {
		return nil
	}

	batch := batchPayload{
		SubscriptionID: subscriptionID,
		PublishedAt:    time.Now(),
		Notifications:  make([]notificationPayload, 0, len(notifs)),
	}

	for _, n := range notifs {
		if n == nil || n.Value == nil {
			continue
		}
		item := notificationPayload{
			ClientHandle: n.ClientHandle,
			Status:       uint32(n.Value.Status),
		}
		if n.Value.Value != nil {
			item.Value = n.Value.Value.Value()
		}
		if !n.Value.SourceTimestamp.IsZero() {
			ts := n.Value.SourceTimestamp
			item.SourceTimestamp = &ts
		}
		if !n.Value.ServerTimestamp.IsZero() {
			ts := n.Value.ServerTimestamp
			item.ServerTimestamp = &ts
		}
		batch.Notifications = append(batch.Notifications, item)
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal notification batch: %w", err)
	}

	topic := fmt.Sprintf("%s/%d/notifications", p.config.TopicPrefix, subscriptionID)
	token := p.client.Publish(topic, p.config.QoS, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		p.publishErrors.Add(1)
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if token.Error() != nil {
		p.publishErrors.Add(1)
		return fmt.Errorf("publish failed: %w", token.Error())
	}

	p.batchesPublished.Add(1)
	return nil
}

// Client exposes the underlying paho client so other components (the
// write-command handler) can share the connection.
func (p *Publisher) Client() paho.Client {
	return p.client
}

// Stats returns publisher statistics
func (p *Publisher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected":         p.IsConnected(),
		"broker":            p.config.BrokerURL,
		"client_id":         p.config.ClientID,
		"batches_published": p.batchesPublished.Load(),
		"publish_errors":    p.publishErrors.Load(),
	}
}

// onConnect is called when connection is established
func (p *Publisher) onConnect(client paho.Client) {
	p.isConnected.Store(true)
	p.logger.Info().Msg("Connected to MQTT broker")
}

// onConnectionLost is called when connection is lost
func (p *Publisher) onConnectionLost(client paho.Client, err error) {
	p.isConnected.Store(false)
	p.logger.Warn().Err(err).Msg("Connection lost to MQTT broker")
}
