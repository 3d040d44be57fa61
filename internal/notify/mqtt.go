package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
)

const connectTimeout = 10 * time.Second

// Publisher publishes one MQTT message.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Client MQTT client wrapper.
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
}

// NewClient connects to the configured broker.
func NewClient(cfg *config.MQTTConfig) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// Publish publishes payload and waits for the broker to accept it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// MQTTSink publishes tenant summaries to <topic>/<tenant> and the run
// summary to <topic>.
type MQTTSink struct {
	pub    Publisher
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub Publisher, topic string, qos byte, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		pub:    pub,
		topic:  topic,
		qos:    qos,
		logger: logger,
	}
}

// ConsumeTenant implements patcher.Sink.
func (s *MQTTSink) ConsumeTenant(ctx context.Context, r *patcher.TenantReport) error {
	if r.NoTable {
		return nil
	}
	return s.publish(s.topic+"/"+r.Tenant, NewTenantSummary(r))
}

// ConsumeRun implements patcher.RunSink.
func (s *MQTTSink) ConsumeRun(ctx context.Context, r *patcher.RunReport) error {
	return s.publish(s.topic, NewRunSummary(r))
}

func (s *MQTTSink) publish(topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := s.pub.Publish(topic, s.qos, false, payload); err != nil {
		return err
	}
	s.logger.Debug("Published summary", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}
