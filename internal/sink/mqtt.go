package sink

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectWait = 250 // milliseconds
	mqttStatusOnline   = "online"
	mqttStatusOffline  = "offline"
)

// MQTTSink publishes payloads as JSON to a broker topic. Availability is
// announced on <topic>/status, with a last will of "offline".
type MQTTSink struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
}

// NewMQTTSink connects to the broker described by cfg
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	errFactory := errors.New()

	s := &MQTTSink{
		topic:    cfg.Topic,
		qos:      byte(cfg.QoS),
		retained: cfg.Retained,
	}
	s.client = mqtt.NewClient(s.clientOptions(cfg))

	if err := connectMQTT(s.client, cfg.Broker, mqttConnectTimeout); err != nil {
		return nil, errFactory.Wrap(ErrConnectFailed, err).WithData(cfg.Broker)
	}

	return s, nil
}

// connectMQTT waits for the first connection. A client that did not
// connect is disconnected so it stops retrying in the background.
func connectMQTT(client mqtt.Client, broker string, timeout time.Duration) error {
	errFactory := errors.New()

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return errFactory.WithData(ErrConnectFailed, broker).WithMessage("MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return err
	}

	return nil
}

// NewMQTTSinkWithClient uses an already configured client
func NewMQTTSinkWithClient(client mqtt.Client, topic string, qos byte, retained bool) *MQTTSink {
	return &MQTTSink{
		client:   client,
		topic:    topic,
		qos:      qos,
		retained: retained,
	}
}

func (s *MQTTSink) clientOptions(cfg config.MQTTConfig) *mqtt.ClientOptions {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "modemtemp-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetWill(s.statusTopic(), mqttStatusOffline, 1, true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Str("client_id", clientID).Msg("MQTT connected")
		c.Publish(s.statusTopic(), 1, true, mqttStatusOnline)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	return opts
}

func (s *MQTTSink) statusTopic() string {
	return s.topic + "/status"
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

func (s *MQTTSink) Write(ctx context.Context, p Payload) error {
	errFactory := errors.New()

	if !s.client.IsConnectionOpen() {
		return errFactory.New(ErrNotConnected).WithData(s.topic)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	token := s.client.Publish(s.topic, s.qos, s.retained, body)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errFactory.Wrap(ErrWriteFailed, err).WithData(s.topic)
		}
		return nil
	case <-ctx.Done():
		return errFactory.Wrap(ErrWriteFailed, ctx.Err()).WithData(s.topic)
	}
}

// Close marks the daemon offline and disconnects
func (s *MQTTSink) Close() error {
	if s.client.IsConnectionOpen() {
		token := s.client.Publish(s.statusTopic(), 1, true, mqttStatusOffline)
		token.WaitTimeout(time.Second)
	}
	s.client.Disconnect(mqttDisconnectWait)

	return nil
}
