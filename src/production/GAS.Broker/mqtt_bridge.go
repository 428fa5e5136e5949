package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	normalizer "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Normalizer"
)

// Forwarder hands a raw reading payload to the broker.
type Forwarder interface {
	Publish(ctx context.Context, payload []byte) PublishResult
}

// feedbackPublisher is the part of mqtt.Client used to report rejected messages.
type feedbackPublisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type deviceMessage struct {
	topic   string
	payload []byte
}

// Bridge subscribes to device MQTT topics and forwards every valid reading
// onto the Kafka readings topic. Rejected messages get an error reply on
// <error prefix>/<device_id>.
type Bridge struct {
	cfg        config.MQTTConfig
	forwarder  Forwarder
	mqttClient mqtt.Client
	feedback   feedbackPublisher
	msgCh      chan deviceMessage
	wg         sync.WaitGroup
	logger     *logger.Logger
}

func NewBridge(cfg config.MQTTConfig, forwarder Forwarder, log *logger.Logger) *Bridge {
	return &Bridge{
		cfg:       cfg,
		forwarder: forwarder,
		msgCh:     make(chan deviceMessage, 4096),
		logger:    log.WithComponent("mqtt-bridge"),
	}
}

func (b *Bridge) Start(ctx context.Context) error {
	mqtt.ERROR = b.logger
	mqtt.CRITICAL = b.logger

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL()).
		SetClientID(b.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)

	if b.cfg.BrokerUser != "" {
		opts.SetUsername(b.cfg.BrokerUser)
		opts.SetPassword(b.cfg.BrokerPass)
	}

	if b.cfg.UseTLS {
		tlsCfg, err := tlsConfig(b.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topic := b.subscriptionTopic()
		b.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to topic")
		if token := c.Subscribe(topic, 1, b.onMessage); token.Wait() && token.Error() != nil {
			b.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		}
	}

	b.mqttClient = mqtt.NewClient(opts)
	b.feedback = b.mqttClient
	if tk := b.mqttClient.Connect(); tk.Wait() && tk.Error() != nil {
		return tk.Error()
	}

	b.startForwarding(ctx)
	return nil
}

// startForwarding runs the forward loop with ctx's values but not its
// cancellation. Queued messages are already acknowledged to the broker and
// are drained by Stop.
func (b *Bridge) startForwarding(ctx context.Context) {
	fwdCtx := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.forwardLoop(fwdCtx)
	}()
}

// Stop disconnects from the MQTT broker and forwards every queued message
// before returning.
func (b *Bridge) Stop() {
	if b.mqttClient != nil {
		b.mqttClient.Disconnect(500)
	}
	close(b.msgCh)
	b.wg.Wait()
}

func (b *Bridge) IsConnected() bool {
	return b.mqttClient != nil && b.mqttClient.IsConnected()
}

func (b *Bridge) subscriptionTopic() string {
	if b.cfg.SharedGroup != "" {
		return fmt.Sprintf("$share/%s/%s", b.cfg.SharedGroup, b.cfg.Topic)
	}
	return b.cfg.Topic
}

func (b *Bridge) onMessage(_ mqtt.Client, m mqtt.Message) {
	b.logger.Logger.Debug().Str("topic", m.Topic()).Int("bytes", len(m.Payload())).Msg("Received MQTT message")
	b.msgCh <- deviceMessage{topic: m.Topic(), payload: m.Payload()}
}

func (b *Bridge) forwardLoop(ctx context.Context) {
	for msg := range b.msgCh {
		b.forward(ctx, msg)
	}
}

func (b *Bridge) forward(ctx context.Context, msg deviceMessage) {
	payload, err := normalizer.Decode(msg.payload)
	if err != nil {
		deviceID := deviceFromTopic(msg.topic)
		b.logger.Logger.Warn().Err(err).Str("topic", msg.topic).Msg("Dropping undecodable MQTT message")
		b.publishError(deviceID, "malformed_payload", err.Error())
		return
	}

	reading, err := normalizer.Normalize(payload)
	if err != nil {
		deviceID := deviceFromTopic(msg.topic)
		if id, ok := payload["device_id"].(string); ok && strings.TrimSpace(id) != "" {
			deviceID = id
		}
		b.logger.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Dropping invalid MQTT reading")
		b.publishError(deviceID, "invalid_reading", err.Error())
		return
	}

	if result := b.forwarder.Publish(ctx, msg.payload); result.Failed() {
		b.logger.Logger.Error().Err(result.Err()).Str("device_id", reading.DeviceID).Msg("Failed to forward MQTT reading to kafka")
		b.publishError(reading.DeviceID, "forward_failed", "reading could not be queued, please resend")
	}
}

// deviceFromTopic extracts <device_id> from topics shaped <prefix>/<device_id>/<suffix>.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, errors.New("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}

// publishError sends rejection feedback to the device's error topic.
func (b *Bridge) publishError(deviceID, errorType, message string) {
	if b.feedback == nil || !b.feedback.IsConnected() {
		return
	}

	errorPayload := map[string]interface{}{
		"error_type": errorType,
		"message":    message,
		"device_id":  deviceID,
		"timestamp":  time.Now().UTC(),
	}

	payloadJSON, err := json.Marshal(errorPayload)
	if err != nil {
		b.logger.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	errorTopic := fmt.Sprintf("%s/%s", b.cfg.ErrorTopicPrefix, deviceID)
	token := b.feedback.Publish(errorTopic, 1, false, payloadJSON)

	if token.Wait() && token.Error() != nil {
		b.logger.Logger.Error().Err(token.Error()).Str("topic", errorTopic).Msg("Failed to publish error")
	} else {
		b.logger.Logger.Info().Str("topic", errorTopic).Str("error_type", errorType).Msg("Published error")
	}
}
