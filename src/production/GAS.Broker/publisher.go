// Package broker connects the telemetry pipeline to Kafka: a best-effort
// publisher, the long-running consumer-group subscriber, topic provisioning,
// and an optional MQTT bridge that feeds device messages onto the topic.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
)

// PublishError reports a reading that could not be handed to the broker.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// PublishResult is the outcome of a best-effort publish. Callers may drop a
// failed result; the broker is never the source of truth for a reading.
type PublishResult struct {
	err *PublishError
}

func (r PublishResult) Delivered() bool {
	return r.err == nil
}

func (r PublishResult) Failed() bool {
	return r.err != nil
}

// NewFailedResult reports err as a failed publish to the readings topic.
func NewFailedResult(err error) PublishResult {
	return PublishResult{err: &PublishError{Topic: config.KafkaTopic, Err: err}}
}

// Err returns the failure, or nil when the message was delivered.
func (r PublishResult) Err() *PublishError {
	return r.err
}

// Flush small batches quickly; Publish is synchronous for the caller.
const publishBatchTimeout = 10 * time.Millisecond

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards raw reading payloads onto the readings topic over one
// long-lived writer shared by every caller.
type Publisher struct {
	writer  messageWriter
	cfg     config.KafkaConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewPublisher(cfg config.KafkaConfig, log *logger.Logger, m *metrics.Metrics) *Publisher {
	log = log.WithComponent("publisher")
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  config.KafkaTopic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           publishBatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			ClientID:    config.KafkaClientID,
			DialTimeout: cfg.DialTimeout,
		},
		ErrorLogger: kafka.LoggerFunc(log.Printf),
	}
	return newPublisher(writer, cfg, log, m)
}

func newPublisher(writer messageWriter, cfg config.KafkaConfig, log *logger.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		writer:  writer,
		cfg:     cfg,
		logger:  log,
		metrics: m,
	}
}

// Publish sends payload as one message. It blocks until the broker
// acknowledges the write or the write timeout elapses.
func (p *Publisher) Publish(ctx context.Context, payload []byte) PublishResult {
	if p.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{Value: payload})
	if err != nil {
		p.count("failed")
		return NewFailedResult(err)
	}

	p.count("delivered")
	p.logger.Logger.Debug().Int("bytes", len(payload)).Msg("Published reading to broker")
	return PublishResult{}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) count(result string) {
	if p.metrics != nil {
		p.metrics.PublishesTotal.WithLabelValues(result).Inc()
	}
}
