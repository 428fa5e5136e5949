package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
	normalizer "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Normalizer"
)

// State is the subscriber lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageHandler persists the payload of one broker message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, value []byte) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber consumes the readings topic as a member of the fixed consumer
// group and hands each message to a MessageHandler, one at a time.
type Subscriber struct {
	handler MessageHandler
	logger  *logger.Logger
	metrics *metrics.Metrics
	state   atomic.Int32

	reach     func(ctx context.Context) error
	newReader func() messageReader
}

func NewSubscriber(cfg config.KafkaConfig, handler MessageHandler, log *logger.Logger, m *metrics.Metrics) *Subscriber {
	log = log.WithComponent("subscriber")
	dialer := &kafka.Dialer{
		ClientID: config.KafkaClientID,
		Timeout:  cfg.DialTimeout,
	}

	s := &Subscriber{
		handler: handler,
		logger:  log,
		metrics: m,
	}
	s.reach = func(ctx context.Context) error {
		return dialAnyBroker(ctx, dialer, cfg.Brokers)
	}
	s.newReader = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     config.KafkaGroupID,
			Topic:       config.KafkaTopic,
			StartOffset: kafka.LastOffset,
			Dialer:      dialer,
			MaxWait:     time.Second,
			ErrorLogger: kafka.LoggerFunc(log.Printf),
		})
	}
	return s
}

// dialAnyBroker succeeds as soon as one bootstrap broker accepts a connection.
func dialAnyBroker(ctx context.Context, dialer *kafka.Dialer, brokers []string) error {
	var errs []error
	for _, addr := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return errors.Join(errs...)
}

func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(state State) {
	s.state.Store(int32(state))
	if s.metrics != nil {
		s.metrics.SubscriberState.Set(float64(state))
	}
}

// Run connects, joins the consumer group and processes messages until ctx is
// cancelled or the broker connection fails. Per-message failures are logged
// and skipped. A nil return means a clean shutdown; there is no reconnect.
func (s *Subscriber) Run(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.reach(ctx); err != nil {
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect to kafka: %w", err)
	}

	reader := s.newReader()
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Logger.Warn().Err(err).Msg("Failed to close kafka reader")
		}
		s.setState(StateDisconnected)
	}()

	s.setState(StateSubscribed)
	s.logger.Logger.Info().
		Str("topic", config.KafkaTopic).
		Str("group_id", config.KafkaGroupID).
		Msg("Kafka consumer subscribed")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Kafka consumer stopping")
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		s.setState(StateProcessing)
		s.handle(ctx, msg)

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.Logger.Warn().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Failed to commit offset")
		}
		s.setState(StateSubscribed)
	}
}

func (s *Subscriber) handle(ctx context.Context, msg kafka.Message) {
	err := s.handler.HandleMessage(ctx, msg.Value)
	outcome := skipReason(err)
	s.count(outcome)
	if err == nil {
		s.logger.Logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Reading stored from broker")
		return
	}

	s.logger.Logger.Warn().Err(err).
		Str("reason", outcome).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("Skipping broker message")
}

// skipReason classifies a handler result for logs and metrics.
func skipReason(err error) string {
	var decodeErr *normalizer.DecodeError
	var validationErr *normalizer.ValidationError
	switch {
	case err == nil:
		return metrics.OutcomeStored
	case errors.As(err, &decodeErr):
		return metrics.OutcomeMalformed
	case errors.As(err, &validationErr):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeFailed
	}
}

func (s *Subscriber) count(outcome string) {
	if s.metrics != nil {
		s.metrics.MessagesConsumed.WithLabelValues(outcome).Inc()
	}
}
