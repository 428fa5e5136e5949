package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
)

type topicCreator interface {
	CreateTopics(ctx context.Context, req *kafka.CreateTopicsRequest) (*kafka.CreateTopicsResponse, error)
}

// TopicAdmin provisions the readings topic.
type TopicAdmin struct {
	client topicCreator
	logger *logger.Logger
}

func NewTopicAdmin(cfg config.KafkaConfig, log *logger.Logger) *TopicAdmin {
	client := &kafka.Client{
		Addr:    kafka.TCP(cfg.Brokers...),
		Timeout: cfg.DialTimeout,
		Transport: &kafka.Transport{
			ClientID:    config.KafkaAdminClientID,
			DialTimeout: cfg.DialTimeout,
		},
	}
	return newTopicAdmin(client, log)
}

func newTopicAdmin(client topicCreator, log *logger.Logger) *TopicAdmin {
	return &TopicAdmin{client: client, logger: log.WithComponent("topic-admin")}
}

// EnsureTopic creates the readings topic unless it already exists. created
// reports whether this call made it.
func (a *TopicAdmin) EnsureTopic(ctx context.Context) (bool, error) {
	res, err := a.client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             config.KafkaTopic,
			NumPartitions:     config.KafkaTopicPartition,
			ReplicationFactor: config.KafkaReplication,
		}},
	})
	if err != nil {
		return false, fmt.Errorf("create topic %s: %w", config.KafkaTopic, err)
	}

	topicErr := res.Errors[config.KafkaTopic]
	switch {
	case topicErr == nil:
		a.logger.Logger.Info().
			Str("topic", config.KafkaTopic).
			Int("partitions", config.KafkaTopicPartition).
			Msg("Kafka topic created")
		return true, nil
	case errors.Is(topicErr, kafka.TopicAlreadyExists):
		a.logger.Logger.Debug().Str("topic", config.KafkaTopic).Msg("Kafka topic already exists")
		return false, nil
	default:
		return false, fmt.Errorf("create topic %s: %w", config.KafkaTopic, topicErr)
	}
}
