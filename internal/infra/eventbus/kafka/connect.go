package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/syncd/internal/domain/messaging"
	"github.com/ahrav/syncd/pkg/common/logger"
)

// ConnectWithRetry establishes the publisher with exponential backoff,
// retrying for up to 5 minutes. Brokers are often still starting when this
// process comes up.
func ConnectWithRetry(
	cfg Config,
	codec *messaging.EmbeddedHeadersCodec,
	log *logger.Logger,
	tracer trace.Tracer,
) (*Publisher, error) {
	var publisher *Publisher

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		client, err := NewClient(cfg)
		if err != nil {
			return fmt.Errorf("creating kafka client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		publisher = NewPublisher(producer, codec, cfg, log, tracer)
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return publisher, nil
}
