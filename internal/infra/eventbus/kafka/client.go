// Package kafka publishes synchronization and leadership events to Kafka
// using the embedded-headers envelope framing.
package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

// Config contains the settings for the Kafka publisher.
type Config struct {
	Brokers  []string
	ClientID string

	// FileTopic carries one event per delivered file.
	FileTopic string

	// LeadershipTopic carries election transitions.
	LeadershipTopic string
}

// NewClient creates a Kafka client configured for synchronous publishing.
// Keys hash to partitions so events for one file stay ordered.
func NewClient(cfg Config) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Timeout = 10 * time.Second

	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}
