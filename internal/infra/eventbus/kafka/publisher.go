package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/syncd/internal/domain/leader"
	"github.com/ahrav/syncd/internal/domain/messaging"
	"github.com/ahrav/syncd/pkg/common/logger"
)

// Event type header values.
const (
	EventTypeFileReceived     = "sync.file.received"
	EventTypeLeaderGranted    = "leader.granted"
	EventTypeLeaderRevoked    = "leader.revoked"
	EventTypeLeaderAcquireErr = "leader.acquire_failed"
)

// FileEvent describes one file delivered by the synchronizing source.
type FileEvent struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	SourceID string    `json:"source_id"`
}

// leadershipEvent is the payload for election transitions.
type leadershipEvent struct {
	Role     string    `json:"role"`
	Occurred time.Time `json:"occurred"`
}

// Publisher writes envelope-framed events through a synchronous producer.
// Leadership notifications are best-effort: failures are logged, never
// returned, so a broker outage cannot stall the election loop.
type Publisher struct {
	producer sarama.SyncProducer
	codec    *messaging.EmbeddedHeadersCodec
	cfg      Config

	logger *logger.Logger
	tracer trace.Tracer
}

var _ leader.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher over an established producer.
func NewPublisher(
	producer sarama.SyncProducer,
	codec *messaging.EmbeddedHeadersCodec,
	cfg Config,
	log *logger.Logger,
	tracer trace.Tracer,
) *Publisher {
	return &Publisher{
		producer: producer,
		codec:    codec,
		cfg:      cfg,
		logger:   log.With("component", "kafka_publisher"),
		tracer:   tracer,
	}
}

// PublishFileReceived emits an event for a delivered file, keyed by file name
// so per-file ordering survives partitioning.
func (p *Publisher) PublishFileReceived(ctx context.Context, event FileEvent) error {
	ctx, span := p.tracer.Start(ctx, "kafka_publisher.publish_file_received",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("topic", p.cfg.FileTopic),
			attribute.String("file_name", event.Name),
		))
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encoding file event: %w", err)
	}

	if err := p.publish(ctx, p.cfg.FileTopic, event.Name, EventTypeFileReceived, payload); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// OnGranted implements leader.EventPublisher.
func (p *Publisher) OnGranted(ctx context.Context, leaderCtx leader.Context, role string) {
	p.publishLeadership(ctx, EventTypeLeaderGranted, role)
}

// OnRevoked implements leader.EventPublisher.
func (p *Publisher) OnRevoked(ctx context.Context, leaderCtx leader.Context, role string) {
	p.publishLeadership(ctx, EventTypeLeaderRevoked, role)
}

// OnFailedToAcquire implements leader.EventPublisher.
func (p *Publisher) OnFailedToAcquire(ctx context.Context, leaderCtx leader.Context, role string) {
	p.publishLeadership(ctx, EventTypeLeaderAcquireErr, role)
}

func (p *Publisher) publishLeadership(ctx context.Context, eventType, role string) {
	payload, err := json.Marshal(leadershipEvent{Role: role, Occurred: time.Now()})
	if err != nil {
		p.logger.Error(ctx, "failed to encode leadership event", "type", eventType, "error", err)
		return
	}
	if err := p.publish(ctx, p.cfg.LeadershipTopic, role, eventType, payload); err != nil {
		p.logger.Error(ctx, "failed to publish leadership event",
			"type", eventType, "role", role, "error", err)
	}
}

func (p *Publisher) publish(ctx context.Context, topic, key, eventType string, payload []byte) error {
	msg := messaging.NewMessage(payload, map[string]any{"event_type": eventType})
	wire, err := p.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(wire),
	})
	if err != nil {
		return fmt.Errorf("publishing to topic %q: %w", topic, err)
	}
	return nil
}

// Close shuts down the producer.
func (p *Publisher) Close() error { return p.producer.Close() }
