package outbox

import (
	"context"

	"github.com/segmentio/kafka-go"

	"contralock/internal/models"
)

// Publisher delivers a domain event to the external event stream.
type Publisher interface {
	Publish(ctx context.Context, event *models.DomainEvent) error
	Close() error
}

// KafkaPublisher writes domain events to a Kafka topic, keyed by event type
// so consumers of one type see its events in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *models.DomainEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.EventType),
		Value: []byte(event.Payload),
		Headers: []kafka.Header{
			{Key: "trace_id", Value: []byte(event.TraceID)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher is used when no brokers are configured; events still flow to
// the in-app notification bridge.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event *models.DomainEvent) error { return nil }
func (NopPublisher) Close() error                                                 { return nil }
