package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaPublisher writes sale events to a single topic. Writes are
// asynchronous; a lost event only delays downstream reconciliation,
// it never blocks a checkout.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Printf("[events] WARN: failed to deliver %d message(s): %v", len(messages), err)
				}
			},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	envelope, err := NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventType),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
