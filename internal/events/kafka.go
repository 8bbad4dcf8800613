package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to one Kafka topic, keyed by aggregate id so the events of
// one sale stay ordered on a partition. The event topic travels in the "event" header.
type KafkaSink struct {
	W MessageWriter
}

// NewKafkaWriter builds a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Deliver implements Sink.
func (k *KafkaSink) Deliver(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return k.W.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.AggregateID),
		Value:   value,
		Time:    ev.OccurredAt,
		Headers: []kafka.Header{{Key: "event", Value: []byte(ev.Topic)}},
	})
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.W.Close()
}
