package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams order domain events to a Kafka topic. Messages are
// keyed by order id so one order's events stay on one partition, in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *logger.Logger
}

// ParseBrokers splits a comma separated broker list
func ParseBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaPublisher creates a publisher writing to topic on brokers
func NewKafkaPublisher(brokers []string, topic string, log *logger.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, topic: topic, log: log}
}

// Publish implements events.Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: data,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", p.topic, err)
	}

	p.log.Debug().
		Str("topic", p.topic).
		Str("event_type", string(ev.Type)).
		Str("order_id", ev.OrderID).
		Msg("event published to Kafka")
	return nil
}

// Close flushes pending writes
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
