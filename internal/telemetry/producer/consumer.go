package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"sessionauth/internal/telemetry"
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler processes one decoded security event.
type Handler func(ctx context.Context, event *telemetry.SecurityEvent) error

// KafkaConsumer reads security events from a Kafka topic as part of a consumer group.
type KafkaConsumer struct {
	reader messageReader
	topic  string
}

// NewKafkaConsumer returns a consumer for topic in groupID. Call Close when done.
func NewKafkaConsumer(brokers []string, topic, groupID string) (*KafkaConsumer, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka consumer: no brokers")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("kafka consumer: topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        addrs,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	return &KafkaConsumer{reader: reader, topic: topic}, nil
}

// Run reads messages until ctx is cancelled, decoding each and passing it to handle.
// Undecodable messages and handler errors are logged and skipped. Returns nil on cancellation.
func (c *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("telemetry: kafka read error topic=%s: %v", c.topic, err)
			continue
		}
		event, err := DecodeMessage(msg)
		if err != nil {
			log.Printf("telemetry: skipping message topic=%s offset=%d: %v", c.topic, msg.Offset, err)
			continue
		}
		if err := handle(ctx, event); err != nil {
			log.Printf("telemetry: handle event type=%s failed: %v", event.Type, err)
		}
	}
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// DecodeMessage parses a message written by KafkaProducer.
func DecodeMessage(msg kafka.Message) (*telemetry.SecurityEvent, error) {
	var event telemetry.SecurityEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, fmt.Errorf("decode security event: %w", err)
	}
	if event.Type == "" {
		return nil, errors.New("decode security event: missing type")
	}
	return &event, nil
}
