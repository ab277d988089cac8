// Package kafka publishes indexing events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// keyer is implemented by payloads that carry a partition key.
type keyer interface {
	MessageKey() string
}

// Publisher writes JSON payloads with a kafka.Writer. The topic is set per
// message, so one Publisher serves every topic on the cluster.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// New creates a Publisher for the given brokers.
func New(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newWithWriter(writer), nil
}

func newWithWriter(w messageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// Publish marshals payload to JSON and writes it to topic. The returned ID is
// the message key, or empty when the payload has none.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("kafka: topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{Topic: topic, Value: data, Time: p.now()}
	var key string
	if k, ok := payload.(keyer); ok {
		key = k.MessageKey()
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return key, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
