package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher mirrors audit logs onto a topic keyed by correlation id.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates a publisher for a comma-separated broker list.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}}
}

func (p *KafkaPublisher) WriteAudit(ctx context.Context, l *Log) error {
	value, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal audit log: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(l.CorrelationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "intent_class", Value: []byte(l.IntentClass)},
			{Key: "blocked_reason", Value: []byte(l.BlockedReason)},
		},
		Time: l.StartedAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit log: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
