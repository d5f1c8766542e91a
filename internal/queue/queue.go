// Package queue decouples webhook receipt from order processing. The
// webhook handler enqueues order ids; a worker consumes them, processes,
// and acknowledges only after success, so unacknowledged messages are
// redelivered (at-least-once).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is the queue payload referencing an order to process.
type Message struct {
	OrderID    string `json:"orderId"`
	ReceivedAt string `json:"receivedAt"`
}

// Enqueuer is the only capability the webhook handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID string) error
}

// KafkaEnqueuer publishes order ids to a Kafka topic, keyed by order id so
// redeliveries of the same order land on the same partition.
type KafkaEnqueuer struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Now returns current time. Split for testability.
var Now = time.Now

// NewKafkaEnqueuer creates an enqueuer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaEnqueuer(bootstrap string, topic string) *KafkaEnqueuer {
	addrs := strings.Split(bootstrap, ",")
	var brokers []string
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return &KafkaEnqueuer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaEnqueuerWith is only for tests to inject a fake writer.
func NewKafkaEnqueuerWith(w kafkaMessageWriter) *KafkaEnqueuer {
	return &KafkaEnqueuer{writer: w}
}

func (k *KafkaEnqueuer) Enqueue(ctx context.Context, orderID string) error {
	m := Message{OrderID: orderID, ReceivedAt: Now().UTC().Format(time.RFC3339)}
	b, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(orderID), Value: b})
}
