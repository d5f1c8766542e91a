package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestEnqueue_WritesKeyedMessage(t *testing.T) {
	old := Now
	defer func() { Now = old }()
	Now = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	fw := &fakeWriter{}
	e := NewKafkaEnqueuerWith(fw)

	if err := e.Enqueue(context.Background(), "ORD1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "ORD1" {
		t.Fatalf("message should be keyed by order id, got %q", fw.msgs[0].Key)
	}

	var m Message
	if err := json.Unmarshal(fw.msgs[0].Value, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.OrderID != "ORD1" || m.ReceivedAt != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected payload: %+v", m)
	}
}
