// Package notify delivers assignment notifications. Delivery is
// at-least-once; the engine's guard fields keep duplicates from being
// generated in the first place.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"casework/internal/assignment/models"
)

// Producer is the subset of *kgo.Client the notifier uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// DefaultProduceTimeout bounds one notification send. Callers hold the unit
// dispatch lock while notifying, so a stalled broker must not stall them.
const DefaultProduceTimeout = 5 * time.Second

// KafkaNotifier publishes notifications as JSON records keyed by recipient,
// so one recipient's notifications stay ordered within a partition.
type KafkaNotifier struct {
	producer Producer
	topic    string
	timeout  time.Duration
}

type KafkaOption func(*KafkaNotifier)

// WithProduceTimeout caps how long Notify waits for the broker.
func WithProduceTimeout(d time.Duration) KafkaOption {
	return func(n *KafkaNotifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func NewKafkaNotifier(producer Producer, topic string, opts ...KafkaOption) (*KafkaNotifier, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("notification topic is required")
	}
	n := &KafkaNotifier{producer: producer, topic: topic, timeout: DefaultProduceTimeout}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, notification models.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(notification.RecipientID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(notification.Kind)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}
