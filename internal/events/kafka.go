package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events as JSON to a single topic, keyed by action id.
type KafkaPublisher struct {
	brokers []string
	topic   string
	w       *kafka.Writer
}

// NewKafkaPublisher constructs a publisher; brokers is a comma-separated list.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	if topic == "" {
		topic = "assistant.outcomes"
	}
	k := &KafkaPublisher{topic: topic}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			k.brokers = append(k.brokers, b)
		}
	}
	if len(k.brokers) > 0 {
		k.w = &kafka.Writer{
			Addr:         kafka.TCP(k.brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	return k
}

func (k *KafkaPublisher) ensure() error {
	if k.w == nil {
		return errors.New("kafka brokers not configured")
	}
	return nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	if err := k.ensure(); err != nil {
		return err
	}
	msg, err := encode(evt)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, msg)
}

// Tail reads up to limit events from the start of the topic, stopping after
// wait without new messages.
func (k *KafkaPublisher) Tail(ctx context.Context, limit int, wait time.Duration) ([]Event, error) {
	if err := k.ensure(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()
	if err := r.SetOffset(kafka.FirstOffset); err != nil {
		return nil, err
	}
	out := []Event{}
	for len(out) < limit {
		readCtx, cancel := context.WithTimeout(ctx, wait)
		m, err := r.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return out, err
		}
		var evt Event
		if err := json.Unmarshal(m.Value, &evt); err == nil {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (k *KafkaPublisher) Close() error {
	if k.w == nil {
		return nil
	}
	return k.w.Close()
}

func encode(evt Event) (kafka.Message, error) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(evt.ActionID), Value: data, Time: time.UnixMilli(evt.Timestamp)}, nil
}
