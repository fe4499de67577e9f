// Package events fans queue activity out to Kafka and to in-process
// subscribers such as the SSE endpoint.
package events

import (
	"context"
	"errors"
	"time"
)

// Kinds of queue events.
const (
	KindAppended       = "appended"
	KindPopped         = "popped"
	KindCleared        = "cleared"
	KindCompleted      = "completed"
	KindRetrying       = "retrying"
	KindRetryExhausted = "retry_exhausted"
	KindEnabled        = "enabled"
	KindDisabled       = "disabled"
	KindSession        = "session"
)

// Event is a single queue activity record.
type Event struct {
	Kind        string         `json:"kind"`
	ActionID    string         `json:"action_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	QueueLength int            `json:"queue_length"`
	Message     string         `json:"message,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NullPublisher drops everything.
type NullPublisher struct{}

func (NullPublisher) Publish(context.Context, Event) error { return nil }

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
