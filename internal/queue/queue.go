package queue

import (
	"context"
	"errors"
	"strings"
)

// Status is the lifecycle state of a queued action.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	DefaultMaxSize    = 100
	DefaultMaxRetries = 3
)

var (
	ErrEmptyBatch = errors.New("no actions provided to add to queue")
	ErrCapacity   = errors.New("queue capacity exceeded")
)

// Action is one queued automation step. The JSON shape is the wire format
// shared with the page agent and the CLI.
type Action struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Label        string            `json:"action,omitempty"`
	Tag          string            `json:"tag,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Payload      map[string]any    `json:"payload,omitempty"`
	Priority     int               `json:"priority"`
	Status       Status            `json:"status"`
	RetryCount   int               `json:"retryCount"`
	MaxRetries   int               `json:"maxRetries"`
	Timestamp    int64             `json:"timestamp"`
	StartTime    int64             `json:"startTime,omitempty"`
	FailedAt     int64             `json:"failedAt,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

// Kind normalizes the action type, falling back to the human label
// ("buy now" -> "buy_now").
func (a Action) Kind() string {
	if a.Type != "" && a.Type != "unknown" {
		return a.Type
	}
	if label := strings.TrimSpace(a.Label); label != "" {
		return normalizeKind(label)
	}
	return "unknown"
}

// Descriptor returns the tag/attributes the locator should resolve. Top-level
// fields win; payload.tag / payload.attributes are honoured otherwise.
func (a Action) Descriptor() (string, map[string]string) {
	if a.Tag != "" {
		return a.Tag, a.Attributes
	}
	tag, _ := a.Payload["tag"].(string)
	attrs := map[string]string{}
	switch raw := a.Payload["attributes"].(type) {
	case map[string]string:
		for k, v := range raw {
			attrs[k] = v
		}
	case map[string]any:
		for k, v := range raw {
			if s, ok := v.(string); ok {
				attrs[k] = s
			}
		}
	}
	if len(attrs) == 0 {
		attrs = a.Attributes
	}
	return tag, attrs
}

func (a Action) clone() Action {
	if a.Attributes != nil {
		attrs := make(map[string]string, len(a.Attributes))
		for k, v := range a.Attributes {
			attrs[k] = v
		}
		a.Attributes = attrs
	}
	if a.Payload != nil {
		payload := make(map[string]any, len(a.Payload))
		for k, v := range a.Payload {
			payload[k] = v
		}
		a.Payload = payload
	}
	return a
}

func normalizeKind(label string) string {
	fields := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// Summary is the short form of an accepted action.
type Summary struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Priority int    `json:"priority"`
}

// AppendResult describes an accepted batch.
type AppendResult struct {
	ActionsAdded int       `json:"actionsAdded"`
	QueueSize    int       `json:"queueSize"`
	AddedActions []Summary `json:"addedActions"`
}

// PopReason distinguishes why a pop did or did not return a task.
type PopReason string

const (
	PopTaken         PopReason = "taken"
	PopEmpty         PopReason = "empty"
	PopNoneAvailable PopReason = "none-available"
)

// PopResult is the outcome of PopFirstAvailable.
type PopResult struct {
	Task      *Action
	Reason    PopReason
	Message   string
	QueueSize int
	Stats     *Stats
}

// FailResult is the outcome of MarkFailed.
type FailResult struct {
	TaskID     string `json:"taskId"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
	WillRetry  bool   `json:"willRetry"`
	Message    string `json:"message"`
}

// Stats summarizes queue depth and state counts.
type Stats struct {
	TotalTasks       int            `json:"totalTasks"`
	StatusCounts     map[Status]int `json:"statusCounts"`
	IsProcessing     bool           `json:"isProcessing"`
	MaxQueueSize     int            `json:"maxQueueSize"`
	OldestAgeSeconds int64          `json:"oldestAgeSeconds"`
}

// Store persists queue snapshots so the queue survives a background restart.
type Store interface {
	Load(ctx context.Context) ([]Action, error)
	Save(ctx context.Context, items []Action) error
}

// NullStore keeps nothing.
type NullStore struct{}

func (NullStore) Load(context.Context) ([]Action, error) { return nil, nil }
func (NullStore) Save(context.Context, []Action) error   { return nil }
