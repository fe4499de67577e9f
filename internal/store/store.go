package store

import (
	"context"
)

// Outcome is one terminal or retry decision for an executed action.
type Outcome struct {
	ActionID   string         `json:"action_id"`
	Type       string         `json:"type"`
	AgentID    string         `json:"agent_id,omitempty"`
	Status     string         `json:"status"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	WillRetry  bool           `json:"will_retry"`
	Message    string         `json:"message,omitempty"`
	Selector   string         `json:"selector,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// Outcome statuses.
const (
	OutcomeCompleted = "completed"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
)

// Store abstracts outcome history.
type Store interface {
	RecordOutcome(ctx context.Context, o Outcome) error
	Recent(ctx context.Context, limit int, status string) ([]Outcome, error)
	History(ctx context.Context, filter HistoryFilter) ([]Outcome, error)
	Close() error
}

// HistoryFilter defines filters for history queries.
type HistoryFilter struct {
	ActionID string
	AgentID  string
	Status   string
	FromTs   int64
	ToTs     int64
	Limit    int
	Offset   int
}

func (f HistoryFilter) matches(o Outcome) bool {
	if f.ActionID != "" && o.ActionID != f.ActionID {
		return false
	}
	if f.AgentID != "" && o.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.FromTs > 0 && o.Timestamp < f.FromTs {
		return false
	}
	if f.ToTs > 0 && o.Timestamp > f.ToTs {
		return false
	}
	return true
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
