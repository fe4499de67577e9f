// Package protocol defines the JSON messages exchanged between the page
// agent, the CLI and the background queue owner, and a client for them.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/k8ika0s/shop-assistant/internal/executor"
	"github.com/k8ika0s/shop-assistant/internal/queue"
	"github.com/k8ika0s/shop-assistant/internal/session"
)

// MessageType names a request.
type MessageType string

const (
	AppendAction      MessageType = "APPEND_ACTION"
	PopAction         MessageType = "POP_ACTION"
	ClearQueue        MessageType = "CLEAR_QUEUE"
	GetQueueLength    MessageType = "GET_QUEUE_LENGTH"
	GetQueueStatus    MessageType = "GET_QUEUE_STATUS"
	MarkTaskCompleted MessageType = "MARK_TASK_COMPLETED"
	MarkTaskFailed    MessageType = "MARK_TASK_FAILED"
	SetEnabled        MessageType = "SET_ENABLED"
	GetSession        MessageType = "GET_SESSION"
	SetSession        MessageType = "SET_SESSION"
)

var (
	ErrNotArray = errors.New("actions must be provided as an array")
	ErrNoAction = errors.New("action must be an object")
)

// Request is the envelope of every message; only the fields relevant to
// Type are set.
type Request struct {
	Type         MessageType      `json:"type"`
	Action       *queue.Action    `json:"action,omitempty"`
	Actions      json.RawMessage  `json:"actions,omitempty"`
	Task         *queue.Action    `json:"task,omitempty"`
	TaskID       string           `json:"taskId,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Result       *executor.Result `json:"result,omitempty"`
	Enabled      *bool            `json:"enabled,omitempty"`
	Session      *session.State   `json:"session,omitempty"`
	AgentID      string           `json:"agentId,omitempty"`
}

// ActionList returns the actions carried by an APPEND_ACTION request:
// the "actions" array if present, otherwise the single "action".
func (r Request) ActionList() ([]queue.Action, error) {
	raw := bytes.TrimSpace(r.Actions)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if raw[0] != '[' {
			return nil, ErrNotArray
		}
		var list []queue.Action
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	if r.Action != nil {
		return []queue.Action{*r.Action}, nil
	}
	return nil, ErrNoAction
}

// NewAppendRequest builds an APPEND_ACTION request for a batch.
func NewAppendRequest(actions ...queue.Action) (Request, error) {
	if actions == nil {
		actions = []queue.Action{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return Request{}, err
	}
	return Request{Type: AppendAction, Actions: raw}, nil
}

// ErrorResponse is returned for rejected or unknown messages.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type AppendResponse struct {
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	QueueLength  int             `json:"queueLength"`
	ActionsAdded int             `json:"actionsAdded"`
	AddedActions []queue.Summary `json:"addedActions,omitempty"`
}

// PopResponse always carries the action key, null when nothing was taken.
type PopResponse struct {
	Success     bool          `json:"success"`
	Action      *queue.Action `json:"action"`
	QueueLength int           `json:"queueLength"`
	Message     string        `json:"message,omitempty"`
	Status      *queue.Stats  `json:"status,omitempty"`
}

type ClearResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	PreviousLength int    `json:"previousLength"`
	QueueLength    int    `json:"queueLength"`
}

type LengthResponse struct {
	Success     bool `json:"success"`
	QueueLength int  `json:"queueLength"`
}

type StatusResponse struct {
	Success bool        `json:"success"`
	Enabled bool        `json:"enabled"`
	Status  queue.Stats `json:"status"`
}

type CompletedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"taskId"`
}

type FailedResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	TaskID     string `json:"taskId"`
	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
	WillRetry  bool   `json:"willRetry"`
	Error      string `json:"error,omitempty"`
}

type EnabledResponse struct {
	Success     bool `json:"success"`
	Enabled     bool `json:"enabled"`
	QueueLength int  `json:"queueLength"`
}

type SessionResponse struct {
	Success bool          `json:"success"`
	Session session.State `json:"session"`
}

// Heartbeat is an agent presence report.
type Heartbeat struct {
	AgentID             string `json:"agent_id"`
	RunID               string `json:"run_id"`
	State               string `json:"state"`
	URL                 string `json:"url,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Executed            int64  `json:"executed"`
	IntervalSec         int    `json:"interval_sec"`
	Timestamp           int64  `json:"timestamp,omitempty"`
}
