package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options configures an ActionQueue. Zero values pick defaults.
type Options struct {
	MaxSize           int
	DefaultMaxRetries int
	Store             Store
	Logger            logrus.FieldLogger
	Now               func() time.Time
	NewID             func() string
}

// ActionQueue is the single authoritative queue of pending actions. All
// operations are serialized, so a given entry is handed out at most once.
type ActionQueue struct {
	mu                sync.Mutex
	items             []Action
	processing        bool
	maxSize           int
	defaultMaxRetries int
	store             Store
	log               logrus.FieldLogger
	now               func() time.Time
	newID             func() string
}

// New creates an empty queue.
func New(opts Options) *ActionQueue {
	q := &ActionQueue{
		maxSize:           opts.MaxSize,
		defaultMaxRetries: opts.DefaultMaxRetries,
		store:             opts.Store,
		log:               opts.Logger,
		now:               opts.Now,
		newID:             opts.NewID,
	}
	if q.maxSize <= 0 {
		q.maxSize = DefaultMaxSize
	}
	if q.defaultMaxRetries <= 0 {
		q.defaultMaxRetries = DefaultMaxRetries
	}
	if q.store == nil {
		q.store = NullStore{}
	}
	if q.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		q.log = l
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}
	return q
}

// Restore replaces the in-memory queue with the persisted snapshot.
func (q *ActionQueue) Restore(ctx context.Context) error {
	items, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	for _, a := range items {
		if a.Status == StatusProcessing || a.Status == StatusCompleted {
			continue
		}
		q.items = append(q.items, a)
	}
	q.log.WithField("queue_size", len(q.items)).Info("queue restored")
	return nil
}

// SetLimits updates capacity and the default retry budget for new actions.
func (q *ActionQueue) SetLimits(maxSize, defaultMaxRetries int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if maxSize > 0 {
		q.maxSize = maxSize
	}
	if defaultMaxRetries > 0 {
		q.defaultMaxRetries = defaultMaxRetries
	}
}

// Append adds a batch. Either the whole batch fits or nothing is added.
func (q *ActionQueue) Append(ctx context.Context, actions []Action) (AppendResult, error) {
	if len(actions) == 0 {
		return AppendResult{}, ErrEmptyBatch
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items)+len(actions) > q.maxSize {
		return AppendResult{}, fmt.Errorf("%w: adding %d actions would exceed maximum queue size of %d", ErrCapacity, len(actions), q.maxSize)
	}
	now := q.now().UnixMilli()
	res := AppendResult{AddedActions: make([]Summary, 0, len(actions))}
	for _, a := range actions {
		a = a.clone()
		if a.ID == "" {
			a.ID = q.newID()
		}
		if a.Type == "" {
			a.Type = a.Kind()
		}
		if a.Timestamp == 0 {
			a.Timestamp = now
		}
		// Only the queue marks entries processing or completed.
		if a.Status != StatusFailed {
			a.Status = StatusPending
		}
		if a.MaxRetries <= 0 {
			a.MaxRetries = q.defaultMaxRetries
		}
		q.items = append(q.items, a)
		res.AddedActions = append(res.AddedActions, Summary{ID: a.ID, Type: a.Type, Priority: a.Priority})
	}
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].Priority > q.items[j].Priority
	})
	res.ActionsAdded = len(actions)
	res.QueueSize = len(q.items)
	q.persistLocked(ctx)
	q.log.WithFields(logrus.Fields{"added": res.ActionsAdded, "queue_size": res.QueueSize}).Info("actions appended")
	return res, nil
}

// PopFirstAvailable removes and returns the first pending entry, or failing
// that the first failed entry that still has retry budget.
func (q *ActionQueue) PopFirstAvailable(ctx context.Context) PopResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PopResult{Reason: PopEmpty, Message: "Queue is empty"}
	}
	idx := -1
	for i, a := range q.items {
		if a.Status == StatusPending {
			idx = i
			break
		}
	}
	retry := false
	if idx < 0 {
		for i, a := range q.items {
			if a.Status == StatusFailed && a.RetryCount < a.MaxRetries {
				idx = i
				retry = true
				break
			}
		}
	}
	if idx < 0 {
		stats := q.statsLocked()
		return PopResult{
			Reason:    PopNoneAvailable,
			Message:   fmt.Sprintf("No available tasks in queue (%d entries, none pending or retriable)", len(q.items)),
			QueueSize: len(q.items),
			Stats:     &stats,
		}
	}
	task := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	task.Status = StatusProcessing
	task.StartTime = q.now().UnixMilli()
	if retry {
		task.RetryCount++
	}
	q.processing = true
	q.persistLocked(ctx)
	q.log.WithFields(logrus.Fields{"action_id": task.ID, "type": task.Type, "retry": retry}).Info("action dequeued")
	out := task.clone()
	return PopResult{Task: &out, Reason: PopTaken, Message: "Task retrieved", QueueSize: len(q.items)}
}

// MarkCompleted records success. The task was removed on pop and is not
// re-enqueued.
func (q *ActionQueue) MarkCompleted(_ context.Context, taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = false
	q.log.WithField("action_id", taskID).Info("action completed")
}

// MarkFailed consumes one unit of retry budget. Retriable tasks go back to
// the front of the queue ahead of fresh work.
func (q *ActionQueue) MarkFailed(ctx context.Context, task Action, errMsg string) FailResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = false
	task = task.clone()
	if task.MaxRetries <= 0 {
		task.MaxRetries = q.defaultMaxRetries
	}
	task.RetryCount++
	task.FailedAt = q.now().UnixMilli()
	task.ErrorMessage = errMsg
	res := FailResult{TaskID: task.ID, RetryCount: task.RetryCount, MaxRetries: task.MaxRetries}
	entry := q.log.WithFields(logrus.Fields{
		"action_id":   task.ID,
		"retry_count": task.RetryCount,
		"max_retries": task.MaxRetries,
		"error":       errMsg,
	})
	if task.RetryCount >= task.MaxRetries {
		res.Message = fmt.Sprintf("Task %s permanently failed after %d attempts", task.ID, task.RetryCount)
		entry.Warn("action permanently failed")
		return res
	}
	if len(q.items) >= q.maxSize {
		res.Message = fmt.Sprintf("Task %s dropped: queue is full", task.ID)
		entry.Warn("retry dropped, queue full")
		return res
	}
	task.Status = StatusPending
	q.items = append([]Action{task}, q.items...)
	res.WillRetry = true
	res.Message = fmt.Sprintf("Task %s will be retried (%d/%d)", task.ID, task.RetryCount, task.MaxRetries)
	q.persistLocked(ctx)
	entry.Info("action requeued for retry")
	return res
}

// Clear drops every queued entry and returns how many were removed.
func (q *ActionQueue) Clear(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.processing = false
	q.persistLocked(ctx)
	q.log.WithField("cleared", n).Info("queue cleared")
	return n
}

// Len returns the number of queued entries.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Status returns counts by status plus the processing flag.
func (q *ActionQueue) Status() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// List returns a copy of the queued entries in order.
func (q *ActionQueue) List() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, 0, len(q.items))
	for _, a := range q.items {
		out = append(out, a.clone())
	}
	return out
}

func (q *ActionQueue) statsLocked() Stats {
	stats := Stats{
		TotalTasks: len(q.items),
		StatusCounts: map[Status]int{
			StatusPending:    0,
			StatusProcessing: 0,
			StatusCompleted:  0,
			StatusFailed:     0,
		},
		IsProcessing: q.processing,
		MaxQueueSize: q.maxSize,
	}
	var oldest int64
	for _, a := range q.items {
		stats.StatusCounts[a.Status]++
		if oldest == 0 || (a.Timestamp > 0 && a.Timestamp < oldest) {
			oldest = a.Timestamp
		}
	}
	if oldest > 0 {
		stats.OldestAgeSeconds = (q.now().UnixMilli() - oldest) / 1000
	}
	return stats
}

// persistLocked writes a snapshot. Failures are logged; the in-memory queue
// stays authoritative.
func (q *ActionQueue) persistLocked(ctx context.Context) {
	snapshot := make([]Action, len(q.items))
	copy(snapshot, q.items)
	if err := q.store.Save(ctx, snapshot); err != nil {
		q.log.WithError(err).Warn("queue snapshot failed")
	}
}
