package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/executor"
	"github.com/k8ika0s/shop-assistant/internal/locator"
	"github.com/k8ika0s/shop-assistant/internal/objectstore"
	"github.com/k8ika0s/shop-assistant/internal/page"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
	"github.com/k8ika0s/shop-assistant/internal/queue"
)

// State is where the loop currently is.
type State string

const (
	StateStarting      State = "starting"
	StateIdleOffSite   State = "idle-off-site"
	StateWaitingReady  State = "waiting-for-page-ready"
	StateWaitingStable State = "waiting-for-stability"
	StateUnauthorized  State = "unauthorized"
	StateFetching      State = "fetching-action"
	StateNoAction      State = "no-action"
	StateExecuting     State = "executing-action"
	StateHandling      State = "handling-result"
	StateBackoff       State = "backoff"
	StateStopped       State = "stopped"
)

// ErrTransportLost ends the loop after too many consecutive failures to
// reach the background.
var ErrTransportLost = errors.New("background unreachable")

// Backend is the part of the background the loop talks to.
// *protocol.Client implements it.
type Backend interface {
	Pop(ctx context.Context) (protocol.PopResponse, error)
	MarkCompleted(ctx context.Context, agentID, taskID string, result *executor.Result) (protocol.CompletedResponse, error)
	MarkFailed(ctx context.Context, agentID string, task queue.Action, msg string, result *executor.Result) (protocol.FailedResponse, error)
	Clear(ctx context.Context) (protocol.ClearResponse, error)
	Session(ctx context.Context) (protocol.SessionResponse, error)
}

// Snapshot is the loop's externally visible state.
type Snapshot struct {
	State               State            `json:"state"`
	URL                 string           `json:"url,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	TransportFailures   int              `json:"transport_failures"`
	Executed            int64            `json:"executed"`
	LastActionID        string           `json:"last_action_id,omitempty"`
	LastResult          *executor.Result `json:"last_result,omitempty"`
	UpdatedAt           int64            `json:"updated_at"`
}

// Loop drives one page: it waits for the page to settle, pops one action at
// a time and executes it. It owns the page; nothing else touches it.
type Loop struct {
	cfg      Config
	page     page.Page
	backend  Backend
	exec     executor.Executor
	captures objectstore.Store
	log      logrus.FieldLogger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// LoopOptions are the collaborators of a Loop. Nil Captures, Log and Sleep
// get defaults.
type LoopOptions struct {
	Page     page.Page
	Backend  Backend
	Executor executor.Executor
	Captures objectstore.Store
	Log      logrus.FieldLogger
	Sleep    func(ctx context.Context, d time.Duration) error
	Now      func() time.Time
}

func NewLoop(cfg Config, opts LoopOptions) *Loop {
	l := &Loop{
		cfg:      cfg.withDefaults(),
		page:     opts.Page,
		backend:  opts.Backend,
		exec:     opts.Executor,
		captures: opts.Captures,
		log:      opts.Log,
		sleep:    opts.Sleep,
		now:      opts.Now,
	}
	if l.captures == nil {
		l.captures = objectstore.NullStore{}
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	if l.sleep == nil {
		l.sleep = locator.Sleep
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.log = l.log.WithField("agent_id", l.cfg.AgentID)
	l.snap = Snapshot{State: StateStarting, UpdatedAt: l.now().UnixMilli()}
	return l
}

// Snapshot returns a copy of the current state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Loop) update(fn func(s *Snapshot)) {
	l.mu.Lock()
	fn(&l.snap)
	l.snap.UpdatedAt = l.now().UnixMilli()
	l.mu.Unlock()
}

func (l *Loop) setState(st State) {
	l.update(func(s *Snapshot) { s.State = st })
	l.log.WithField("state", st).Debug("state changed")
}

// Run steps until ctx is done, the page goes away or the background stays
// unreachable.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("execution loop started")
	for {
		delay, err := l.Step(ctx)
		if err != nil {
			l.setState(StateStopped)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.WithError(err).Warn("execution loop stopped")
			return err
		}
		if delay > 0 {
			if err := l.sleep(ctx, delay); err != nil {
				l.setState(StateStopped)
				return err
			}
		}
	}
}

// Step runs one iteration and returns how long to wait before the next.
// A non-nil error means the loop must stop.
func (l *Loop) Step(ctx context.Context) (time.Duration, error) {
	rawURL, err := l.page.URL(ctx)
	if err != nil {
		return l.pageError(ctx, err)
	}
	l.update(func(s *Snapshot) { s.URL = rawURL })
	if !l.onTargetSite(rawURL) {
		l.setState(StateIdleOffSite)
		return l.cfg.OffsiteInterval, nil
	}

	l.setState(StateWaitingReady)
	if err := l.waitReady(ctx); err != nil {
		return l.pageError(ctx, err)
	}
	l.setState(StateWaitingStable)
	if err := l.waitStable(ctx); err != nil {
		return l.pageError(ctx, err)
	}

	if l.cfg.RequireSession {
		resp, err := l.backend.Session(ctx)
		if err != nil {
			return l.transportError(ctx, "session check failed", err)
		}
		l.transportOK()
		if !resp.Session.Authorized {
			l.setState(StateUnauthorized)
			return l.cfg.IdleInterval, nil
		}
	}

	l.setState(StateFetching)
	pop, err := l.backend.Pop(ctx)
	if err != nil {
		return l.transportError(ctx, "pop failed", err)
	}
	l.transportOK()
	if pop.Action == nil {
		l.setState(StateNoAction)
		return l.cfg.IdleInterval, nil
	}

	task := *pop.Action
	log := l.log.WithFields(logrus.Fields{"action_id": task.ID, "type": task.Kind()})
	l.setState(StateExecuting)
	tag, attrs := task.Descriptor()
	res, err := l.exec.Execute(ctx, l.page, executor.Job{
		ActionID:   task.ID,
		Kind:       task.Kind(),
		Descriptor: locator.Descriptor{Tag: tag, Attributes: attrs},
	})
	if err != nil {
		// the popped task would otherwise be lost with the page
		if l.cfg.RequeueOnFailure {
			_ = l.reportFailure(context.WithoutCancel(ctx), log, task, err.Error(), nil)
		}
		return l.pageError(ctx, err)
	}
	l.update(func(s *Snapshot) {
		s.Executed++
		s.LastActionID = task.ID
		r := res
		s.LastResult = &r
	})

	l.setState(StateHandling)
	if res.Success {
		return l.handleSuccess(ctx, log, task, pop.QueueLength, res)
	}
	return l.handleFailure(ctx, log, task, res)
}

func (l *Loop) handleSuccess(ctx context.Context, log logrus.FieldLogger, task queue.Action, remaining int, res executor.Result) (time.Duration, error) {
	l.update(func(s *Snapshot) { s.ConsecutiveFailures = 0 })
	log.WithField("selector", res.Selector).Info(res.Message)
	if err := l.notify(ctx, res.Message, true); err != nil {
		return 0, err
	}
	if _, err := l.backend.MarkCompleted(ctx, l.cfg.AgentID, task.ID, &res); err != nil {
		return l.transportError(ctx, "mark completed failed", err)
	}
	l.transportOK()
	if remaining > 0 {
		return 0, nil
	}
	return l.cfg.IdleInterval, nil
}

func (l *Loop) handleFailure(ctx context.Context, log logrus.FieldLogger, task queue.Action, res executor.Result) (time.Duration, error) {
	var failures int
	l.update(func(s *Snapshot) {
		s.ConsecutiveFailures++
		failures = s.ConsecutiveFailures
	})
	log.WithFields(logrus.Fields{"selector": res.Selector, "consecutive_failures": failures}).Warn(res.Message)
	if err := l.notify(ctx, "Action failed: "+res.Message, false); err != nil {
		return 0, err
	}
	l.uploadCapture(ctx, log, task)
	if l.cfg.RequeueOnFailure {
		if err := l.reportFailure(ctx, log, task, res.Message, &res); err != nil {
			return l.transportError(ctx, "mark failed failed", err)
		}
	}

	if failures >= l.cfg.FailureThreshold {
		cleared, err := l.backend.Clear(ctx)
		if err != nil {
			return l.transportError(ctx, "clear after failures failed", err)
		}
		l.transportOK()
		l.update(func(s *Snapshot) { s.ConsecutiveFailures = 0 })
		msg := fmt.Sprintf("%d consecutive failures, queue cleared (removed %d action(s))", failures, cleared.PreviousLength)
		log.Warn(msg)
		if err := l.notify(ctx, msg, false); err != nil {
			return 0, err
		}
		return l.cfg.IdleInterval, nil
	}
	return backoff(failures, l.cfg.MaxBackoff), nil
}

func (l *Loop) reportFailure(ctx context.Context, log logrus.FieldLogger, task queue.Action, msg string, res *executor.Result) error {
	fr, err := l.backend.MarkFailed(ctx, l.cfg.AgentID, task, msg, res)
	if err != nil {
		log.WithError(err).Warn("could not report failure")
		return err
	}
	l.transportOK()
	log.WithFields(logrus.Fields{"retry_count": fr.RetryCount, "will_retry": fr.WillRetry}).Info(fr.Message)
	return nil
}

func (l *Loop) uploadCapture(ctx context.Context, log logrus.FieldLogger, task queue.Action) {
	if _, ok := l.captures.(objectstore.NullStore); ok {
		return
	}
	c, err := l.page.Capture(ctx)
	if err != nil {
		log.WithError(err).Debug("page capture failed")
		return
	}
	key := objectstore.CaptureKey(l.cfg.AgentID, task.ID, l.now(), c.Ext)
	if err := l.captures.Put(ctx, key, c.Data, c.ContentType); err != nil {
		log.WithError(err).Warn("capture upload failed")
		return
	}
	log.WithField("key", key).Info("failure capture stored")
}

// notify shows a toast; only a vanished page is fatal.
func (l *Loop) notify(ctx context.Context, msg string, success bool) error {
	if err := l.page.Notify(ctx, msg, success); err != nil {
		if errors.Is(err, page.ErrPageGone) {
			return err
		}
		l.log.WithError(err).Debug("notification failed")
	}
	return nil
}

// waitReady polls readyState until "complete", then lets the page settle.
// A page that never completes is used anyway once the timeout passes.
func (l *Loop) waitReady(ctx context.Context) error {
	var waited time.Duration
	for {
		state, err := l.page.ReadyState(ctx)
		if err != nil {
			return err
		}
		if state == "complete" {
			break
		}
		if waited >= l.cfg.ReadyTimeout {
			l.log.WithField("ready_state", state).Warn("page not ready after timeout, continuing")
			break
		}
		if err := l.sleep(ctx, l.cfg.ReadyPoll); err != nil {
			return err
		}
		waited += l.cfg.ReadyPoll
	}
	return l.sleep(ctx, l.cfg.SettleDelay)
}

// waitStable waits for a quiet period without DOM mutations, bounded by
// the stability ceiling.
func (l *Loop) waitStable(ctx context.Context) error {
	last, err := l.page.MutationCount(ctx)
	if err != nil {
		return err
	}
	var quiet, waited time.Duration
	for quiet < l.cfg.StableQuiet {
		if waited >= l.cfg.StableCeiling {
			l.log.Debug("page still mutating, continuing")
			return nil
		}
		if err := l.sleep(ctx, l.cfg.StablePoll); err != nil {
			return err
		}
		waited += l.cfg.StablePoll
		n, err := l.page.MutationCount(ctx)
		if err != nil {
			return err
		}
		if n != last {
			last = n
			quiet = 0
			continue
		}
		quiet += l.cfg.StablePoll
	}
	return nil
}

func (l *Loop) onTargetSite(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range l.cfg.TargetHosts {
		if h != "" && strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// pageError stops on a vanished page or cancellation and backs off on
// anything else.
func (l *Loop) pageError(ctx context.Context, err error) (time.Duration, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if errors.Is(err, page.ErrPageGone) {
		return 0, err
	}
	return l.failureTick(err, false)
}

func (l *Loop) transportError(ctx context.Context, what string, err error) (time.Duration, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if protocol.IsAuth(err) {
		l.log.WithError(err).Error("background rejected the agent token")
	} else {
		l.log.WithError(err).Warn(what)
	}
	return l.failureTick(err, protocol.IsTransport(err))
}

func (l *Loop) failureTick(err error, transport bool) (time.Duration, error) {
	var failures, transportFailures int
	l.update(func(s *Snapshot) {
		s.State = StateBackoff
		s.ConsecutiveFailures++
		if transport {
			s.TransportFailures++
		}
		failures, transportFailures = s.ConsecutiveFailures, s.TransportFailures
	})
	if transport && transportFailures >= l.cfg.MaxTransportFailures {
		return 0, fmt.Errorf("%w after %d attempts: %v", ErrTransportLost, transportFailures, err)
	}
	d := backoff(failures, l.cfg.MaxBackoff)
	l.log.WithFields(logrus.Fields{"consecutive_failures": failures, "backoff": d}).Debug("backing off")
	return d, nil
}

func (l *Loop) transportOK() {
	l.update(func(s *Snapshot) { s.TransportFailures = 0 })
}

// backoff is min(1s * 2^(n-1), max).
func backoff(n int, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Second
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
