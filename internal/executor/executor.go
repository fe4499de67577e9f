// Package executor performs the click for a resolved action.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/locator"
	"github.com/k8ika0s/shop-assistant/internal/page"
)

// Job is one action to execute: either a descriptor or a named kind.
type Job struct {
	ActionID   string
	Kind       string
	Descriptor locator.Descriptor
}

// Result is the structured outcome sent back to the background.
type Result struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ElementFound bool   `json:"elementFound"`
	Visible      bool   `json:"visible"`
	Clickable    bool   `json:"clickable"`
	Clicked      bool   `json:"clicked"`
	Selector     string `json:"selector,omitempty"`
	ElementTag   string `json:"elementTag,omitempty"`
	ElementText  string `json:"elementText,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	DurationMs   int64  `json:"durationMs"`
}

// Executor executes jobs against a page. The error return is reserved for
// conditions that end the loop (page gone, cancellation); everything else is
// a failed Result.
type Executor interface {
	Execute(ctx context.Context, p page.Page, job Job) (Result, error)
}

// ClickExecutor locates the target and clicks it like a user would.
type ClickExecutor struct {
	Locator      *locator.Locator
	ScrollSettle time.Duration
	ClickSettle  time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
	Log          logrus.FieldLogger
}

// NewClickExecutor returns an executor with the default 400ms/800ms settles.
func NewClickExecutor(loc *locator.Locator, log logrus.FieldLogger) *ClickExecutor {
	return &ClickExecutor{
		Locator:      loc,
		ScrollSettle: 400 * time.Millisecond,
		ClickSettle:  800 * time.Millisecond,
		Sleep:        locator.Sleep,
		Log:          log,
	}
}

func (c *ClickExecutor) Execute(ctx context.Context, p page.Page, job Job) (Result, error) {
	start := time.Now()
	res, err := c.execute(ctx, p, job)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil && fatal(ctx, err) {
		return res, err
	}
	if err != nil {
		res.Success = false
		res.Message = err.Error()
	}
	c.log(job, res).Info("action executed")
	return res, nil
}

func (c *ClickExecutor) execute(ctx context.Context, p page.Page, job Job) (Result, error) {
	var (
		resolution locator.Resolution
		err        error
	)
	switch {
	case job.Descriptor.Tag != "":
		resolution, err = c.Locator.Locate(ctx, p, job.Descriptor)
	case job.Kind != "":
		kind, ok := locator.LookupKind(job.Kind)
		if !ok {
			return Result{Message: fmt.Sprintf("Unknown action type %q and no tag provided", job.Kind)}, nil
		}
		resolution, err = c.Locator.LocateKind(ctx, p, kind)
	default:
		return Result{Message: "Tag parameter is required"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("select and click action failed: %w", err)
	}

	el := resolution.Element
	res := Result{
		Message:      resolution.Message(),
		ElementFound: resolution.Outcome != locator.NotFound,
		Visible:      resolution.Outcome == locator.Ready || resolution.Outcome == locator.NotClickable,
		Clickable:    resolution.Outcome == locator.Ready,
		Selector:     resolution.Target.Selector,
		ElementTag:   el.Tag,
		Strategy:     resolution.Strategy,
	}
	if resolution.Outcome != locator.Ready {
		return res, nil
	}
	res.ElementText = el.Label()

	if err := p.ScrollIntoView(ctx, resolution.Target); err != nil {
		return res, fmt.Errorf("scroll into view: %w", err)
	}
	if err := c.Sleep(ctx, c.ScrollSettle); err != nil {
		return res, err
	}
	if err := p.Focus(ctx, resolution.Target); err != nil {
		return res, fmt.Errorf("focus: %w", err)
	}
	report, err := p.Click(ctx, resolution.Target)
	if err != nil {
		return res, fmt.Errorf("element found but click failed: %w", err)
	}
	if err := c.Sleep(ctx, c.ClickSettle); err != nil {
		return res, err
	}
	res.Clicked = report.Synthetic || report.Native
	res.Success = res.Clicked
	label := res.ElementText
	if label == "" {
		label = res.Selector
	}
	res.Message = fmt.Sprintf("Successfully clicked element: %s", label)
	return res, nil
}

func (c *ClickExecutor) log(job Job, res Result) *logrus.Entry {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithFields(logrus.Fields{
		"action_id":   job.ActionID,
		"selector":    res.Selector,
		"success":     res.Success,
		"duration_ms": res.DurationMs,
	})
}

func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, page.ErrPageGone) || ctx.Err() != nil
}

// FakeExecutor is used in tests.
type FakeExecutor struct {
	Calls   []Job
	Results []Result
	Result  Result
	Err     error
}

// Execute returns Results in order, then Result for every later call.
func (f *FakeExecutor) Execute(_ context.Context, _ page.Page, job Job) (Result, error) {
	f.Calls = append(f.Calls, job)
	if f.Err != nil {
		return Result{}, f.Err
	}
	if n := len(f.Calls); n <= len(f.Results) {
		return f.Results[n-1], nil
	}
	return f.Result, nil
}
