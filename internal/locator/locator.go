package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/page"
)

// Outcome is the discriminant of a Resolution.
type Outcome string

const (
	NotFound     Outcome = "not-found"
	Invisible    Outcome = "invisible"
	NotClickable Outcome = "not-clickable"
	Ready        Outcome = "ready"
)

// Resolution describes what the locator found. Target and Element are only
// meaningful when Outcome is not NotFound.
type Resolution struct {
	Outcome  Outcome      `json:"outcome"`
	Target   page.Target  `json:"target"`
	Element  page.Element `json:"element"`
	Attempts int          `json:"attempts"`
	Matches  int          `json:"matches"`
	Strategy string       `json:"strategy"`
}

// Message renders the resolution for results and notifications.
func (r Resolution) Message() string {
	switch r.Outcome {
	case Ready:
		return fmt.Sprintf("Element ready: %s", r.Target.Selector)
	case Invisible:
		return fmt.Sprintf("Element found but not visible: %s", r.Target.Selector)
	case NotClickable:
		return fmt.Sprintf("Element found but not clickable (disabled or pointer-events: none): %s", r.Target.Selector)
	default:
		return fmt.Sprintf("Element not found with selector: %s. Tried %d attempts and alternative selectors.", r.Target.Selector, r.Attempts)
	}
}

// Options configures a Locator. Zero values pick defaults.
type Options struct {
	Rules    *Rules
	Attempts int
	Interval time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   logrus.FieldLogger
}

// Locator resolves descriptors against a page.
type Locator struct {
	rules    *Rules
	attempts int
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	log      logrus.FieldLogger
}

func New(opts Options) *Locator {
	l := &Locator{
		rules:    opts.Rules,
		attempts: opts.Attempts,
		interval: opts.Interval,
		sleep:    opts.Sleep,
		log:      opts.Logger,
	}
	if l.rules == nil {
		l.rules = NewRules(DefaultRules()...)
	}
	if l.attempts <= 0 {
		l.attempts = 5
	}
	if l.interval <= 0 {
		l.interval = time.Second
	}
	if l.sleep == nil {
		l.sleep = Sleep
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	return l
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Locate queries the descriptor's selector with bounded retry, then the
// fallback rules once each, and classifies the first match.
func (l *Locator) Locate(ctx context.Context, q page.Querier, d Descriptor) (Resolution, error) {
	selector, err := BuildSelector(d)
	if err != nil {
		return Resolution{}, err
	}
	log := l.log.WithField("selector", selector)
	res := Resolution{Outcome: NotFound, Target: page.Target{Selector: selector}, Strategy: "descriptor"}

	var els []page.Element
	for attempt := 1; attempt <= l.attempts; attempt++ {
		res.Attempts = attempt
		els, err = q.Query(ctx, selector)
		if err != nil {
			return res, fmt.Errorf("query %s: %w", selector, err)
		}
		if len(els) > 0 {
			log.WithField("attempt", attempt).Debug("element found")
			break
		}
		log.WithField("attempt", attempt).Debug("element not found")
		if attempt < l.attempts {
			if err := l.sleep(ctx, l.interval); err != nil {
				return res, err
			}
		}
	}

	if len(els) == 0 {
		for _, alt := range l.rules.Alternatives(d.Attributes) {
			found, err := q.Query(ctx, alt)
			if errors.Is(err, page.ErrInvalidSelector) {
				log.WithField("alternative", alt).Debug("alternative selector rejected by page")
				continue
			}
			if err != nil {
				return res, fmt.Errorf("query %s: %w", alt, err)
			}
			if len(found) > 0 {
				log.WithField("alternative", alt).Info("element found with alternative selector")
				els = found
				res.Target.Selector = alt
				res.Strategy = "fallback"
				break
			}
		}
	}
	if len(els) == 0 {
		return res, nil
	}
	return l.classify(res, els), nil
}

func (l *Locator) classify(res Resolution, els []page.Element) Resolution {
	el := els[0]
	res.Matches = len(els)
	res.Element = el
	res.Target.Index = el.Index
	if res.Matches > 1 {
		l.log.WithFields(logrus.Fields{"selector": res.Target.Selector, "matches": res.Matches}).Warn("selector is ambiguous, using first match")
	}
	switch {
	case !el.Visible():
		res.Outcome = Invisible
	case !el.Clickable():
		res.Outcome = NotClickable
	default:
		res.Outcome = Ready
	}
	return res
}

// LocateKind resolves a named control by its curated selectors, accepting a
// match when its label fits the kind or the selector itself names it, then
// by scanning generic buttons for a strict label match.
func (l *Locator) LocateKind(ctx context.Context, q page.Querier, k Kind) (Resolution, error) {
	res := Resolution{Outcome: NotFound, Strategy: "kind:" + k.Name, Attempts: 1}
	var fallback *Resolution

	consider := func(selector string, els []page.Element, accept func(page.Element) bool) bool {
		for _, el := range els {
			if !accept(el) {
				continue
			}
			cand := res
			cand.Target = page.Target{Selector: selector, Index: el.Index}
			cand.Element = el
			cand.Matches = len(els)
			switch {
			case !el.Visible():
				cand.Outcome = Invisible
			case !el.Clickable():
				cand.Outcome = NotClickable
			default:
				cand.Outcome = Ready
				res = cand
				return true
			}
			if fallback == nil {
				fallback = &cand
			}
		}
		return false
	}

	for _, selector := range k.Selectors {
		els, err := q.Query(ctx, selector)
		if errors.Is(err, page.ErrInvalidSelector) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("query %s: %w", selector, err)
		}
		vouched := k.vouches(selector)
		if consider(selector, els, func(el page.Element) bool {
			return vouched || k.Label.MatchString(el.Label())
		}) {
			return res, nil
		}
	}
	if k.Generic != "" {
		els, err := q.Query(ctx, k.Generic)
		if err != nil && !errors.Is(err, page.ErrInvalidSelector) {
			return res, fmt.Errorf("query %s: %w", k.Generic, err)
		}
		if consider(k.Generic, els, func(el page.Element) bool {
			return k.GenericLabel.MatchString(el.Label())
		}) {
			return res, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	res.Target.Selector = k.Name
	return res, nil
}
