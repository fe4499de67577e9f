package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// BrowserOptions configures Launch.
type BrowserOptions struct {
	ExecPath    string
	Headless    bool
	UserDataDir string
	StartURL    string
	OpTimeout   time.Duration
	Logf        func(string, ...any)
}

// Tab drives one Chrome tab over the DevTools protocol.
type Tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	gone    atomic.Bool
}

// Launch starts Chrome, opens a tab and navigates to StartURL if set.
func Launch(ctx context.Context, opts BrowserOptions) (*Tab, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("no-first-run", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	var ctxOpts []chromedp.ContextOption
	if opts.Logf != nil {
		ctxOpts = append(ctxOpts, chromedp.WithLogf(opts.Logf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)
	t := &Tab{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		timeout: opts.OpTimeout,
	}
	if t.timeout <= 0 {
		t.timeout = 10 * time.Second
	}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev.(type) {
		case *inspector.EventDetached, *inspector.EventTargetCrashed:
			t.gone.Store(true)
		}
	})
	// the first Run starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		t.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	if opts.StartURL != "" {
		if err := t.Navigate(ctx, opts.StartURL); err != nil {
			t.Close()
			return nil, err
		}
	}
	return t, nil
}

// Close shuts the tab and its browser down.
func (t *Tab) Close() {
	t.gone.Store(true)
	t.cancel()
}

// Navigate loads url and waits for the body.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (t *Tab) ReadyState(ctx context.Context) (string, error) {
	var state string
	if err := t.eval(ctx, `document.readyState`, &state); err != nil {
		return "", err
	}
	return state, nil
}

func (t *Tab) MutationCount(ctx context.Context) (int64, error) {
	var n int64
	if err := t.eval(ctx, mutationJS, &n); err != nil {
		return 0, err
	}
	return n, nil
}

type queryResult struct {
	Invalid  string    `json:"invalid"`
	Elements []Element `json:"elements"`
}

func (t *Tab) Query(ctx context.Context, selector string) ([]Element, error) {
	var res queryResult
	if err := t.eval(ctx, fmt.Sprintf(queryJS, jsonEncode(selector), MaxMatches), &res); err != nil {
		return nil, err
	}
	if res.Invalid != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidSelector, selector, res.Invalid)
	}
	if res.Elements == nil {
		res.Elements = []Element{}
	}
	return res.Elements, nil
}

func (t *Tab) ScrollIntoView(ctx context.Context, target Target) error {
	return t.onTarget(ctx, target, `el.scrollIntoView({behavior: 'smooth', block: 'center'}); return {found: true};`, nil)
}

func (t *Tab) Focus(ctx context.Context, target Target) error {
	return t.onTarget(ctx, target, `if (el.focus) { el.focus(); } return {found: true};`, nil)
}

func (t *Tab) Click(ctx context.Context, target Target) (ClickReport, error) {
	var report ClickReport
	err := t.onTarget(ctx, target, clickJS, &report)
	return report, err
}

func (t *Tab) Notify(ctx context.Context, message string, success bool) error {
	var ok bool
	return t.eval(ctx, fmt.Sprintf(notifyJS, jsonEncode(message), success), &ok)
}

func (t *Tab) Capture(ctx context.Context) (Capture, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return Capture{}, err
	}
	return Capture{Data: buf, ContentType: "image/png", Ext: "png"}, nil
}

type targetResult struct {
	Found bool   `json:"found"`
	Error string `json:"error"`
	ClickReport
}

func (t *Tab) onTarget(ctx context.Context, target Target, body string, report *ClickReport) error {
	script := fmt.Sprintf(`(function(sel, idx) {
	let el;
	try { el = document.querySelectorAll(sel)[idx]; } catch (e) { return {found: false, error: String(e && e.message || e)}; }
	if (!el) { return {found: false}; }
	try { %s } catch (e) { return {found: true, error: String(e && e.message || e)}; }
})(%s, %d)`, body, jsonEncode(target.Selector), target.Index)
	var res targetResult
	if err := t.eval(ctx, script, &res); err != nil {
		return err
	}
	if !res.Found {
		if res.Error != "" {
			return fmt.Errorf("%w: %s: %s", ErrInvalidSelector, target.Selector, res.Error)
		}
		return fmt.Errorf("%w: %s[%d]", ErrNoElement, target.Selector, target.Index)
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	if report != nil {
		*report = res.ClickReport
	}
	return nil
}

func (t *Tab) eval(ctx context.Context, script string, out any) error {
	var raw json.RawMessage
	err := t.run(ctx, chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// run executes actions on the tab, bounded by the op timeout and by ctx.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	if t.gone.Load() || t.ctx.Err() != nil {
		return ErrPageGone
	}
	opCtx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if t.gone.Load() || t.ctx.Err() != nil {
			return ErrPageGone
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

const queryJS = `(function(sel, max) {
	let nodes;
	try { nodes = document.querySelectorAll(sel); } catch (e) { return {invalid: String(e && e.message || e)}; }
	const out = [];
	for (let i = 0; i < nodes.length && i < max; i++) {
		const el = nodes[i];
		const r = el.getBoundingClientRect();
		const cs = window.getComputedStyle(el);
		out.push({
			index: i,
			tag: el.tagName.toLowerCase(),
			text: (el.textContent || '').trim().replace(/\s+/g, ' ').slice(0, 200),
			value: el.getAttribute('value') || '',
			ariaLabel: el.getAttribute('aria-label') || '',
			title: el.getAttribute('title') || '',
			type: el.getAttribute('type') || '',
			width: r.width,
			height: r.height,
			display: cs.display,
			visibility: cs.visibility,
			opacity: cs.opacity,
			pointerEvents: cs.pointerEvents,
			disabled: el.hasAttribute('disabled')
		});
	}
	return {elements: out};
})(%s, %d)`

const mutationJS = `(function() {
	if (!window.__assistantMutations) {
		window.__assistantMutations = {count: 0};
		new MutationObserver(function(list) { window.__assistantMutations.count += list.length; })
			.observe(document.documentElement || document, {childList: true, subtree: true, attributes: true, characterData: true});
	}
	return window.__assistantMutations.count;
})()`

const clickJS = `const report = {found: true, synthetic: false, native: false, formSubmitted: false};
	for (const type of ['mousedown', 'mouseup', 'click']) {
		el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
	}
	report.synthetic = true;
	if (el.click) { el.click(); report.native = true; }
	if (el.tagName.toLowerCase() === 'input' && el.getAttribute('type') === 'submit') {
		const form = el.closest('form');
		if (form) {
			form.dispatchEvent(new Event('submit', {bubbles: true, cancelable: true}));
			report.formSubmitted = true;
		}
	}
	return report;`

const notifyJS = `(function(msg, ok) {
	const box = document.createElement('div');
	box.textContent = msg;
	box.setAttribute('data-shop-assistant', 'toast');
	box.style.cssText = 'position:fixed;top:16px;right:16px;z-index:2147483647;padding:10px 14px;' +
		'border-radius:6px;font:13px sans-serif;color:#fff;box-shadow:0 2px 8px rgba(0,0,0,.3);' +
		'background:' + (ok ? '#2e7d32' : '#c62828');
	(document.body || document.documentElement).appendChild(box);
	setTimeout(function() { box.remove(); }, 4000);
	return true;
})(%s, %t)`
