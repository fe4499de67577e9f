package page

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Notification is a message shown through Notify.
type Notification struct {
	Message string
	Success bool
}

// Document is a static HTML page backed by goquery. Layout is approximated
// from inline styles: every element is 100x20 unless its style says
// width or height is zero.
type Document struct {
	mu         sync.Mutex
	doc        *goquery.Document
	url        string
	readyState string
	mutations  int64
	closed     bool

	clicks        []Target
	notifications []Notification

	// OnClick runs after a click is recorded, outside the lock, so it may
	// call SetHTML or Mutate to simulate navigation.
	OnClick func(t Target, el Element)
}

// NewDocument parses html as the page at url.
func NewDocument(url, html string) (*Document, error) {
	return NewDocumentFromReader(url, strings.NewReader(html))
}

// NewDocumentFromReader parses r as the page at url.
func NewDocumentFromReader(url string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{doc: doc, url: url, readyState: "complete"}, nil
}

// SetHTML replaces the whole document and counts as a mutation.
func (d *Document) SetHTML(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc = doc
	d.mutations++
	return nil
}

// Mutate edits the document in place and counts as a mutation.
func (d *Document) Mutate(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc)
	d.mutations++
}

func (d *Document) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

func (d *Document) SetReadyState(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyState = state
}

// Close makes every later call fail with ErrPageGone.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Clicks returns the targets clicked so far.
func (d *Document) Clicks() []Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Target(nil), d.clicks...)
}

// Notifications returns every Notify call so far.
func (d *Document) Notifications() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.notifications...)
}

func (d *Document) URL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(ctx); err != nil {
		return "", err
	}
	return d.url, nil
}

func (d *Document) ReadyState(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(ctx); err != nil {
		return "", err
	}
	return d.readyState, nil
}

func (d *Document) MutationCount(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(ctx); err != nil {
		return 0, err
	}
	return d.mutations, nil
}

func (d *Document) Query(ctx context.Context, selector string) ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(ctx); err != nil {
		return nil, err
	}
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}
	out := []Element{}
	d.doc.FindMatcher(sel).EachWithBreak(func(i int, s *goquery.Selection) bool {
		out = append(out, describe(i, s))
		return len(out) < MaxMatches
	})
	return out, nil
}

func (d *Document) ScrollIntoView(ctx context.Context, t Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(ctx); err != nil {
		return err
	}
	_, err := d.resolve(t)
	return err
}

func (d *Document) Focus(ctx context.Context, t Target) error {
	return d.ScrollIntoView(ctx, t)
}

func (d *Document) Click(ctx context.Context, t Target) (ClickReport, error) {
	d.mu.Lock()
	if err := d.usable(ctx); err != nil {
		d.mu.Unlock()
		return ClickReport{}, err
	}
	s, err := d.resolve(t)
	if err != nil {
		d.mu.Unlock()
		return ClickReport{}, err
	}
	el := describe(t.Index, s)
	report := ClickReport{Synthetic: true, Native: true}
	if el.Tag == "input" && strings.EqualFold(el.Type, "submit") && s.Closest("form").Length() > 0 {
		report.FormSubmitted = true
	}
	d.clicks = append(d.clicks, t)
	hook := d.OnClick
	d.mu.Unlock()
	if hook != nil {
		hook(t, el)
	}
	return report, nil
}

func (d *Document) Notify(ctx context.Context, message string, success bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(ctx); err != nil {
		return err
	}
	d.notifications = append(d.notifications, Notification{Message: message, Success: success})
	return nil
}

func (d *Document) Capture(ctx context.Context) (Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(ctx); err != nil {
		return Capture{}, err
	}
	html, err := d.doc.Html()
	if err != nil {
		return Capture{}, err
	}
	return Capture{Data: []byte(html), ContentType: "text/html; charset=utf-8", Ext: "html"}, nil
}

func (d *Document) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return ErrPageGone
	}
	return nil
}

func (d *Document) resolve(t Target) (*goquery.Selection, error) {
	sel, err := compile(t.Selector)
	if err != nil {
		return nil, err
	}
	s := d.doc.FindMatcher(sel).Eq(t.Index)
	if s.Length() == 0 {
		return nil, fmt.Errorf("%w: %s[%d]", ErrNoElement, t.Selector, t.Index)
	}
	return s, nil
}

func compile(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSelector, selector, err)
	}
	return sel, nil
}

func describe(index int, s *goquery.Selection) Element {
	el := Element{
		Index:         index,
		Tag:           strings.ToLower(goquery.NodeName(s)),
		Text:          strings.Join(strings.Fields(s.Text()), " "),
		Value:         s.AttrOr("value", ""),
		AriaLabel:     s.AttrOr("aria-label", ""),
		Title:         s.AttrOr("title", ""),
		Type:          s.AttrOr("type", ""),
		Width:         100,
		Height:        20,
		Display:       "block",
		Visibility:    "visible",
		Opacity:       "1",
		PointerEvents: "auto",
	}
	_, el.Disabled = s.Attr("disabled")
	if el.Tag == "input" && strings.EqualFold(el.Type, "hidden") {
		el.Display = "none"
	}
	own := inlineStyle(s)
	if isZero(own["width"]) {
		el.Width = 0
	}
	if isZero(own["height"]) {
		el.Height = 0
	}
	if v := own["pointer-events"]; v != "" {
		el.PointerEvents = v
	}
	visibility := ""
	for node := s; node.Length() > 0; node = node.Parent() {
		if goquery.NodeName(node) == "#document" {
			break
		}
		style := inlineStyle(node)
		if _, hidden := node.Attr("hidden"); hidden || style["display"] == "none" {
			el.Display = "none"
		}
		if isZero(style["opacity"]) {
			el.Opacity = "0"
		}
		if visibility == "" && style["visibility"] != "" {
			visibility = style["visibility"]
		}
	}
	if visibility == "hidden" || visibility == "collapse" {
		el.Visibility = "hidden"
	}
	return el
}

func inlineStyle(s *goquery.Selection) map[string]string {
	out := map[string]string{}
	raw, ok := s.Attr("style")
	if !ok {
		return out
	}
	for _, decl := range strings.Split(raw, ";") {
		k, v, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(v)
	}
	return out
}

func isZero(v string) bool {
	switch strings.TrimSpace(v) {
	case "0", "0px", "0%", "0.0", "0em", "0rem":
		return true
	}
	return false
}
