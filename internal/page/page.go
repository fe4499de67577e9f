// Package page abstracts the browser tab the agent drives. Tab talks to a
// real Chrome over CDP; Document is an in-memory HTML page used for dry runs
// and tests.
package page

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrPageGone means the tab or document is no longer reachable.
	ErrPageGone = errors.New("page target gone")
	// ErrInvalidSelector means the selector could not be parsed by the page.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrNoElement means a target no longer resolves to an element.
	ErrNoElement = errors.New("element not found")
)

// MaxMatches caps how many elements a query reports.
const MaxMatches = 50

// Target addresses the index-th match of a selector.
type Target struct {
	Selector string `json:"selector"`
	Index    int    `json:"index"`
}

// Element is a snapshot of a matched node and its computed style.
type Element struct {
	Index         int     `json:"index"`
	Tag           string  `json:"tag"`
	Text          string  `json:"text"`
	Value         string  `json:"value"`
	AriaLabel     string  `json:"ariaLabel"`
	Title         string  `json:"title"`
	Type          string  `json:"type"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	Display       string  `json:"display"`
	Visibility    string  `json:"visibility"`
	Opacity       string  `json:"opacity"`
	PointerEvents string  `json:"pointerEvents"`
	Disabled      bool    `json:"disabled"`
}

// Visible reports a non-empty box that is displayed, not hidden and not
// fully transparent.
func (e Element) Visible() bool {
	return e.Width > 0 && e.Height > 0 &&
		e.Display != "none" && e.Visibility != "hidden" && e.Opacity != "0"
}

// Clickable reports an enabled element that accepts pointer events.
func (e Element) Clickable() bool {
	return !e.Disabled && e.PointerEvents != "none"
}

// Label is the human-facing text: textContent, then value, aria-label, title.
func (e Element) Label() string {
	for _, s := range []string{e.Text, e.Value, e.AriaLabel, e.Title} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// ClickReport says which click paths were exercised.
type ClickReport struct {
	Synthetic     bool `json:"synthetic"`
	Native        bool `json:"native"`
	FormSubmitted bool `json:"formSubmitted"`
}

// Capture is a snapshot of the page kept for failure analysis.
type Capture struct {
	Data        []byte
	ContentType string
	Ext         string
}

// Querier finds elements. It returns no error and an empty slice when
// nothing matches.
type Querier interface {
	Query(ctx context.Context, selector string) ([]Element, error)
}

// Page is everything the agent needs from a tab.
type Page interface {
	Querier
	URL(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)
	MutationCount(ctx context.Context) (int64, error)
	ScrollIntoView(ctx context.Context, t Target) error
	Focus(ctx context.Context, t Target) error
	Click(ctx context.Context, t Target) (ClickReport, error)
	Notify(ctx context.Context, message string, success bool) error
	Capture(ctx context.Context) (Capture, error)
}
