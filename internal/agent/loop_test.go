package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/shop-assistant/internal/api"
	"github.com/k8ika0s/shop-assistant/internal/executor"
	"github.com/k8ika0s/shop-assistant/internal/locator"
	"github.com/k8ika0s/shop-assistant/internal/logging"
	"github.com/k8ika0s/shop-assistant/internal/objectstore"
	"github.com/k8ika0s/shop-assistant/internal/page"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
	"github.com/k8ika0s/shop-assistant/internal/queue"
	"github.com/k8ika0s/shop-assistant/internal/session"
	"github.com/k8ika0s/shop-assistant/internal/store"
)

const productURL = "https://www.amazon.in/dp/B0TEST"

const productHTML = `<html><body>
<form action="/checkout/buy">
  <input id="buy-now-button" type="submit" value="Buy Now">
</form>
<button id="add-to-cart-button">Add to Cart</button>
</body></html>`

// sleeper records requested sleeps without waiting.
type sleeper struct {
	mu    sync.Mutex
	calls []time.Duration
	hook  func(n int)
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	n := len(s.calls)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (s *sleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type background struct {
	handler *api.Handler
	client  *protocol.Client
	store   *store.MemoryStore
}

func newBackground(t *testing.T) *background {
	t.Helper()
	log := logging.Discard()
	b := &background{store: store.NewMemory(100)}
	b.handler = &api.Handler{
		Queue:        queue.New(queue.Options{Logger: log}),
		Store:        b.store,
		SettingsPath: filepath.Join(t.TempDir(), "settings.json"),
		Log:          log,
	}
	mux := http.NewServeMux()
	b.handler.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c, err := protocol.New(ts.URL)
	require.NoError(t, err)
	b.client = c
	return b
}

func newDoc(t *testing.T, url, html string) *page.Document {
	t.Helper()
	doc, err := page.NewDocument(url, html)
	require.NoError(t, err)
	return doc
}

func newTestLoop(cfg Config, p page.Page, backend Backend, sl *sleeper, captures objectstore.Store) *Loop {
	log := logging.Discard()
	loc := locator.New(locator.Options{Sleep: sl.Sleep, Logger: log})
	exec := executor.NewClickExecutor(loc, log)
	exec.Sleep = sl.Sleep
	if cfg.AgentID == "" {
		cfg.AgentID = "test-agent"
	}
	return NewLoop(cfg, LoopOptions{
		Page:     p,
		Backend:  backend,
		Executor: exec,
		Captures: captures,
		Log:      log,
		Sleep:    sl.Sleep,
	})
}

func TestBuyNowEndToEnd(t *testing.T) {
	ctx := context.Background()
	bg := newBackground(t)
	_, err := bg.client.Append(ctx, queue.Action{Label: "buy now", Tag: "input", Attributes: map[string]string{"id": "buy-now-button"}})
	require.NoError(t, err)

	doc := newDoc(t, productURL, productHTML)
	l := newTestLoop(Config{RequeueOnFailure: true}, doc, bg.client, &sleeper{}, nil)

	delay, err := l.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, delay, "idle after draining the queue")

	clicks := doc.Clicks()
	require.Len(t, clicks, 1)
	assert.Equal(t, `input[id="buy-now-button"]`, clicks[0].Selector)

	snap := l.Snapshot()
	require.NotNil(t, snap.LastResult)
	assert.True(t, snap.LastResult.Success)
	assert.True(t, snap.LastResult.Clicked)
	assert.Equal(t, "Buy Now", snap.LastResult.ElementText)
	assert.Equal(t, StateHandling, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)

	length, err := bg.client.Length(ctx)
	require.NoError(t, err)
	assert.True(t, length.Success)
	assert.Zero(t, length.QueueLength)

	notes := doc.Notifications()
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Success)
	assert.Equal(t, "Successfully clicked element: Buy Now", notes[0].Message)

	done, err := bg.store.Recent(ctx, 10, store.OutcomeCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "test-agent", done[0].AgentID)
}

func TestSafetyValveClearsQueueAfterThreeFailures(t *testing.T) {
	ctx := context.Background()
	bg := newBackground(t)
	var batch []queue.Action
	for _, id := range []string{"gone-1", "gone-2", "gone-3", "gone-4", "gone-5"} {
		batch = append(batch, queue.Action{Tag: "button", Attributes: map[string]string{"id": id}})
	}
	_, err := bg.client.Append(ctx, batch...)
	require.NoError(t, err)

	doc := newDoc(t, productURL, productHTML)
	captures := objectstore.NewMemoryStore()
	l := newTestLoop(Config{RequeueOnFailure: false}, doc, bg.client, &sleeper{}, captures)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		d, err := l.Step(ctx)
		require.NoError(t, err)
		delays = append(delays, d)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, delays)

	notes := doc.Notifications()
	require.Len(t, notes, 4)
	for _, n := range notes[:3] {
		assert.False(t, n.Success)
		assert.Contains(t, n.Message, "Element not found")
	}
	assert.Contains(t, strings.ToLower(notes[3].Message), "queue cleared")
	assert.Contains(t, notes[3].Message, "removed 2 action(s)")

	length, err := bg.client.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, length.QueueLength)
	assert.Zero(t, l.Snapshot().ConsecutiveFailures)
	assert.Len(t, captures.Keys(), 3)
	assert.Empty(t, doc.Clicks())
}

func TestFailedActionIsRequeued(t *testing.T) {
	ctx := context.Background()
	bg := newBackground(t)
	_, err := bg.client.Append(ctx, queue.Action{Tag: "button", Attributes: map[string]string{"id": "late"}})
	require.NoError(t, err)

	doc := newDoc(t, productURL, productHTML)
	l := newTestLoop(Config{RequeueOnFailure: true, FailureThreshold: 10}, doc, bg.client, &sleeper{}, nil)

	d, err := l.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
	length, _ := bg.client.Length(ctx)
	assert.Equal(t, 1, length.QueueLength)

	doc.Mutate(func(g *goquery.Document) {
		g.Find("body").AppendHtml(`<button id="late">Continue</button>`)
	})
	d, err = l.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)
	assert.Len(t, doc.Clicks(), 1)

	retrying, _ := bg.store.Recent(ctx, 10, store.OutcomeRetrying)
	completed, _ := bg.store.Recent(ctx, 10, store.OutcomeCompleted)
	assert.Len(t, retrying, 1)
	assert.Len(t, completed, 1)
}

func TestDrainsBackToBack(t *testing.T) {
	ctx := context.Background()
	bg := newBackground(t)
	_, err := bg.client.Append(ctx,
		queue.Action{Tag: "input", Attributes: map[string]string{"id": "buy-now-button"}},
		queue.Action{Tag: "button", Attributes: map[string]string{"id": "add-to-cart-button"}},
	)
	require.NoError(t, err)
	doc := newDoc(t, productURL, productHTML)
	l := newTestLoop(Config{}, doc, bg.client, &sleeper{}, nil)

	d, err := l.Step(ctx)
	require.NoError(t, err)
	assert.Zero(t, d, "more work queued, no idle wait")
	d, err = l.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)
	assert.Len(t, doc.Clicks(), 2)
}

func TestOffSiteIdles(t *testing.T) {
	ctx := context.Background()
	bg := newBackground(t)
	_, err := bg.client.Append(ctx, queue.Action{Tag: "input"})
	require.NoError(t, err)

	doc := newDoc(t, "https://example.com/cart", productHTML)
	l := newTestLoop(Config{}, doc, bg.client, &sleeper{}, nil)
	d, err := l.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
	assert.Equal(t, StateIdleOffSite, l.Snapshot().State)

	length, _ := bg.client.Length(ctx)
	assert.Equal(t, 1, length.QueueLength, "nothing popped off-site")

	doc.SetURL(productURL)
	_, err = l.Step(ctx)
	require.NoError(t, err)
	length, _ = bg.client.Length(ctx)
	assert.Zero(t, length.QueueLength)
}

func TestEmptyQueueIsNoAction(t *testing.T) {
	bg := newBackground(t)
	doc := newDoc(t, productURL, productHTML)
	l := newTestLoop(Config{}, doc, bg.client, &sleeper{}, nil)
	d, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)
	assert.Equal(t, StateNoAction, l.Snapshot().State)
}

func TestSessionGate(t *testing.T) {
	ctx := context.Background()
	bg := newBackground(t)
	_, err := bg.client.Append(ctx, queue.Action{Tag: "input", Attributes: map[string]string{"id": "buy-now-button"}})
	require.NoError(t, err)
	doc := newDoc(t, productURL, productHTML)
	l := newTestLoop(Config{RequireSession: true}, doc, bg.client, &sleeper{}, nil)

	_, err = l.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateUnauthorized, l.Snapshot().State)
	assert.Empty(t, doc.Clicks())

	_, err = bg.client.SetSession(ctx, session.State{Authorized: true, User: "shopper"})
	require.NoError(t, err)
	_, err = l.Step(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Clicks(), 1)
}

func TestPageGoneStopsLoop(t *testing.T) {
	bg := newBackground(t)
	doc := newDoc(t, productURL, productHTML)
	doc.Close()
	l := newTestLoop(Config{}, doc, bg.client, &sleeper{}, nil)
	_, err := l.Step(context.Background())
	assert.ErrorIs(t, err, page.ErrPageGone)
	err = l.Run(context.Background())
	assert.ErrorIs(t, err, page.ErrPageGone)
	assert.Equal(t, StateStopped, l.Snapshot().State)
}

// downBackend fails every call like an unreachable background.
type downBackend struct{ calls int }

var errDown = errors.New("connection refused")

func (d *downBackend) Pop(context.Context) (protocol.PopResponse, error) {
	d.calls++
	return protocol.PopResponse{}, errDown
}

func (d *downBackend) MarkCompleted(context.Context, string, string, *executor.Result) (protocol.CompletedResponse, error) {
	return protocol.CompletedResponse{}, errDown
}

func (d *downBackend) MarkFailed(context.Context, string, queue.Action, string, *executor.Result) (protocol.FailedResponse, error) {
	return protocol.FailedResponse{}, errDown
}

func (d *downBackend) Clear(context.Context) (protocol.ClearResponse, error) {
	return protocol.ClearResponse{}, errDown
}

func (d *downBackend) Session(context.Context) (protocol.SessionResponse, error) {
	return protocol.SessionResponse{}, errDown
}

func TestTransportLossTerminates(t *testing.T) {
	doc := newDoc(t, productURL, productHTML)
	backend := &downBackend{}
	sl := &sleeper{}
	l := newTestLoop(Config{MaxTransportFailures: 4}, doc, backend, sl, nil)

	err := l.Run(context.Background())
	require.ErrorIs(t, err, ErrTransportLost)
	assert.Equal(t, 4, backend.calls)
	assert.Contains(t, sl.calls, time.Second)
	assert.Contains(t, sl.calls, 4*time.Second)
	assert.Equal(t, StateStopped, l.Snapshot().State)
}

func TestRejectedTokenTerminates(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
	}))
	t.Cleanup(ts.Close)
	c, err := protocol.New(ts.URL, protocol.WithToken("stale"))
	require.NoError(t, err)

	doc := newDoc(t, productURL, productHTML)
	l := newTestLoop(Config{MaxTransportFailures: 3}, doc, c, &sleeper{}, nil)
	err = l.Run(context.Background())
	require.ErrorIs(t, err, ErrTransportLost)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, 3, calls)
}

func TestTransportRecoveryResetsCounter(t *testing.T) {
	bg := newBackground(t)
	doc := newDoc(t, productURL, productHTML)
	l := newTestLoop(Config{}, doc, bg.client, &sleeper{}, nil)
	l.update(func(s *Snapshot) { s.TransportFailures = 9 })
	_, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Zero(t, l.Snapshot().TransportFailures)
}

func TestWaitStableWaitsForQuiet(t *testing.T) {
	doc := newDoc(t, productURL, productHTML)
	sl := &sleeper{}
	sl.hook = func(n int) {
		if n <= 3 {
			doc.Mutate(func(g *goquery.Document) { g.Find("body").AppendHtml("<p>x</p>") })
		}
	}
	l := newTestLoop(Config{}, doc, nil, sl, nil)
	require.NoError(t, l.waitStable(context.Background()))
	assert.Equal(t, 7, sl.count())
}

func TestWaitStableHonoursCeiling(t *testing.T) {
	doc := newDoc(t, productURL, productHTML)
	sl := &sleeper{}
	sl.hook = func(int) {
		doc.Mutate(func(g *goquery.Document) { g.Find("body").AppendHtml("<p>x</p>") })
	}
	l := newTestLoop(Config{StableCeiling: 2 * time.Second}, doc, nil, sl, nil)
	require.NoError(t, l.waitStable(context.Background()))
	assert.Equal(t, 8, sl.count())
}

func TestWaitReadyPollsThenSettles(t *testing.T) {
	doc := newDoc(t, productURL, productHTML)
	doc.SetReadyState("loading")
	sl := &sleeper{}
	sl.hook = func(n int) {
		if n == 2 {
			doc.SetReadyState("complete")
		}
	}
	l := newTestLoop(Config{SettleDelay: 1500 * time.Millisecond}, doc, nil, sl, nil)
	require.NoError(t, l.waitReady(context.Background()))
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 1500 * time.Millisecond}, sl.calls)
}

func TestBackoff(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		5:  16 * time.Second,
		6:  30 * time.Second,
		40: 30 * time.Second,
	}
	for n, want := range cases {
		assert.Equal(t, want, backoff(n, 30*time.Second), "n=%d", n)
	}
}
