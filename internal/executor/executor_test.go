package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k8ika0s/shop-assistant/internal/locator"
	"github.com/k8ika0s/shop-assistant/internal/logging"
	"github.com/k8ika0s/shop-assistant/internal/page"
)

type sleepLog struct{ waits []time.Duration }

func (s *sleepLog) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newExecutor(s *sleepLog) *ClickExecutor {
	loc := locator.New(locator.Options{Sleep: s.Sleep, Logger: logging.Discard()})
	ex := NewClickExecutor(loc, logging.Discard())
	ex.Sleep = s.Sleep
	return ex
}

const checkout = `<html><body>
<form><input id="buy-now-button" type="submit" value="Buy Now"></form>
<button id="off" disabled>Off</button>
</body></html>`

func TestExecuteClicksReadyElement(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/dp/X", checkout)
	require.NoError(t, err)
	s := &sleepLog{}

	res, err := newExecutor(s).Execute(context.Background(), doc, Job{
		ActionID:   "a1",
		Descriptor: locator.Descriptor{Tag: "input", Attributes: map[string]string{"id": "buy-now-button"}},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Clicked)
	assert.Equal(t, "Buy Now", res.ElementText)
	assert.Equal(t, "Successfully clicked element: Buy Now", res.Message)
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}, s.waits)
	assert.Len(t, doc.Clicks(), 1)
}

func TestExecuteReportsNotClickable(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", checkout)
	require.NoError(t, err)

	res, err := newExecutor(&sleepLog{}).Execute(context.Background(), doc, Job{
		Descriptor: locator.Descriptor{Tag: "button", Attributes: map[string]string{"id": "off"}},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.ElementFound)
	assert.True(t, res.Visible)
	assert.False(t, res.Clickable)
	assert.Empty(t, doc.Clicks())
}

func TestExecuteWithoutTagOrKnownKind(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", checkout)
	require.NoError(t, err)
	ex := newExecutor(&sleepLog{})

	res, err := ex.Execute(context.Background(), doc, Job{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Tag parameter is required", res.Message)

	res, err = ex.Execute(context.Background(), doc, Job{Kind: "wish_list"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = ex.Execute(context.Background(), doc, Job{Kind: "buy_now"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "#buy-now-button", res.Selector)
}

func TestExecuteInvalidDescriptorIsFailedResult(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", checkout)
	require.NoError(t, err)
	res, err := newExecutor(&sleepLog{}).Execute(context.Background(), doc, Job{
		Descriptor: locator.Descriptor{Tag: "input", Attributes: map[string]string{"bad name": "x"}},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "invalid attribute name")
}

func TestExecutePageGoneIsFatal(t *testing.T) {
	doc, err := page.NewDocument("https://www.amazon.in/", checkout)
	require.NoError(t, err)
	doc.Close()
	_, err = newExecutor(&sleepLog{}).Execute(context.Background(), doc, Job{
		Descriptor: locator.Descriptor{Tag: "input"},
	})
	assert.True(t, errors.Is(err, page.ErrPageGone))
}

func TestFakeExecutor(t *testing.T) {
	f := &FakeExecutor{Results: []Result{{Success: false}}, Result: Result{Success: true}}
	first, err := f.Execute(context.Background(), nil, Job{ActionID: "1"})
	require.NoError(t, err)
	second, err := f.Execute(context.Background(), nil, Job{ActionID: "2"})
	require.NoError(t, err)
	assert.False(t, first.Success)
	assert.True(t, second.Success)
	assert.Len(t, f.Calls, 2)
}
