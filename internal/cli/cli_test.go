package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/k8ika0s/shop-assistant/internal/api"
	"github.com/k8ika0s/shop-assistant/internal/config"
	"github.com/k8ika0s/shop-assistant/internal/logging"
	"github.com/k8ika0s/shop-assistant/internal/queue"
	"github.com/k8ika0s/shop-assistant/internal/server"
)

const token = "s3cret"

func newBackground(t *testing.T) (string, *queue.ActionQueue) {
	t.Helper()
	log := logging.Discard()
	q := queue.New(queue.Options{Logger: log})
	h := &api.Handler{
		Queue:        q,
		SettingsPath: filepath.Join(t.TempDir(), "settings.json"),
		Log:          log,
	}
	svc := server.New(config.Config{AgentToken: token, CORSOrigins: []string{"*"}}, h, log)
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, q
}

func run(t *testing.T, addr string, args ...string) (map[string]any, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand(context.Background(), &out, &errOut)
	root.SetArgs(append([]string{"--address", addr, "--token", token}, args...))
	err := root.Execute()
	got := map[string]any{}
	if out.Len() > 0 {
		require.NoError(t, yaml.Unmarshal(out.Bytes(), &got), out.String())
	}
	return got, err
}

func TestAppendPopLength(t *testing.T) {
	addr, q := newBackground(t)

	got, err := run(t, addr, "append", "--action", "buy now", "--tag", "input", "--attr", "id=buy-now-button", "--priority", "2")
	require.NoError(t, err)
	assert.Equal(t, true, got["success"])
	assert.Equal(t, 1, got["queueLength"])

	items := q.List()
	require.Len(t, items, 1)
	assert.Equal(t, "buy_now", items[0].Type)
	assert.Equal(t, map[string]string{"id": "buy-now-button"}, items[0].Attributes)
	assert.Equal(t, 2, items[0].Priority)

	got, err = run(t, addr, "length")
	require.NoError(t, err)
	assert.Equal(t, 1, got["queueLength"])

	got, err = run(t, addr, "pop")
	require.NoError(t, err)
	action, ok := got["action"].(map[string]any)
	require.True(t, ok, "action missing: %v", got)
	assert.Equal(t, "input", action["tag"])
	assert.Equal(t, 0, got["queueLength"])
}

func TestAppendFromFile(t *testing.T) {
	addr, q := newBackground(t)
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- action: add to cart
  tag: button
  attributes:
    id: add-to-cart-button
- type: place_order
  priority: 5
`), 0o644))

	got, err := run(t, addr, "append", "-f", path)
	require.NoError(t, err)
	assert.Equal(t, 2, got["actionsAdded"])
	items := q.List()
	require.Len(t, items, 2)
	assert.Equal(t, "place_order", items[0].Type, "higher priority first")
	assert.Equal(t, "add_to_cart", items[1].Type)
}

func TestAppendRejectsBadInput(t *testing.T) {
	addr, _ := newBackground(t)
	_, err := run(t, addr, "append")
	assert.ErrorContains(t, err, "nothing to append")
	_, err = run(t, addr, "append", "--tag", "input", "--attr", "novalue")
	assert.ErrorContains(t, err, "key=value")
}

func TestDisableRejectsAppend(t *testing.T) {
	addr, _ := newBackground(t)
	got, err := run(t, addr, "disable")
	require.NoError(t, err)
	assert.Equal(t, false, got["enabled"])

	got, err = run(t, addr, "append", "--tag", "input")
	assert.Error(t, err)
	assert.Equal(t, false, got["success"])
	assert.Contains(t, got["error"], "disabled")

	got, err = run(t, addr, "enable")
	require.NoError(t, err)
	assert.Equal(t, true, got["enabled"])
}

func TestSignInAndOut(t *testing.T) {
	addr, _ := newBackground(t)
	got, err := run(t, addr, "signin", "shopper")
	require.NoError(t, err)
	sess := got["session"].(map[string]any)
	assert.Equal(t, true, sess["authorized"])
	assert.Equal(t, "shopper", sess["user"])

	got, err = run(t, addr, "signout")
	require.NoError(t, err)
	assert.Equal(t, false, got["session"].(map[string]any)["authorized"])
}

func TestWrongTokenIsForbidden(t *testing.T) {
	addr, _ := newBackground(t)
	var out, errOut bytes.Buffer
	root := NewRootCommand(context.Background(), &out, &errOut)
	root.SetArgs([]string{"--address", addr, "--token", "nope", "length"})
	err := root.Execute()
	assert.ErrorContains(t, err, "403")
}

func TestParseActions(t *testing.T) {
	one, err := parseActions([]byte(`{"action":"buy now","tag":"input","attributes":{"id":"b"}}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "buy now", one[0].Label)

	_, err = parseActions([]byte(`"buy now"`))
	assert.Error(t, err)
	_, err = parseActions([]byte(``))
	assert.Error(t, err)
}

func TestRulesValidate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(`
- id: proceed
  attribute: name
  equals: proceedToRetailCheckout
  selectors: ['input[name="proceedToRetailCheckout"]']
- id: broken
  attribute: id
`), 0o644))
	got, err := run(t, "http://unused", "rules", "validate", dir)
	assert.Error(t, err)
	assert.Equal(t, 1, got["loaded"])
	assert.Equal(t, 1, got["skipped"])
}
