package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "captures/agent-1/a_b/1700000000123.png", CaptureKey("agent-1", "a/b", at, ".png"))
	assert.Equal(t, "captures/unknown/x/1700000000123.html", CaptureKey("", "x", at, "html"))
}

func TestMemoryStoreCopiesData(t *testing.T) {
	m := NewMemoryStore()
	data := []byte("<html></html>")
	require.NoError(t, m.Put(context.Background(), "k", data, "text/html"))
	data[0] = 'X'
	obj, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "<html></html>", string(obj.Data))
	assert.Equal(t, "text/html", obj.ContentType)
	assert.Equal(t, []string{"k"}, m.Keys())
}

func TestNewMinIOStoreRequiresEndpoint(t *testing.T) {
	_, err := NewMinIOStore(context.Background(), "", "", "", "", "", false)
	assert.Error(t, err)
}
