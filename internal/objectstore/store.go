package objectstore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// Store uploads page captures to an object storage backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// NullStore discards uploads.
type NullStore struct{}

func (NullStore) Put(_ context.Context, _ string, _ []byte, _ string) error { return nil }

// Object is an upload held by MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps uploads in memory; used by dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]Object{}}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

// Keys lists stored keys in no particular order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// CaptureKey builds captures/<agent>/<action-id>/<unix-ms>.<ext>.
func CaptureKey(agentID, actionID string, at time.Time, ext string) string {
	return path.Join("captures", sanitize(agentID), sanitize(actionID),
		fmt.Sprintf("%d.%s", at.UnixMilli(), strings.TrimPrefix(ext, ".")))
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
