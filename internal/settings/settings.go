package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Settings are runtime-tunable knobs of the background process.
type Settings struct {
	Enabled           *bool `json:"enabled,omitempty"`
	MaxQueueSize      int   `json:"max_queue_size,omitempty"`
	DefaultMaxRetries int   `json:"default_max_retries,omitempty"`
	RecentLimit       int   `json:"recent_limit,omitempty"`
}

var mu sync.Mutex

const (
	defaultMaxQueueSize      = 100
	defaultDefaultMaxRetries = 3
	defaultRecentLimit       = 25
)

// ApplyDefaults fills zero-values with sane defaults. A nil Enabled means on.
func ApplyDefaults(s Settings) Settings {
	if s.Enabled == nil {
		s.Enabled = Bool(true)
	}
	if s.MaxQueueSize <= 0 {
		s.MaxQueueSize = defaultMaxQueueSize
	}
	if s.DefaultMaxRetries <= 0 {
		s.DefaultMaxRetries = defaultDefaultMaxRetries
	}
	if s.RecentLimit <= 0 {
		s.RecentLimit = defaultRecentLimit
	}
	return s
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// BoolValue dereferences b, treating nil as false.
func BoolValue(b *bool) bool { return b != nil && *b }

// Load reads settings from path; missing or unreadable files yield defaults.
func Load(path string) Settings {
	mu.Lock()
	defer mu.Unlock()
	if path == "" {
		return ApplyDefaults(Settings{})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ApplyDefaults(Settings{})
	}
	var s Settings
	_ = json.Unmarshal(data, &s)
	return ApplyDefaults(s)
}

// Save writes settings to path, creating parent directories.
func Save(path string, s Settings) error {
	mu.Lock()
	defer mu.Unlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
