package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/k8ika0s/shop-assistant/internal/config"
	"github.com/k8ika0s/shop-assistant/internal/objectstore"
)

// Config holds page agent settings.
type Config struct {
	AgentID              string        `envconfig:"AGENT_ID"`
	HTTPAddr             string        `envconfig:"AGENT_HTTP_ADDR" default:":9090"`
	BackgroundURL        string        `envconfig:"BACKGROUND_URL" default:"http://localhost:8080"`
	AgentToken           string        `envconfig:"AGENT_TOKEN"`
	MessageTimeout       time.Duration `envconfig:"MESSAGE_TIMEOUT" default:"5s"`
	Driver               string        `envconfig:"PAGE_DRIVER" default:"cdp"`
	ChromePath           string        `envconfig:"CHROME_PATH"`
	Headless             bool          `envconfig:"HEADLESS"`
	UserDataDir          string        `envconfig:"CHROME_USER_DATA_DIR"`
	StartURL             string        `envconfig:"START_URL" default:"https://www.amazon.in/"`
	StaticHTMLPath       string        `envconfig:"STATIC_HTML_PATH"`
	TargetHosts          []string      `envconfig:"TARGET_HOSTS" default:"amazon."`
	OffsiteInterval      time.Duration `envconfig:"OFFSITE_INTERVAL" default:"10s"`
	IdleInterval         time.Duration `envconfig:"IDLE_INTERVAL" default:"3s"`
	ReadyPoll            time.Duration `envconfig:"READY_POLL" default:"250ms"`
	ReadyTimeout         time.Duration `envconfig:"READY_TIMEOUT" default:"30s"`
	SettleDelay          time.Duration `envconfig:"SETTLE_DELAY" default:"1500ms"`
	StablePoll           time.Duration `envconfig:"STABLE_POLL" default:"250ms"`
	StableQuiet          time.Duration `envconfig:"STABLE_QUIET" default:"1s"`
	StableCeiling        time.Duration `envconfig:"STABLE_CEILING" default:"10s"`
	RequireSession       bool          `envconfig:"REQUIRE_SESSION"`
	RequeueOnFailure     bool          `envconfig:"REQUEUE_ON_FAILURE" default:"true"`
	FailureThreshold     int           `envconfig:"FAILURE_THRESHOLD" default:"3"`
	MaxBackoff           time.Duration `envconfig:"MAX_BACKOFF" default:"30s"`
	MaxTransportFailures int           `envconfig:"MAX_TRANSPORT_FAILURES" default:"10"`
	RestartDelay         time.Duration `envconfig:"RESTART_DELAY" default:"5s"`
	HeartbeatIntervalSec int           `envconfig:"HEARTBEAT_INTERVAL_SEC" default:"15"`
	LocateAttempts       int           `envconfig:"LOCATE_ATTEMPTS" default:"5"`
	LocateInterval       time.Duration `envconfig:"LOCATE_INTERVAL" default:"1s"`
	RulesDir             string        `envconfig:"RULES_DIR"`
	ObjectStoreEndpoint  string        `envconfig:"OBJECT_STORE_ENDPOINT"`
	ObjectStoreBucket    string        `envconfig:"OBJECT_STORE_BUCKET"`
	ObjectStoreAccess    string        `envconfig:"OBJECT_STORE_ACCESS_KEY"`
	ObjectStoreSecret    string        `envconfig:"OBJECT_STORE_SECRET_KEY"`
	ObjectStoreBasePath  string        `envconfig:"OBJECT_STORE_BASE_PATH"`
	ObjectStoreUseSSL    bool          `envconfig:"OBJECT_STORE_USE_SSL"`
	LogLevel             string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat            string        `envconfig:"LOG_FORMAT" default:"text"`
}

// FromEnv loads agent configuration with the loop's default timings.
// Values that do not parse are an error.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("agent config: %w", err)
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	cfg.TargetHosts = config.CleanList(cfg.TargetHosts, true)
	if cfg.AgentID == "" {
		cfg.AgentID = defaultAgentID()
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills the zero values a hand-built Config leaves behind.
func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.OffsiteInterval, 10*time.Second)
	def(&c.IdleInterval, 3*time.Second)
	def(&c.ReadyPoll, 250*time.Millisecond)
	def(&c.ReadyTimeout, 30*time.Second)
	def(&c.StablePoll, 250*time.Millisecond)
	def(&c.StableQuiet, time.Second)
	def(&c.StableCeiling, 10*time.Second)
	def(&c.MaxBackoff, 30*time.Second)
	def(&c.RestartDelay, 5*time.Second)
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.MaxTransportFailures <= 0 {
		c.MaxTransportFailures = 10
	}
	if c.HeartbeatIntervalSec <= 0 {
		c.HeartbeatIntervalSec = 15
	}
	if len(c.TargetHosts) == 0 {
		c.TargetHosts = []string{"amazon."}
	}
	if c.AgentID == "" {
		c.AgentID = defaultAgentID()
	}
	return c
}

// ObjectStore builds the capture store if configured.
func (c Config) ObjectStore(ctx context.Context) (objectstore.Store, error) {
	if c.ObjectStoreEndpoint == "" || c.ObjectStoreBucket == "" {
		return objectstore.NullStore{}, nil
	}
	return objectstore.NewMinIOStore(ctx, c.ObjectStoreEndpoint, c.ObjectStoreAccess, c.ObjectStoreSecret, c.ObjectStoreBucket, c.ObjectStoreBasePath, c.ObjectStoreUseSSL)
}

func defaultAgentID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "agent"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
