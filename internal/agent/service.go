package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/k8ika0s/shop-assistant/internal/executor"
	"github.com/k8ika0s/shop-assistant/internal/locator"
	"github.com/k8ika0s/shop-assistant/internal/objectstore"
	"github.com/k8ika0s/shop-assistant/internal/page"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
)

// Opener opens a fresh page for a new loop. close releases it.
type Opener func(ctx context.Context) (p page.Page, close func(), err error)

// Service supervises the execution loop: it opens a page, runs a loop on
// it and starts over with a new page after the loop ends.
type Service struct {
	Cfg        Config
	Backend    Backend
	Heartbeats Heartbeater
	Executor   executor.Executor
	Captures   objectstore.Store
	Open       Opener
	Log        logrus.FieldLogger
	Sleep      func(ctx context.Context, d time.Duration) error

	runID    string
	mu       sync.RWMutex
	loop     *Loop
	restarts int
}

func (s *Service) defaults() {
	s.Cfg = s.Cfg.withDefaults()
	if s.Log == nil {
		s.Log = logrus.StandardLogger()
	}
	if s.Sleep == nil {
		s.Sleep = locator.Sleep
	}
	if s.runID == "" {
		s.runID = defaultRunID(s.Cfg.AgentID)
	}
}

// Snapshot reports the running loop's state, or stopped between loops.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	l := s.loop
	s.mu.RUnlock()
	if l == nil {
		return Snapshot{State: StateStopped}
	}
	return l.Snapshot()
}

// Restarts counts how many loops have ended so far.
func (s *Service) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// Supervise restarts the loop until ctx is done.
func (s *Service) Supervise(ctx context.Context) error {
	s.defaults()
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		s.Log.WithError(err).WithField("restart_delay", s.Cfg.RestartDelay).Warn("execution loop ended, restarting")
		if err := s.Sleep(ctx, s.Cfg.RestartDelay); err != nil {
			return nil
		}
	}
}

func (s *Service) runOnce(ctx context.Context) error {
	p, closePage, err := s.Open(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer closePage()
	l := NewLoop(s.Cfg, LoopOptions{
		Page:     p,
		Backend:  s.Backend,
		Executor: s.Executor,
		Captures: s.Captures,
		Log:      s.Log,
		Sleep:    s.Sleep,
	})
	s.mu.Lock()
	s.loop = l
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loop = nil
		s.mu.Unlock()
	}()
	return l.Run(ctx)
}

// Run supervises the loop, sends heartbeats and serves the agent's HTTP
// endpoints until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.defaults()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Supervise(ctx) })
	g.Go(func() error {
		s.heartbeatLoop(ctx)
		return nil
	})
	if s.Cfg.HTTPAddr != "" {
		g.Go(func() error { return s.serve(ctx) })
	}
	return g.Wait()
}

func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		snap := s.Snapshot()
		if snap.State == StateStopped || snap.State == StateStarting {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(snap.State)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"agent_id": s.Cfg.AgentID,
			"run_id":   s.runID,
			"restarts": s.Restarts(),
			"loop":     s.Snapshot(),
		})
	})
}

func (s *Service) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := &http.Server{
		Addr:              s.Cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.Log.WithField("addr", srv.Addr).Info("agent http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Build wires a Service from cfg: background client, locator rules,
// executor, capture store and page driver.
func Build(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Service, error) {
	cfg = cfg.withDefaults()
	client, err := protocol.New(cfg.BackgroundURL,
		protocol.WithToken(cfg.AgentToken),
		protocol.WithTimeout(cfg.MessageTimeout),
		protocol.WithLogger(log.WithField("component", "protocol")),
	)
	if err != nil {
		return nil, fmt.Errorf("background client: %w", err)
	}
	rules := locator.NewRules(locator.DefaultRules()...)
	if cfg.RulesDir != "" {
		res, err := locator.LoadRulesFromDir(rules, cfg.RulesDir)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		log.WithFields(logrus.Fields{"files": res.Files, "loaded": res.Loaded, "skipped": res.Skipped}).Info("fallback rules loaded")
		for _, e := range res.Errors {
			log.Warn(e)
		}
	}
	loc := locator.New(locator.Options{
		Rules:    rules,
		Attempts: cfg.LocateAttempts,
		Interval: cfg.LocateInterval,
		Logger:   log.WithField("component", "locator"),
	})
	captures, err := cfg.ObjectStore(ctx)
	if err != nil {
		log.WithError(err).Warn("object store unavailable, captures disabled")
		captures = objectstore.NullStore{}
	}
	open, err := NewOpener(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Service{
		Cfg:        cfg,
		Backend:    client,
		Heartbeats: client,
		Executor:   executor.NewClickExecutor(loc, log.WithField("component", "executor")),
		Captures:   captures,
		Open:       open,
		Log:        log,
	}, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
