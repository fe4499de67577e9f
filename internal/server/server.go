package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/api"
	"github.com/k8ika0s/shop-assistant/internal/config"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
)

// Service hosts the background HTTP surface.
type Service struct {
	cfg     config.Config
	handler http.Handler
	log     logrus.FieldLogger
}

// New mounts h's routes behind CORS, gzip and the optional agent token.
func New(cfg config.Config, h *api.Handler, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mux := http.NewServeMux()
	h.Routes(mux)
	return &Service{
		cfg:     cfg,
		handler: withCORS(cfg, withGzip(withToken(cfg.AgentToken, mux))),
		log:     log,
	}
}

// Handler exposes the wrapped mux, mostly for tests.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Service) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("background listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// withToken guards /api/* except health when a token is configured. The
// token may come from the header or a "token" query parameter, the latter
// for EventSource clients that cannot set headers.
func withToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		tok := r.Header.Get(protocol.TokenHeader)
		if tok == "" {
			tok = r.URL.Query().Get("token")
		}
		if tok != token {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
