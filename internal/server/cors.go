package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/k8ika0s/shop-assistant/internal/config"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
)

type corsPolicy struct {
	origins     []string
	methods     string
	headers     string
	credentials bool
	maxAge      int
}

func newCORSPolicy(cfg config.Config) corsPolicy {
	methods := cfg.CORSMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "OPTIONS"}
	}
	headers := cfg.CORSHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization", protocol.TokenHeader}
	}
	return corsPolicy{
		origins:     cfg.CORSOrigins,
		methods:     strings.Join(methods, ", "),
		headers:     strings.Join(headers, ", "),
		credentials: cfg.CORSCredentials,
		maxAge:      cfg.CORSMaxAge,
	}
}

// allows matches exact origins, "*", and prefix patterns such as
// "chrome-extension://*".
func (p corsPolicy) allows(origin string) (allowed, wildcard bool) {
	for _, o := range p.origins {
		switch {
		case o == "*":
			return true, true
		case o == origin:
			return true, false
		case strings.HasSuffix(o, "*") && strings.HasPrefix(origin, strings.TrimSuffix(o, "*")):
			return true, false
		}
	}
	return false, false
}

func withCORS(cfg config.Config, next http.Handler) http.Handler {
	if len(cfg.CORSOrigins) == 0 {
		return next
	}
	policy := newCORSPolicy(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed, wildcard := policy.allows(origin)
		if !allowed {
			next.ServeHTTP(w, r)
			return
		}
		allowOrigin := origin
		if wildcard && !policy.credentials {
			allowOrigin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowOrigin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Methods", policy.methods)
		h.Set("Access-Control-Allow-Headers", policy.headers)
		if policy.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if policy.maxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(policy.maxAge))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
