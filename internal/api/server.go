package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/passdeck/passdeck/internal/client"
	"github.com/passdeck/passdeck/internal/collection"
	"github.com/passdeck/passdeck/internal/config"
	"github.com/passdeck/passdeck/internal/console"
	"github.com/passdeck/passdeck/internal/health"
	"github.com/passdeck/passdeck/internal/metrics"
	"github.com/passdeck/passdeck/internal/notify"
	"github.com/passdeck/passdeck/internal/resource"
	"github.com/passdeck/passdeck/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// sessionCheckTimeout bounds a gate revalidation independently of the
// request that triggered it.
const sessionCheckTimeout = 10 * time.Second

// Server is the JSON gateway in front of the console.
type Server struct {
	console     *console.Console
	session     *session.Cache
	feed        *notify.Feed
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
}

// NewServer creates a new gateway. feed, hc and m may be nil.
func NewServer(c *console.Console, feed *notify.Feed, hc *health.Checker, m *metrics.Collector, lc config.ListenConfig) *Server {
	return &Server{
		console:     c,
		session:     c.Session(),
		feed:        feed,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		listenCfg:   lc,
	}
}

// openPath reports whether a path skips the session gate.
func openPath(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics" ||
		path == "/api/session" || strings.HasPrefix(path, "/api/session/")
}

// authMiddleware returns a middleware that checks for a valid API key.
// Probes and metrics are excluded.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/ready" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := s.listenCfg.APIKey
		if apiKey == "" {
			// No API key configured, allow all requests
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized: invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// sessionGate rejects requests while no operator is logged in. The check
// is throttled by the session cache, so most requests never leave the
// process.
func (s *Server) sessionGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.session == nil || openPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		// A client hanging up must not turn into a failed revalidation.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), sessionCheckTimeout)
		s.session.Check(ctx, false)
		cancel()
		if !s.session.Authenticated() {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler builds the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// List views
	r.HandleFunc("/api/views/{kind}", s.getView).Methods("GET")
	r.HandleFunc("/api/views/{kind}/refresh", s.refreshView).Methods("POST")
	r.HandleFunc("/api/views/{kind}/selection", s.updateSelection).Methods("POST")
	r.HandleFunc("/api/views/{kind}/batch", s.runBatch).Methods("POST")
	r.HandleFunc("/api/views/{kind}/export", s.exportSelection).Methods("GET")
	r.HandleFunc("/api/views/{kind}/prefs", s.getPrefs).Methods("GET")
	r.HandleFunc("/api/views/{kind}/prefs", s.updatePrefs).Methods("PUT")

	// Single resources
	r.HandleFunc("/api/resources/tunnels", s.createTunnel).Methods("POST")
	r.HandleFunc("/api/resources/tunnels/{id}", s.updateTunnel).Methods("PUT")
	r.HandleFunc("/api/resources/endpoints", s.createEndpoint).Methods("POST")
	r.HandleFunc("/api/resources/endpoints/{id}", s.updateEndpoint).Methods("PUT")
	r.HandleFunc("/api/resources/endpoints/{id}/key", s.rotateEndpointKey).Methods("PUT")
	r.HandleFunc("/api/resources/{kind}/{id}/action", s.operate).Methods("POST")
	r.HandleFunc("/api/tags", s.listTags).Methods("GET")

	// Session
	r.HandleFunc("/api/session", s.getSession).Methods("GET")
	r.HandleFunc("/api/session/check", s.checkSession).Methods("POST")
	r.HandleFunc("/api/session/login", s.login).Methods("POST")
	r.HandleFunc("/api/session/logout", s.logout).Methods("POST")

	r.HandleFunc("/api/notifications", s.listNotifications).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Wrap with security headers, then auth, then the session gate
	return s.securityHeaders(s.authMiddleware(s.sessionGate(r)))
}

// Start starts the HTTP gateway.
func (s *Server) Start() error {
	addr := s.listenCfg.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	if s.listenCfg.APIKey == "" {
		slog.Warn("gateway API key not configured, only the session gate protects the console")
	}
	slog.Info("gateway listening", "addr", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the gateway.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
		return
	}
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":  boolToStatus(allHealthy),
		"sources": statuses,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	// Ready once any view has loaded from the control plane
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	for _, kind := range resource.Kinds {
		if s.healthCheck.GetStatus(kind).Status == health.StatusHealthy {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}

	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()
	items := make(map[resource.Kind]int)
	for _, v := range s.console.Views() {
		items[v.Kind()] = v.Len()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"items":          items,
		"authenticated":  s.session == nil || s.session.Authenticated(),
		"listen":         s.listenCfg.Addr(),
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeOpError maps a console error to a status code.
func writeOpError(w http.ResponseWriter, err error) {
	var valErr *resource.ValidationError
	var apiErr *client.APIError
	switch {
	case errors.Is(err, console.ErrUnknownKind), errors.Is(err, console.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, valErr.Error())
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			status = apiErr.StatusCode
		}
		writeError(w, status, apiErr.Error())
	case errors.Is(err, collection.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, "control plane unreachable: "+err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
