// Package webhook exposes the watcher's HTTP surface: one POST endpoint per
// registered provider plus a health check. Raw request bytes are preserved
// for signature verification.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

// DrainTimeout bounds the wait for in-flight requests during Stop.
const DrainTimeout = 30 * time.Second

// Dispatcher is the slice of the watcher the server needs: the route table
// and the per-provider event handler.
type Dispatcher interface {
	Registrations() []watcher.Registration
	EventHandler(provider string) watcher.EmitFunc
}

// Server is the webhook listener. New requests are rejected with 503 while
// draining; /health answers as long as the socket accepts.
type Server struct {
	addr     string
	basePath string
	logger   *log.Logger

	rateLimitRPS   int64
	rateLimitBurst int64

	srv      *http.Server
	listener net.Listener

	draining atomic.Bool
	active   atomic.Int64

	errCh chan error
}

// NewServer builds the server and its route table from the dispatcher's
// enabled registrations.
func NewServer(cfg internal.Config, d Dispatcher, logger *log.Logger) *Server {
	if logger == nil {
		logger = internal.NewLogger("server")
	}
	s := &Server{
		addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		basePath:       cfg.Server.BasePath,
		logger:         logger,
		rateLimitRPS:   cfg.Server.RateLimitRPS,
		rateLimitBurst: cfg.Server.RateLimitBurst,
		errCh:          make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	for _, reg := range d.Registrations() {
		name := reg.Provider.Metadata().Name
		path := fmt.Sprintf("%s/webhook/%s", s.basePath, name)
		handler := NewHandler(reg.Provider, d.EventHandler(name), logger)
		mux.Handle(path, handler)
		logger.Printf("webhook for %s on %s", name, path)
	}

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           internal.RateLimit(s.wrap(mux), s.rateLimitRPS, s.rateLimitBurst),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// wrap applies the drain gate and the active-request counter around the mux.
func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if s.draining.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down"})
			return
		}
		s.active.Add(1)
		defer s.active.Add(-1)
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("handler panic on %s: %v", r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start binds the listener and serves in the background. Listener-level
// failures surface on Err.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.draining.Store(false)
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("serve: %v", err)
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
	s.logger.Printf("listening on %s", s.addr)
	return nil
}

// Err reports listener-level I/O failures to the supervisor.
func (s *Server) Err() <-chan error { return s.errCh }

// Addr returns the bound address, for tests that listen on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop drains the server: new requests get 503, in-flight requests are
// awaited up to DrainTimeout, then remaining sockets are force-closed.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	s.draining.Store(true)

	deadline := time.Now().Add(DrainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.active.Load() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return s.srv.Close()
		case <-ticker.C:
		}
	}
	return s.srv.Close()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
