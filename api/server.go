// Package api provides the REST admin API: tag provisioning, value
// updates, and gateway status over HTTP. It is a thin consumer of the
// engine; nothing here touches the FDI wire protocol.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"taglink/config"
	"taglink/engine"
	"taglink/logging"
)

// Server is the admin HTTP server.
type Server struct {
	cfg      *config.APIConfig
	managers engine.Managers
	engine   *engine.Engine
	server   *http.Server
	router   chi.Router
	running  bool
	mu       sync.RWMutex
}

// NewServer creates an admin server over the given managers.
func NewServer(cfg *config.APIConfig, managers engine.Managers) *Server {
	s := &Server{
		cfg:      cfg,
		managers: managers,
	}
	// If managers is an *engine.Engine, capture it for mutations.
	if eng, ok := managers.(*engine.Engine); ok {
		s.engine = eng
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the chi router.
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/tags", s.handleListTags)
		r.Post("/tags", s.handleAddTag)
		r.Get("/tags/{id}", s.handleGetTag)
		r.Put("/tags/{id}/value", s.handleUpdateValue)
		r.Delete("/tags/{id}", s.handleRemoveTag)
	})

	s.router = r
}

// authMiddleware enforces the configured bearer token. An empty token
// hash disables auth (bind to loopback in that case).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := auth[len(prefix):]
		if bcrypt.CompareHashAndPassword([]byte(s.cfg.TokenHash), []byte(token)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving on the configured host and port.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := newListener(addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	s.running = true
	logging.DebugLog("api", "listening on %s", ln.Addr())

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.DebugError("api", "serve", err)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
