package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codegraphhq/codegraph/internal/engine"
	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/internal/ingest"
)

// Server is the codegraph daemon: a REST API over one project's graph
// store, shared by editors and CI jobs while short-lived CLI invocations
// hit the same database directly.
type Server struct {
	store     graph.Store
	engine    *engine.Engine
	ingester  *ingest.Ingester
	logger    *slog.Logger
	listen    string
	readOnly  bool
	apiToken  string
	rateLimit rate.Limit
	rateBurst int
	srv       *http.Server

	limiters    sync.Map // map[string]*ipLimiter
	done        chan struct{}
	cleanupOnce sync.Once
	stopOnce    sync.Once
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Options configures a Server.
type Options struct {
	Listen    string
	ReadOnly  bool
	APIToken  string
	RateLimit float64
	RateBurst int
}

// New creates a new Server.
func New(store graph.Store, eng *engine.Engine, ing *ingest.Ingester, logger *slog.Logger, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}
	return &Server{
		store:     store,
		engine:    eng,
		ingester:  ing,
		logger:    logger,
		listen:    opts.Listen,
		readOnly:  opts.ReadOnly,
		apiToken:  opts.APIToken,
		rateLimit: rate.Limit(opts.RateLimit),
		rateBurst: opts.RateBurst,
		done:      make(chan struct{}),
	}
}

// securityHeaders adds standard security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// limitBody caps request body size to 8 MB on mutating methods. Query
// strings are small; ingest trigger bodies carry only file paths.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 8<<20)
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupLimiters drops idle per-IP limiters every 5 minutes until the
// server shuts down.
func (s *Server) cleanupLimiters() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.limiters.Range(func(key, value any) bool {
				il := value.(*ipLimiter)
				if time.Since(il.lastSeen) > 10*time.Minute {
					s.limiters.Delete(key)
				}
				return true
			})
		}
	}
}

// rateLimiter throttles API requests per client IP. The cleanup goroutine
// is started once per Server no matter how many handler chains are built.
func (s *Server) rateLimiter(next http.Handler) http.Handler {
	s.cleanupOnce.Do(func() { go s.cleanupLimiters() })

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		ip, _, _ := net.SplitHostPort(r.RemoteAddr)
		if ip == "" {
			ip = r.RemoteAddr
		}

		val, _ := s.limiters.LoadOrStore(ip, &ipLimiter{
			limiter:  rate.NewLimiter(s.rateLimit, s.rateBurst),
			lastSeen: time.Now(),
		})
		il := val.(*ipLimiter)
		il.lastSeen = time.Now()

		if !il.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks for a valid bearer token on /api/ routes when an
// API token is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" && strings.HasPrefix(r.URL.Path, "/api/") {
			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handler builds the full middleware chain. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, s)

	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.rateLimiter(handler)
	handler = limitBody(handler)
	handler = securityHeaders(handler)
	return handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", "listen", s.listen, "readOnly", s.readOnly)
	if s.apiToken != "" {
		s.logger.Info("API authentication enabled")
	} else {
		s.logger.Warn("API authentication disabled (set server.auth_token to enable)")
	}

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and stops the limiter
// cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
