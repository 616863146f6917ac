// Package server exposes the dashboard pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/dashloom-cli/internal/logging"
	"github.com/KaramelBytes/dashloom-cli/internal/patch"
	"github.com/KaramelBytes/dashloom-cli/internal/semantic"
	"github.com/KaramelBytes/dashloom-cli/internal/service"
	"github.com/KaramelBytes/dashloom-cli/internal/store"
)

// Backend is the dashboard service the handlers call.
type Backend interface {
	Introspect(ctx context.Context, in service.IntrospectInput) (*semantic.Model, error)
	Create(ctx context.Context, in service.CreateInput) (*service.Created, error)
	Dashboard(ctx context.Context, id string) (*store.Dashboard, *store.Version, error)
	Version(ctx context.Context, id string, version int) (*store.Version, error)
	History(ctx context.Context, id string) ([]store.Entry, error)
	List(ctx context.Context) ([]store.Dashboard, error)
	Patch(ctx context.Context, req patch.Request) (*patch.Response, error)
	Rollback(ctx context.Context, req patch.RollbackRequest) (*patch.Response, error)
}

// Config holds configuration for the HTTP server.
type Config struct {
	Addr    string
	Backend Backend
	Logger  *slog.Logger
	// MaxBodyBytes bounds request bodies. Zero uses 8 MiB.
	MaxBodyBytes int64
}

// Server is the HTTP API server.
type Server struct {
	addr    string
	backend Backend
	logger  *slog.Logger
	maxBody int64
}

// New creates a Server.
func New(cfg Config) *Server {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &Server{
		addr:    cfg.Addr,
		backend: cfg.Backend,
		logger:  logging.OrDiscard(cfg.Logger),
		maxBody: maxBody,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		requestID,
		middleware.RealIP,
		s.accessLog,
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/introspect", s.handleIntrospect)
		r.Route("/dashboards", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Get("/versions", s.handleHistory)
				r.Get("/versions/{version}", s.handleVersion)
				r.Post("/patch", s.handlePatch)
				r.Post("/rollback", s.handleRollback)
			})
		})
	})
	return r
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln and shuts down gracefully when ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting API server", "addr", ln.Addr().String())

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Debug("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

type ctxKey int

const requestIDKey ctxKey = iota

// requestID tags each request with an id, reusing a well-formed inbound
// X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the request id stored in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestID(r.Context()),
		)
	})
}
