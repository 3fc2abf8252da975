// Package api serves the local control surface of the offline layer and
// forwards all other traffic through the cache interceptor.
//
// Control routes live under /_offline. They let the storefront (or the
// makeriessctl tool) submit mutations, inspect and clear the action log,
// drive connectivity, cache browsed entities and post lifecycle signals.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/connectivity"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/contentcache"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/lifecycle"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/metrics"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/queue"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/signal"
)

// ControlPrefix is the path prefix of the control routes.
const ControlPrefix = "/_offline"

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8787"

// Server wires the offline components to HTTP.
type Server struct {
	queue     *queue.Queue
	monitor   *connectivity.Monitor
	entities  *contentcache.Cache
	lifecycle *lifecycle.Manager
	signals   *signal.Channel
	proxy     http.Handler

	router *mux.Router
}

// Deps lists the components the server exposes. Proxy receives every request
// outside the control prefix; when nil those requests get a 404.
type Deps struct {
	Queue     *queue.Queue
	Monitor   *connectivity.Monitor
	Entities  *contentcache.Cache
	Lifecycle *lifecycle.Manager
	Signals   *signal.Channel
	Proxy     http.Handler
}

// NewServer creates a server and registers its routes.
func NewServer(d Deps) *Server {
	s := &Server{
		queue:     d.Queue,
		monitor:   d.Monitor,
		entities:  d.Entities,
		lifecycle: d.Lifecycle,
		signals:   d.Signals,
		proxy:     d.Proxy,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	c := r.PathPrefix(ControlPrefix).Subrouter()
	c.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	c.HandleFunc("/actions", s.submitActionHandler).Methods(http.MethodPost)
	c.HandleFunc("/actions", s.listActionsHandler).Methods(http.MethodGet)
	c.HandleFunc("/actions", s.clearActionsHandler).Methods(http.MethodDelete)
	c.HandleFunc("/actions/{id:[0-9]+}", s.removeActionHandler).Methods(http.MethodDelete)
	c.HandleFunc("/replay", s.replayHandler).Methods(http.MethodPost)
	c.HandleFunc("/connectivity", s.getConnectivityHandler).Methods(http.MethodGet)
	c.HandleFunc("/connectivity", s.setConnectivityHandler).Methods(http.MethodPut)
	c.HandleFunc("/entities", s.cacheEntitiesHandler).Methods(http.MethodPost)
	c.HandleFunc("/entities/sweep", s.sweepEntitiesHandler).Methods(http.MethodPost)
	c.HandleFunc("/entities/{id}", s.getEntityHandler).Methods(http.MethodGet)
	c.HandleFunc("/signal", s.signalHandler).Methods(http.MethodPost)
	c.HandleFunc("/clients/open", s.clientOpenedHandler).Methods(http.MethodPost)
	c.HandleFunc("/clients/close", s.clientClosedHandler).Methods(http.MethodPost)

	if s.proxy != nil {
		r.PathPrefix("/").Handler(s.proxy)
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Server: request handled", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
