// Package httpapi exposes the guestsync RPC surface over HTTP JSON.
// Every function is invoked as POST /rpc/<fn> with a JSON body, the way
// PostgREST-style backends expose stored procedures.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/guestsync/guestsync/internal/limiter"
	"github.com/guestsync/guestsync/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	content   service.ContentService
	sagas     service.SagaService
	integrity service.IntegrityService
	signKey   []byte
	log       *zap.Logger
	metrics   *Metrics
	registry  *prometheus.Registry
	limits    limiter.Limiter
	handlers  map[string]http.HandlerFunc
}

// Option customizes the server.
type Option func(*Server)

// WithMaintenanceLimiter throttles the integrity scan and cleanup functions
// per actor. Without it those functions run unthrottled.
func WithMaintenanceLimiter(l limiter.Limiter) Option {
	return func(s *Server) { s.limits = l }
}

// New constructs a server with injected services.
func New(
	content service.ContentService,
	sagas service.SagaService,
	integrity service.IntegrityService,
	signKey []byte,
	log *zap.Logger,
	opts ...Option,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	s := &Server{
		content:   content,
		sagas:     sagas,
		integrity: integrity,
		signKey:   signKey,
		log:       log,
		metrics:   NewMetrics(reg),
		registry:  reg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = s.routeTable()
	return s
}

// Router builds the HTTP routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger(s.log))
	r.Use(Recoverer(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/rpc", func(r chi.Router) {
		r.Use(Auth(s.signKey))
		r.Use(s.metrics.Middleware())
		r.Post("/{fn}", s.dispatch)
	})
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
