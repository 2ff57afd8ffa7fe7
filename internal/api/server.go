// Package api exposes the HTTP surface: magic-link issuance and redemption,
// the billing webhook endpoint, key discovery and operational probes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"members-service/internal/common/config"
	stderrors "members-service/internal/common/errors"
	"members-service/internal/common/logger"
	"members-service/internal/common/metrics"
	"members-service/internal/common/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports liveness of a backing store.
type Pinger func(ctx context.Context) error

// Server wires the handlers into a chi router and owns the http.Server
// lifecycle.
type Server struct {
	httpServer *http.Server
	obs        *observability.Observability
	logger     logger.Logger
}

func NewServer(cfg config.ServerConfig, h *Handlers, obs *observability.Observability, log logger.Logger) *Server {
	s := &Server{
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Route("/api", func(r chi.Router) {
		r.Post("/members/magic-link", h.SendMagicLink)
		r.Post("/members/redeem", h.Redeem)
		r.Post("/webhooks/billing", h.BillingWebhook)
	})
	r.Get("/.well-known/jwks.json", h.JWKS)
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  config.GetDuration(cfg.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.WriteTimeout),
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument records per-route request durations. The route pattern, not the
// raw path, keeps the label cardinality bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(ww.Status())
		metrics.HTTPRequestDuration.
			WithLabelValues(route, status).
			Observe(time.Since(start).Seconds())
		if s.obs != nil {
			s.obs.RecordRequestProcessed(r.Context(), status)
			s.obs.RecordRequestDuration(r.Context(), time.Since(start), status)
		}

		s.logger.Debug("request handled", map[string]interface{}{
			"method":   r.Method,
			"route":    route,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}

// errorWriter is shared by all handlers so status mapping stays in one place.
func newErrorWriter(log logger.Logger) *stderrors.HTTPHandler {
	return stderrors.NewHTTPHandler(log)
}
