// Package api implements the controller's operator HTTP surface (spec
// §4.8): fleet/session read endpoints, config/command relays, a live
// WebSocket feed, and Prometheus metrics — grounded on the teacher's
// cmd/tr-engine chi-router wiring in internal/api/server.go, generalized
// from trunk-recorder's talkgroup/call/unit domain to SAVIOUR's
// registry/session/config domain.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/metrics"
	"github.com/saviour/saviour/internal/recording"
	"github.com/saviour/saviour/internal/registry"
)

// Config controls the HTTP server's bind address, timeouts, and security
// settings (mirrors the relevant fields of appconfig.Config so this
// package does not have to import it).
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	AuthToken       string
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	MetricsEnabled  bool
}

// Server is the controller's HTTP listener.
type Server struct {
	cfg    Config
	http   *http.Server
	log    zerolog.Logger
}

// New builds the full route tree. history may be nil when the controller
// was started without a database (spec §9 Open Question (b): history is
// optional, live coordination never depends on it).
func New(
	cfg Config,
	reg *registry.Registry,
	coord *recording.Coordinator,
	bus *eventbus.Bus,
	commands CommandPublisher,
	history *HistoryHandlers,
	version string,
	startTime time.Time,
	log zerolog.Logger,
) *Server {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(middleware.Compress(5))
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitWindow))
	r.Use(MaxBodySize(cfg.MaxBodyBytes))
	r.Use(metrics.InstrumentHandler)

	r.Get("/api/v1/health", NewHealthHandler(version, startTime).ServeHTTP)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	reghandlers := NewRegistryHandlers(reg)
	sesshandlers := NewSessionHandlers(coord)
	confighandlers := NewConfigHandlers(commands)
	feed := NewLiveFeedHandler(bus, log)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Get("/api/v1/modules", reghandlers.List)
		r.Get("/api/v1/modules/{moduleID}", reghandlers.Get)
		r.Get("/api/v1/modules/{moduleID}/config", confighandlers.Get)
		r.Put("/api/v1/modules/{moduleID}/config", confighandlers.Set)
		r.Post("/api/v1/modules/{moduleID}/restart-ptp", confighandlers.RestartPTP)

		r.Get("/api/v1/sessions", sesshandlers.List)
		r.Post("/api/v1/sessions", sesshandlers.Start)
		r.Get("/api/v1/sessions/{sessionID}", sesshandlers.Get)
		r.Post("/api/v1/sessions/{sessionID}/stop", sesshandlers.Stop)

		if history != nil {
			r.Get("/api/v1/history/sessions", history.ListSessions)
			r.Get("/api/v1/history/modules/{moduleID}/health", history.ModuleHealthHistory)
		}

		r.Get("/api/v1/live", feed.ServeHTTP)
	})

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log.With().Str("component", "api.server").Logger(),
	}
}

// Run starts the listener and blocks until ctx is cancelled, then performs
// a bounded graceful shutdown (same pattern as the teacher's main.go).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("api server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info().Msg("shutting down api server")
	return s.http.Shutdown(shutdownCtx)
}
