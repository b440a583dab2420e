// Package api is the central server's HTTP surface: the routes spec.md
// §4.4 names, wired through a gorilla/mux router with a composable
// middleware chain. The chain itself is grounded on the teacher's gRPC
// unary interceptor (pkg/api/interceptor.go's ReadOnlyInterceptor),
// generalized from one interceptor gating write RPCs to a stack of
// func(http.Handler) http.Handler middlewares gating API-key, agent-id,
// whitelist, and rate-limit checks; the "/health needs no auth" carve-out
// mirrors pkg/api/health.go's unauthenticated health/ready endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/log"
	"github.com/macwilam/netwatch/pkg/server/bandwidth"
	"github.com/macwilam/netwatch/pkg/server/configcache"
	"github.com/macwilam/netwatch/pkg/server/ratelimit"
	"github.com/macwilam/netwatch/pkg/serverdb"
	"github.com/macwilam/netwatch/pkg/wire"
)

// Version is the server's reported build version, surfaced in /health and
// compared against each agent's minimum-supported version by the health
// monitor.
const Version = "1.0.0"

// Server owns the HTTP handler tree and everything the route handlers need.
type Server struct {
	cfg     *wire.ServerConfig
	db      *serverdb.DB
	cache   *configcache.Cache
	bw      *bandwidth.Coordinator
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	router *mux.Router
	http   *http.Server
}

// New builds the router and wraps it in an http.Server bound to
// cfg.ListenAddress.
func New(cfg *wire.ServerConfig, db *serverdb.DB, cache *configcache.Cache, bw *bandwidth.Coordinator) *Server {
	s := &Server{
		cfg:     cfg,
		db:      db,
		cache:   cache,
		bw:      bw,
		limiter: ratelimit.New(time.Duration(cfg.RateLimitWindowSeconds)*time.Second, cfg.RateLimitMaxRequests),
		logger:  log.WithComponent("server-api"),
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // bandwidth downloads can run long
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.tagRequest)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	authed := r.PathPrefix("/api/v1").Subrouter()
	authed.Use(s.limitBody, s.requireAPIKey, s.requireValidAgentID, s.requireWhitelisted, s.rateLimited)
	authed.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodPost)
	authed.HandleFunc("/config/verify", s.handleConfigVerify).Methods(http.MethodPost)
	authed.HandleFunc("/config/upload", s.handleConfigUpload).Methods(http.MethodPost)
	authed.HandleFunc("/configs", s.handleConfigsGet).Methods(http.MethodGet)
	authed.HandleFunc("/bandwidth/test", s.handleBandwidthTest).Methods(http.MethodPost)

	// Config errors only require agent-id validation and whitelist, not the
	// API key, per spec.md §4.4's narrower auth row for this endpoint.
	errs := r.PathPrefix("/api/v1").Subrouter()
	errs.Use(s.limitBody, s.requireValidAgentID, s.requireWhitelisted)
	errs.HandleFunc("/config/error", s.handleConfigError).Methods(http.MethodPost)

	// Bandwidth download carries no header auth: it is validated against
	// the coordinator's current holder instead (spec.md §4.5).
	r.HandleFunc("/api/v1/bandwidth/download", s.handleBandwidthDownload).Methods(http.MethodGet)

	return r
}

// Start runs the HTTP server until Shutdown is called or ListenAndServe
// itself fails.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddress).Msg("server api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the handler tree for tests (httptest.NewServer(srv.Router())).
func (s *Server) Router() http.Handler { return s.router }
