// Package httpserver is the control plane's maintenance HTTP surface.
// It deliberately exposes nothing beyond health and metrics endpoints — the
// admin/user-facing HTTP transport is out of scope for this core (see
// spec.md §1, "Surrounding functionality... deliberately out of scope").
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server holds the maintenance HTTP server dependencies.
type Server struct {
	Router       *chi.Mux
	Logger       *slog.Logger
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Metrics      *prometheus.Registry
	startedAt    time.Time
	leaderProbes map[string]func() bool
}

// SetLeaderProbe registers a named global-executor leadership probe (see
// pkg/jobs.GlobalExecutor.IsLeader) to surface on /readyz, so an operator
// can tell which node in the cluster is currently driving a given job
// without querying job_leases directly.
func (s *Server) SetLeaderProbe(job string, isLeader func() bool) {
	s.leaderProbes[job] = isLeader
}

// NewServer creates the maintenance HTTP server.
func NewServer(logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:       chi.NewRouter(),
		Logger:       logger,
		DB:           db,
		Redis:        rdb,
		Metrics:      metricsReg,
		startedAt:    time.Now(),
		leaderProbes: make(map[string]func() bool),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	leaders := make(map[string]bool, len(s.leaderProbes))
	for job, isLeader := range s.leaderProbes {
		leaders[job] = isLeader()
	}

	Respond(w, http.StatusOK, map[string]any{"status": "ready", "leading": leaders})
}
