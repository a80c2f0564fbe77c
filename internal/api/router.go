package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/steady-platform/steady/internal/database"
	mw "github.com/steady-platform/steady/internal/middleware"
	inats "github.com/steady-platform/steady/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// User handlers
	CreateUser  http.HandlerFunc
	GetUser     http.HandlerFunc
	SuspendUser http.HandlerFunc

	// Quota handlers
	CheckQuota  http.HandlerFunc
	CreateQuota http.HandlerFunc
	QuotaStatus http.HandlerFunc
	DeleteQuota http.HandlerFunc
	SweepQuotas http.HandlerFunc

	// Usage handlers
	RecordUsage http.HandlerFunc
	ListUsage   http.HandlerFunc

	// Streak handlers
	CheckIn       http.HandlerFunc
	StreakStatus  http.HandlerFunc
	Achievements  http.HandlerFunc
	Suggestions   http.HandlerFunc
	DeleteCheckIn http.HandlerFunc
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	CheckRateLimiter   func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, rdb *redis.Client, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB, Redis, NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["status"] = "degraded"
			}
		} else {
			health["redis"] = "not configured"
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)

			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", h.GetUser)
				r.Post("/suspend", h.SuspendUser)

				r.Route("/quota", func(r chi.Router) {
					r.Get("/", h.QuotaStatus)
					r.Post("/", h.CreateQuota)

					// Check is the hot path — optionally rate-limited
					if cfg.CheckRateLimiter != nil {
						r.With(cfg.CheckRateLimiter).Post("/check", h.CheckQuota)
					} else {
						r.Post("/check", h.CheckQuota)
					}
				})

				r.Route("/usage", func(r chi.Router) {
					r.Post("/", h.RecordUsage)
					r.Get("/", h.ListUsage)
				})

				r.Post("/checkins", h.CheckIn)
				r.Get("/streak", h.StreakStatus)
				r.Get("/achievements", h.Achievements)
				r.Get("/suggestions", h.Suggestions)
			})
		})

		r.Delete("/quotas/{quotaID}", h.DeleteQuota)
		r.Delete("/checkins/{recordID}", h.DeleteCheckIn)

		r.Post("/admin/quotas/sweep", h.SweepQuotas)
	})

	return r
}
