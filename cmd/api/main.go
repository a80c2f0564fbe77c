package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/steady-platform/steady/internal/api"
	"github.com/steady-platform/steady/internal/config"
	"github.com/steady-platform/steady/internal/database"
	"github.com/steady-platform/steady/internal/middleware"
	inats "github.com/steady-platform/steady/internal/nats"
	"github.com/steady-platform/steady/internal/quota"
	iredis "github.com/steady-platform/steady/internal/redis"
	"github.com/steady-platform/steady/internal/server"
	"github.com/steady-platform/steady/internal/streak"
	"github.com/steady-platform/steady/internal/usage"
	"github.com/steady-platform/steady/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional — the engine degrades to no event publication)
	var natsClient *inats.Client
	var publisher *inats.Publisher
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())
	}

	// Users
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo)

	// Quota enforcement
	counterCache := quota.NewCounterCache(redisClient)
	quotaRepo := quota.NewRepository(pool)
	usageRepo := usage.NewRepository(pool)
	sweeper := quota.NewSweeper(quotaRepo, counterCache, pubOrNil(publisher))
	quotaSvc := quota.NewService(quotaRepo, userSvc, usageRepo, sweeper, counterCache, nil)

	// Usage log
	recorder := usage.NewRecorder(usageRepo, quotaRepo, sweeper, counterCache, recPubOrNil(publisher))
	cleaner := usage.NewCleaner(usageRepo, cfg.Engine.RetentionDays, cfg.Engine.RetentionInterval)

	// Streaks
	streakRepo := streak.NewRepository(pool)
	streakSvc := streak.NewService(streakRepo, checkInPubOrNil(publisher))

	// Background jobs
	sweeper.Start(ctx, cfg.Engine.SweepInterval)
	cleaner.Start(ctx)

	// Handlers
	userHandler := users.NewHandler(userSvc, func(ctx context.Context, u *users.User) error {
		return quotaSvc.SeedDefaults(ctx, u)
	})
	quotaHandler := quota.NewHandler(quotaSvc, sweeper, deniedPubOrNil(publisher))
	usageHandler := usage.NewHandler(recorder)
	streakHandler := streak.NewHandler(streakSvc)

	// Rate limiter for the check hot path
	rateLimiter := middleware.NewRateLimiter(redisClient,
		cfg.Engine.CheckRateLimit, int(cfg.Engine.CheckRateWindow.Seconds()))

	// Router
	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		CheckRateLimiter:   rateLimiter.Middleware,
	}, api.HandlerSet{
		CreateUser:  userHandler.Create,
		GetUser:     userHandler.Get,
		SuspendUser: userHandler.Suspend,

		CheckQuota:  quotaHandler.Check,
		CreateQuota: quotaHandler.Create,
		QuotaStatus: quotaHandler.Status,
		DeleteQuota: quotaHandler.Delete,
		SweepQuotas: quotaHandler.Sweep,

		RecordUsage: usageHandler.Record,
		ListUsage:   usageHandler.ListRecent,

		CheckIn:       streakHandler.CheckIn,
		StreakStatus:  streakHandler.Snapshot,
		Achievements:  streakHandler.Achievements,
		Suggestions:   streakHandler.Suggestions,
		DeleteCheckIn: streakHandler.Delete,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// Typed-nil guards: a nil *Publisher stored in an interface would not
// compare equal to nil inside the services.
func pubOrNil(p *inats.Publisher) quota.ResetPublisher {
	if p == nil {
		return nil
	}
	return p
}

func deniedPubOrNil(p *inats.Publisher) quota.DeniedPublisher {
	if p == nil {
		return nil
	}
	return p
}

func recPubOrNil(p *inats.Publisher) usage.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

func checkInPubOrNil(p *inats.Publisher) streak.CheckInPublisher {
	if p == nil {
		return nil
	}
	return p
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
