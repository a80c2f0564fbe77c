package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	NATS   NATSConfig
	CORS   CORSConfig
	Engine EngineConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

// EngineConfig tunes the background jobs and the check rate limiter.
type EngineConfig struct {
	SweepInterval     time.Duration
	RetentionDays     int
	RetentionInterval time.Duration
	CheckRateLimit    int
	CheckRateWindow   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		CORS: CORSConfig{
			AllowedOrigins: k.Strings("cors.allowed.origins"),
		},
		Engine: EngineConfig{
			RetentionDays:  k.Int("engine.retention.days"),
			CheckRateLimit: k.Int("engine.check.rate.limit"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "steady"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "steady"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Engine.RetentionDays == 0 {
		cfg.Engine.RetentionDays = 90
	}
	if cfg.Engine.CheckRateLimit == 0 {
		cfg.Engine.CheckRateLimit = 100
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	sweepStr := k.String("engine.sweep.interval")
	if sweepStr == "" {
		sweepStr = "5m"
	}
	cfg.Engine.SweepInterval, err = time.ParseDuration(sweepStr)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep interval: %w", err)
	}

	retentionStr := k.String("engine.retention.interval")
	if retentionStr == "" {
		retentionStr = "6h"
	}
	cfg.Engine.RetentionInterval, err = time.ParseDuration(retentionStr)
	if err != nil {
		return nil, fmt.Errorf("parsing retention interval: %w", err)
	}

	rateWindowStr := k.String("engine.check.rate.window")
	if rateWindowStr == "" {
		rateWindowStr = "1m"
	}
	cfg.Engine.CheckRateWindow, err = time.ParseDuration(rateWindowStr)
	if err != nil {
		return nil, fmt.Errorf("parsing check rate window: %w", err)
	}

	return cfg, nil
}
