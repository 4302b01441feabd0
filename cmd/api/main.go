// Command api runs the zero-knowledge authentication service.
//
// With Redis, Postgres, and Pub/Sub configured it runs the full production
// stack; with any of them absent it falls back to the matching in-memory
// backend so a single binary serves local development.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocx/zkauth/internal/api"
	"github.com/ocx/zkauth/internal/auth"
	"github.com/ocx/zkauth/internal/challenge"
	"github.com/ocx/zkauth/internal/config"
	"github.com/ocx/zkauth/internal/cpupool"
	"github.com/ocx/zkauth/internal/directory"
	"github.com/ocx/zkauth/internal/events"
	"github.com/ocx/zkauth/internal/infra"
	"github.com/ocx/zkauth/internal/metrics"
	"github.com/ocx/zkauth/internal/token"
	"github.com/ocx/zkauth/internal/zkp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	pool := cpupool.New(cfg.Pool.Workers, cfg.Pool.QueueCapacity)
	defer pool.Close()

	// Challenge store: Redis when configured, in-memory otherwise.
	ttl := time.Duration(cfg.Challenge.TTLSeconds) * time.Second
	var store challenge.Store
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		store = challenge.NewRedisStore(rdb)
	} else {
		slog.Warn("Redis not configured; using in-memory challenge store (single instance only)")
		store = challenge.NewMemoryStore(ttl)
	}

	// User directory: Postgres when configured.
	var dir directory.Directory
	if cfg.Postgres.DSN != "" {
		pg, err := directory.NewPostgresDirectory(cfg.Postgres.DSN)
		if err != nil {
			slog.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		dir = pg
	} else {
		slog.Warn("Postgres not configured; using in-memory user directory (data is lost on restart)")
		dir = directory.NewMemoryDirectory()
	}

	// Audit bus: Pub/Sub when configured.
	var bus events.Emitter
	var memBus *events.Bus
	if cfg.PubSub.ProjectID != "" {
		psBus, err := events.NewPubSubBus(cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			slog.Error("Failed to connect to Pub/Sub", "error", err)
			os.Exit(1)
		}
		defer psBus.Close()
		bus = psBus
		memBus = psBus.Bus
	} else {
		slog.Warn("Pub/Sub not configured; audit events stay in-process")
		memBus = events.NewBus()
		bus = memBus
	}

	secret := cfg.JWT.Secret
	if secret == "" {
		if cfg.IsProduction() {
			slog.Error("JWT_SECRET must be set in production")
			os.Exit(1)
		}
		// Dev convenience: tokens die with the process.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			slog.Error("Failed to generate dev JWT secret", "error", err)
			os.Exit(1)
		}
		secret = hex.EncodeToString(buf)
		slog.Warn("JWT_SECRET not set; generated an ephemeral dev secret")
	}
	issuer, err := token.NewIssuer(token.Config{
		Secret: secret,
		Issuer: cfg.JWT.Issuer,
		TTL:    time.Duration(cfg.JWT.TTLSeconds) * time.Second,
	})
	if err != nil {
		slog.Error("Failed to create token issuer", "error", err)
		os.Exit(1)
	}

	engine := zkp.NewEngine(zkp.NewGroup(), store, pool, ttl)
	svc := auth.NewService(engine, store, dir, issuer, bus, pool, m)
	server := api.NewServer(api.ServerOptions{
		Port:                cfg.Server.Port,
		RegisterPerMinute:   cfg.RateLimit.RegisterPerMinute,
		ChallengePerMinute:  cfg.RateLimit.ChallengePerMinute,
		ShutdownGracePeriod: time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second,
	}, svc, api.NewEventStream(memBus))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Export the pool queue depth while the server runs.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.PoolQueueDepth.Set(float64(pool.QueueDepth()))
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info("Starting zkauth",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"challenge_ttl_seconds", cfg.Challenge.TTLSeconds,
		"cpu_workers", pool.Workers())

	if err := server.Run(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
