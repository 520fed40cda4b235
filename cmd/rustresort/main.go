// rustresort is a single-user ActivityPub server offering a
// Mastodon-compatible client API. This binary wires the federation core —
// signature engine, rate limiter, activity processor, delivery fan-out,
// and persistence/cache store — to an HTTP server; the REST client API,
// OAuth login, and media storage layers this core depends on as external
// collaborators are not implemented by this binary.
//
// Usage:
//
//	export LOCAL_DOMAIN=https://example.com
//	export ACTOR_HANDLE=alice
//	./rustresort
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustresort/rustresort/internal/config"
	"github.com/rustresort/rustresort/internal/federation"
	"github.com/rustresort/rustresort/internal/server"
	"github.com/rustresort/rustresort/internal/store"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting rustresort", "version", "1.0.0")

	// ─── Configuration ────────────────────────────────────────────────────────
	cfg := config.Load()
	slog.Info("config loaded",
		"domain", cfg.LocalDomain,
		"handle", cfg.ActorHandle,
		"database", cfg.DatabaseURL,
	)

	// ─── Database & caches ─────────────────────────────────────────────────────
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err, "url", cfg.DatabaseURL)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	timeline := store.NewTimelineCache(2000)
	profiles := store.NewProfileCache()

	// ─── RSA key pair (auto-generated on first boot) ──────────────────────────
	keyPair, err := federation.LoadOrGenerateKeyPair(cfg.RSAPrivateKeyPath, cfg.RSAPublicKeyPath)
	if err != nil {
		slog.Error("failed to load/generate RSA key pair", "error", err)
		os.Exit(1)
	}
	slog.Info("RSA key pair ready")

	// ─── Federation core ───────────────────────────────────────────────────────
	actorURI := cfg.ActorURI()
	keyID := actorURI + "#main-key"

	keyCache := federation.NewKeyCache(cfg.KeyCacheTTL)
	rateLimiter := federation.NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
	delivery := federation.NewHTTPDelivery(keyID, keyPair.Private)

	processor := federation.NewProcessor(actorURI, cfg.LocalDomain, keyID, keyPair.Private)
	processor.Domains = db
	processor.Statuses = db
	processor.Followers = db
	processor.Notifications = db
	processor.Timeline = timeline
	processor.Profiles = profiles
	processor.Delivery = delivery

	// ─── Graceful shutdown ──────────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ─── Background tasks ────────────────────────────────────────────────────────
	go keyCache.Run(ctx, cfg.KeyCachePruneEvery)
	go rateLimiter.Run(ctx, cfg.RateLimitPruneEvery)

	if cfg.ProfileRefreshOnBoot {
		hydrator := &federation.ProfileHydrator{Source: db, Cache: profiles}
		go hydrator.Start(ctx)
	}

	// ─── HTTP server ────────────────────────────────────────────────────────────
	srv := server.New(cfg, db, keyPair, processor, keyCache.Resolver(), rateLimiter)
	srv.Start(ctx) // blocks until ctx is cancelled

	slog.Info("rustresort stopped")
}
