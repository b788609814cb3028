// Package main implements the entry point for chatrelay, the real-time
// fan-out and unread-count relay behind the confession wall chat. It
// connects the pub/sub broker and the datastore change feed, binds a
// session for the configured principal and keeps unread counters and
// notifications flowing until shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Scl-Ywr/confession-wall-sub003/broker"
	"github.com/Scl-Ywr/confession-wall-sub003/cache"
	"github.com/Scl-Ywr/confession-wall-sub003/config"
	"github.com/Scl-Ywr/confession-wall-sub003/feed"
	"github.com/Scl-Ywr/confession-wall-sub003/listener"
	"github.com/Scl-Ywr/confession-wall-sub003/metric"
	"github.com/Scl-Ywr/confession-wall-sub003/session"
	"github.com/Scl-Ywr/confession-wall-sub003/store"
	"github.com/Scl-Ywr/confession-wall-sub003/store/postgres"
	"github.com/Scl-Ywr/confession-wall-sub003/unread"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "chatrelay"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("chatrelay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// CLI flags win over file and environment
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if cliCfg.Principal != "" {
		cfg.Session.Principal = cliCfg.Principal
	}

	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("starting chatrelay", "version", Version, "config", cliCfg.ConfigPath)

	ctx := context.Background()
	registry := metric.NewRegistry()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, registry, logger)
	}

	// Broker
	bus, err := broker.NewAdapter(cfg.NATS.URL,
		broker.WithLogger(logger),
		broker.WithName(cfg.NATS.Name),
		broker.WithReconnectStep(cfg.NATS.ReconnectStep.Std()),
		broker.WithMaxBackoff(cfg.NATS.MaxBackoff.Std()),
		broker.WithDrainTimeout(cfg.NATS.DrainTimeout.Std()),
		broker.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("create broker adapter: %w", err)
	}
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	err = bus.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := bus.Close(closeCtx); err != nil {
			logger.Warn("broker close failed", "error", err)
		}
	}()

	// Store: postgres when configured, in-memory otherwise
	profiles, groups, chats, storeCleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storeCleanup()

	// Caches: redis when configured, in-process TTL otherwise
	counts, profileCache, cacheCleanup, err := buildCaches(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cacheCleanup()

	listeners := listener.NewRegistry(logger)
	unreadSvc := unread.NewService(chats, counts, listeners,
		unread.WithLogger(logger),
		unread.WithMetrics(registry),
	)

	feeds, err := feed.NewJetStream(bus.Conn(), cfg.Feed.Stream,
		feed.WithStreamLogger(logger),
		feed.WithSubjectPrefix(cfg.Feed.SubjectPrefix),
	)
	if err != nil {
		return fmt.Errorf("create change feed: %w", err)
	}

	manager := session.NewManager(feeds, profiles, groups, unreadSvc, listeners,
		session.WithLogger(logger),
		session.WithBroker(bus),
		session.WithProfileCache(profileCache),
		session.WithQueueSize(cfg.Session.QueueSize),
		session.WithMetrics(registry),
	)
	defer manager.Unsubscribe()

	if cfg.Session.Principal != "" {
		if err := manager.Init(ctx, cfg.Session.Principal); err != nil {
			return fmt.Errorf("open session: %w", err)
		}
	} else {
		logger.Warn("no principal configured, relay is idle until a session is bound")
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	logger.Info("chatrelay running", "principal", cfg.Session.Principal)
	<-signalCtx.Done()
	logger.Info("shutdown signal received")

	return nil
}

func buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (
	store.ProfileStore, store.GroupStore, store.ChatStore, func(), error,
) {
	if cfg.Store.PostgresURL == "" {
		logger.Info("using in-memory store")
		mem := store.NewMemory()
		return mem, mem, mem, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Store.PostgresURL)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	st, err := postgres.New(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("create postgres store: %w", err)
	}
	logger.Info("using postgres store")
	return st, st, st, pool.Close, nil
}

func buildCaches(ctx context.Context, cfg *config.Config, logger *slog.Logger) (
	unread.Invalidator, cache.Cache[*store.Profile], func(), error,
) {
	if cfg.Cache.RedisAddr == "" {
		logger.Info("using in-process ttl cache", "ttl", cfg.Cache.TTL.Std())
		counts := cache.NewTTL[int](ctx, cfg.Cache.TTL.Std(), cfg.Cache.Cleanup.Std())
		profileCache := cache.NewTTL[*store.Profile](ctx, cfg.Cache.TTL.Std(), cfg.Cache.Cleanup.Std())
		cleanup := func() {
			_ = counts.Close()
			_ = profileCache.Close()
		}
		return counts, profileCache, cleanup, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	counts, err := cache.NewRedis[int](ctx, client, "unread", cfg.Cache.TTL.Std())
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	profileCache, err := cache.NewRedis[*store.Profile](ctx, client, "profiles", cfg.Cache.TTL.Std())
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("using redis cache", "addr", cfg.Cache.RedisAddr)
	cleanup := func() { _ = client.Close() }
	return counts, profileCache, cleanup, nil
}

func serveMetrics(addr string, registry *metric.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics endpoint failed", "error", err)
	}
}
