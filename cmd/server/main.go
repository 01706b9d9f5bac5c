package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/notify-engine/internal/api"
	"github.com/ignite/notify-engine/internal/automation"
	"github.com/ignite/notify-engine/internal/config"
	"github.com/ignite/notify-engine/internal/engagement"
	"github.com/ignite/notify-engine/internal/escalation"
	"github.com/ignite/notify-engine/internal/pkg/distlock"
	"github.com/ignite/notify-engine/internal/preference"
	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/provider"
	"github.com/ignite/notify-engine/internal/router"
	"github.com/ignite/notify-engine/internal/tenant"
	"github.com/ignite/notify-engine/internal/tracker"
	"github.com/ignite/notify-engine/internal/webhook"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Notification Engine starting (cmd/server)")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available.
	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres. A connect timeout keeps a wedged endpoint from
	// blocking startup forever.
	dbURL := cfg.Database.URL
	if !strings.Contains(dbURL, "connect_timeout") {
		sep := "?"
		if strings.Contains(dbURL, "?") {
			sep = "&"
		}
		dbURL += sep + "connect_timeout=5"
	}
	log.Printf("DB URL host portion: ...@%s/...", extractHost(dbURL))
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database ping failed: %v", err)
	}
	pingCancel()
	log.Println("Database connected")

	// Redis backs webhook dedupe and run leases; without it the engine
	// falls back to PG advisory locks and skips dedupe.
	var redisClient *redis.Client
	{
		c := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := c.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v, falling back to PG advisory locks", cfg.Redis.Addr, err)
			c.Close()
		} else {
			redisClient = c
			log.Printf("Redis connected: %s", cfg.Redis.Addr)
		}
		pingCancel()
	}

	// Providers. Registration order within a channel is fallback order.
	registry := provider.NewRegistry()
	if cfg.Providers.SES.Enabled {
		ses, err := provider.NewSESProvider(
			"ses",
			cfg.Providers.SES.AccessKey,
			cfg.Providers.SES.SecretKey,
			cfg.Providers.SES.Region,
			"Notifications",
			cfg.Providers.SES.From,
		)
		if err != nil {
			log.Fatalf("Failed to initialize SES provider: %v", err)
		}
		registry.Register(ses)
		log.Printf("Provider registered: ses (email, region %s)", cfg.Providers.SES.Region)
	}
	for _, hp := range cfg.Providers.HTTP {
		registry.Register(provider.NewHTTPPostProvider(hp.Name, hp.Channel, hp.Endpoint, hp.APIKey))
		log.Printf("Provider registered: %s (%s)", hp.Name, hp.Channel)
	}
	if cfg.Providers.Inbox {
		registry.Register(provider.NewInboxProvider(db))
		log.Println("Provider registered: inbox")
	}
	if len(registry.Channels()) == 0 {
		log.Println("Warning: no providers configured, every send will exhaust")
	}

	// Stores and core services.
	profiles := profile.NewStore(db)
	prefStore := preference.NewStore(db)
	attemptStore := tracker.NewPostgresStore(db)
	trk := tracker.New(attemptStore, profiles)
	evaluator := preference.NewEvaluator(prefStore, attemptStore)
	tenants := tenant.NewStore(db)

	rt := router.New(registry, evaluator, attemptStore, nil, router.Config{
		ChannelTimeout:  cfg.Routing.ChannelTimeout(),
		ProviderTimeout: cfg.Routing.ProviderTimeout(),
	})
	requests := router.NewRequestStore(db)
	dispatcher := router.NewDispatcher(requests, rt, profiles, cfg.Routing.DispatchInterval())

	retryWorker := tracker.NewRetryWorker(trk, dispatcher.Resend(), cfg.Routing.RetryInterval())

	escalator := escalation.NewManager(profiles, evaluator, rt, escalation.Config{
		Channels:  cfg.Escalation.Channels,
		StepDelay: time.Duration(cfg.Escalation.StepDelaySeconds) * time.Second,
		Window:    time.Duration(cfg.Escalation.WindowMinutes) * time.Minute,
		Template:  cfg.Escalation.Template,
	})

	runStore := automation.NewPostgresStore(db)
	locks := automation.LockFactory(func(key string) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, 2*time.Minute)
	})
	runner := automation.NewRunner(runStore, dispatcher, escalator, profiles, locks,
		time.Duration(cfg.Automation.TickIntervalSeconds)*time.Second)

	sweeper := engagement.NewSweeper(engagement.NewDBSource(db), trk, profiles, runner, escalator, tenants,
		time.Duration(cfg.Engagement.SweepIntervalHours)*time.Hour)

	// Webhook ingestion. Without Redis events are processed without
	// dedupe; tracker transitions stay idempotent either way.
	var deduper webhook.Deduper
	if redisClient != nil {
		deduper = webhook.NewRedisDeduper(redisClient, time.Duration(cfg.Webhook.DedupeTTLHours)*time.Hour)
	}
	webhooks := webhook.NewHandler(cfg.Webhook.Secret, deduper, webhook.NewExecutor(trk, profiles))

	// Background workers.
	dispatcher.Start()
	retryWorker.Start()
	if cfg.Automation.Enabled {
		runner.Start()
	} else {
		log.Println("Automation runner disabled")
	}
	if cfg.Engagement.Enabled {
		sweeper.Start()
	} else {
		log.Println("Engagement sweeper disabled")
	}

	stats := map[string]api.StatsSource{
		"dispatcher": dispatcher.Stats,
		"retry":      retryWorker.Stats,
		"automation": runner.Stats,
		"engagement": sweeper.Stats,
		"webhook":    webhooks.Stats,
	}
	server := api.NewServer(requests, runStore, runner, profiles, prefStore, evaluator, trk, webhooks, stats)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	sweeper.Stop()
	runner.Stop()
	retryWorker.Stop()
	dispatcher.Stop()
	cancel()

	if redisClient != nil {
		redisClient.Close()
	}
	db.Close()
	log.Println("Shutdown complete")
}
