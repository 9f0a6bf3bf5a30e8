package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"embedded-session-auth/internal/audit"
	audithandler "embedded-session-auth/internal/audit/handler"
	auditrepo "embedded-session-auth/internal/audit/repository"
	"embedded-session-auth/internal/config"
	"embedded-session-auth/internal/db"
	healthhandler "embedded-session-auth/internal/health/handler"
	"embedded-session-auth/internal/ratelimit"
	"embedded-session-auth/internal/security"
	"embedded-session-auth/internal/server"
	sessionhandler "embedded-session-auth/internal/session/handler"
	"embedded-session-auth/internal/session/replaycache"
	"embedded-session-auth/internal/session/repository"
	"embedded-session-auth/internal/session/service"
	"embedded-session-auth/internal/session/sweeper"
	"embedded-session-auth/internal/telemetry"
	"embedded-session-auth/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "embedded-session-auth", cfg.Env != "production")
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("embedded-session-auth"))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("jwt private key: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}
	access := security.NewAccessTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	checks := map[string]healthhandler.Checker{}

	var store repository.Store
	var recorder *audit.Recorder
	var auditTrail *audithandler.Handler
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer sqlDB.Close()
		store = repository.NewPostgresStore(sqlDB)
		auditRepo := auditrepo.NewPostgresRepository(sqlDB)
		recorder = audit.NewRecorder(auditRepo)
		auditTrail = audithandler.New(auditRepo)
		checks["postgres"] = sqlDB.PingContext
	} else {
		log.Println("DATABASE_URL not set, using in-process store; state is lost on restart")
		mem := repository.NewMemoryStore()
		store = mem
		recorder = audit.NewRecorder(mem)
	}

	limits := ratelimit.Config{
		ratelimit.ClassIssue:      {Size: time.Minute, Max: cfg.RateLimitIssueMax},
		ratelimit.ClassRotate:     {Size: time.Minute, Max: cfg.RateLimitRotateMax},
		ratelimit.ClassFailedAuth: {Size: time.Minute, Max: cfg.RateLimitFailedAuthMax},
	}

	var limiter ratelimit.Limiter
	var replays replaycache.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, limits)
		replays = replaycache.NewRedisCache(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Println("REDIS_ADDR not set, using in-process rate limiter and replay cache")
		limiter = ratelimit.NewMemoryLimiter(limits)
		replays = replaycache.NewMemoryCache()
	}

	svc := service.New(store, limiter, recorder, replays, access, metrics, service.Config{
		AccessTTL:   cfg.AccessTTL(),
		RefreshTTL:  cfg.RefreshTTL(),
		GracePeriod: cfg.GracePeriod(),
	})

	go sweeper.New(store, cfg.Retention(), cfg.Sweep()).Run(ctx)

	router := server.NewRouter(sessionhandler.New(svc), healthhandler.New(checks), auditTrail)
	srv := server.New(cfg.HTTPAddr, router)

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
