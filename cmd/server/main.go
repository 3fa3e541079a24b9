package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lumapos/backend/internal/cache"
	"lumapos/backend/internal/config"
	"lumapos/backend/internal/httpapi"
	"lumapos/backend/internal/service"
	"lumapos/backend/internal/store"
	"lumapos/backend/internal/store/memory"
	"lumapos/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[main] WARN: load .env: %v", err)
	}
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("[main] invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, cleanup := openRepository(ctx, cfg)
	defer cleanup()

	catalog := openCatalogCache(ctx, cfg)

	svc := service.New(repo, catalog, cfg.LocationID, cfg.TaxRatePercent,
		time.Duration(cfg.CatalogTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	server := httpapi.NewServer(svc, auth, cfg.AllowedOrigin)

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[main] listening on %s", cfg.Address())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] WARN: shutdown: %v", err)
	}
}

func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func()) {
	if cfg.DatabaseURL == "" {
		log.Printf("[main] DATABASE_URL not set, using in-memory store with seed data")
		return memory.NewSeeded(), func() {}
	}
	pg, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("[main] WARN: postgres unavailable (%v), falling back to in-memory store", err)
		return memory.NewSeeded(), func() {}
	}
	if err := pg.Migrate(ctx); err != nil {
		log.Fatalf("[main] migrate: %v", err)
	}
	log.Printf("[main] connected to postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Printf("[main] WARN: close postgres: %v", err)
		}
	}
}

func openCatalogCache(ctx context.Context, cfg config.Config) cache.CatalogCache {
	if cfg.RedisAddr == "" {
		return cache.NoopCatalogCache{}
	}
	redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		log.Printf("[main] WARN: redis unavailable (%v), catalog cache disabled", err)
		redisCache.Close()
		return cache.NoopCatalogCache{}
	}
	log.Printf("[main] catalog cache on redis %s", cfg.RedisAddr)
	return redisCache
}

func validateSecurityConfig(cfg config.Config) error {
	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET must be set")
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}
	if cfg.ManagerPIN != "" {
		if len(cfg.ManagerPIN) < 6 {
			return fmt.Errorf("MANAGER_PIN must be at least 6 characters")
		}
		if isWeakPIN(cfg.ManagerPIN) {
			return fmt.Errorf("MANAGER_PIN is too predictable")
		}
	}
	return nil
}

func isWeakPIN(pin string) bool {
	weak := []string{"123456", "000000", "111111", "654321", "121212"}
	for _, w := range weak {
		if pin == w {
			return true
		}
	}
	// A single repeated digit is always weak.
	return strings.Count(pin, string(pin[0])) == len(pin)
}
