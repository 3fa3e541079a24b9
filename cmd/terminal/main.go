// The terminal process runs one POS device: the durable local store,
// the background sync engine, and the loopback API the register UI
// uses. It keeps selling with no network and reconciles when
// connectivity returns.
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

	"github.com/joho/godotenv"

	"lumapos/backend/internal/apiclient"
	"lumapos/backend/internal/config"
	"lumapos/backend/internal/local"
	"lumapos/backend/internal/syncer"
	"lumapos/backend/internal/terminalapi"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[main] WARN: load .env: %v", err)
	}
	cfg := config.Load()

	store, err := local.Open(cfg.TerminalDataFile)
	if err != nil {
		log.Fatalf("[main] open local store: %v", err)
	}
	if n := store.PendingSaleCount(); n > 0 {
		log.Printf("[main] %d pending sales recovered from disk", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := apiclient.New(cfg.ServerURL, "")
	if cfg.TerminalPassword != "" {
		loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.Login(loginCtx, cfg.TerminalUsername, cfg.TerminalPassword); err != nil {
			log.Printf("[main] WARN: server login failed (%v), starting offline", err)
		}
		cancel()
	}

	engine := syncer.New(store, client, syncer.Options{
		Interval: time.Duration(cfg.SyncIntervalSeconds) * time.Second,
	})
	engine.Start()
	defer engine.Stop()

	// Probe connectivity once at boot; afterwards the host reports
	// transitions through the connectivity endpoint.
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if _, err := client.FetchProducts(probeCtx); err != nil {
		log.Printf("[main] starting offline: %v", err)
		engine.SetOnline(false)
	} else {
		engine.SetOnline(true)
	}
	cancel()

	server := terminalapi.NewServer(store, engine, cfg.TaxRatePercent)
	httpServer := &http.Server{
		Addr:              cfg.TerminalAddress(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[main] terminal listening on %s", cfg.TerminalAddress())
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
