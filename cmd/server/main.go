package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"upc/presence/internal/config"
	"upc/presence/internal/device"
	internalhttp "upc/presence/internal/http"
	"upc/presence/internal/ingest"
	"upc/presence/internal/jobs"
	"upc/presence/internal/registration"
	"upc/presence/internal/repository"
	"upc/presence/internal/session"
	"upc/presence/internal/views"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping failed: %v", err)
	}
	cancel()
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}()

	coordinator := device.NewCoordinator(redisClient)

	// A crash can leave the reader claim behind with no state machine left
	// to release it. When the store shows no active session, nothing may
	// hold the claim, so clear it before serving.
	if _, active, err := store.ActiveSession(ctx); err != nil {
		log.Fatalf("active session lookup failed: %v", err)
	} else if !active {
		if err := coordinator.Reset(ctx); err != nil {
			log.Fatalf("device state reset failed: %v", err)
		}
	}

	manager := session.NewManager(store, coordinator)
	flow := registration.NewFlow(store, coordinator)
	ingestor := ingest.NewService(manager, store, store)
	viewBuilder := views.NewBuilder(store, cfg.LiveFeedLimit)

	jobs.StartRegistrationWatch(ctx, coordinator, flow)

	server := internalhttp.NewServer(cfg, store, manager, flow, ingestor, viewBuilder, coordinator)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("presence http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
