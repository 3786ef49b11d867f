package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"daoboard/api/internal/app"
	"daoboard/api/internal/chain"
	"daoboard/api/internal/config"
	"daoboard/api/internal/store"
	"daoboard/api/internal/tenant"
	"daoboard/api/internal/votes"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	registry, err := tenant.LoadRegistry(cfg.TenantsFile)
	if err != nil {
		log.Fatalf("tenant catalog failed: %v", err)
	}
	log.Printf("loaded %d tenants from %s", len(registry.Slugs()), cfg.TenantsFile)

	dataStore := store.NewPostgresStore(db)
	aggregator := votes.NewAggregator(dataStore, cfg.SourceFetchLimit)

	rpc, err := chain.DialRPC(ctx, cfg.ChainRPCURL)
	if err != nil {
		log.Fatalf("chain rpc connection failed: %v", err)
	}
	defer rpc.Close()

	var chainClient chain.Client = rpc
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cached, err := chain.NewCachedClient(rpc, cfg.RedisURL, cfg.ChainCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cached.Close()
		chainClient = cached
		log.Printf("chain reads cached in redis for %s", cfg.ChainCacheTTL)
	} else {
		log.Printf("chain read cache disabled, every read hits the rpc")
	}

	service := app.New(cfg, registry, dataStore, aggregator, chainClient)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("daoboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
