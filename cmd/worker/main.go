// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drawing-service/internal/blob"
	"drawing-service/internal/conversion"
	"drawing-service/internal/repository/postgresql"
	"drawing-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgDSN := mustEnv("POSTGRES_DSN")
	converterURL := mustEnv("CONVERTER_URL")
	sourceDir := envOr("SOURCE_DIR", "data/sources")
	artifactDir := envOr("ARTIFACT_DIR", "data/artifacts")
	idle := envDurOr("IDLE_INTERVAL", worker.DefaultIdleInterval)
	convertTimeout := envDurOr("CONVERT_TIMEOUT", conversion.DefaultTimeout)

	pool, err := postgresql.NewPool(ctx, pgDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	sources, err := blob.NewStore(sourceDir)
	if err != nil {
		log.Fatalf("source store: %v", err)
	}
	artifacts, err := blob.NewStore(artifactDir)
	if err != nil {
		log.Fatalf("artifact store: %v", err)
	}

	repo := postgresql.NewDrawingRepository(pool)
	converter := conversion.NewClient(converterURL, convertTimeout)

	log.Printf("[worker] starting converter_url=%s convert_timeout=%s idle=%s",
		converterURL, convertTimeout, idle)

	loop := worker.NewLoop(repo, converter, sources, artifacts, idle)
	if err := loop.Run(ctx); err != nil {
		// Loop-level fault (record store gone, etc). Exit non-zero so the
		// supervisor restarts us.
		log.Fatalf("worker loop: %v", err)
	}

	log.Println("worker stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envDurOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
