// cmd/supervisor/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drawing-service/internal/supervisor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerBin := envOr("WORKER_BIN", "./worker")
	backoff := envDurOr("RESTART_BACKOFF", supervisor.DefaultBackoff)
	grace := envDurOr("SHUTDOWN_GRACE", supervisor.DefaultGracePeriod)

	s := supervisor.New(workerBin)
	s.Backoff = backoff
	s.GracePeriod = grace

	log.Printf("[supervisor] starting worker_bin=%s backoff=%s grace=%s", workerBin, backoff, grace)

	if err := s.Run(ctx); err != nil {
		log.Fatalf("supervisor: %v", err)
	}

	log.Println("supervisor stopped")
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
