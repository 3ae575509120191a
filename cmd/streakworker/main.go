// The streakworker binary runs the background maintenance loops: the
// periodic streak reset sweep and DLQ retry processing.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/reading/internal/config"
	"example.com/reading/internal/observability"
	"example.com/reading/internal/outbox"
	persistence "example.com/reading/internal/persistence/postgres"
	"example.com/reading/internal/streak"
)

const dlqBatchSize = 50

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	engine := streak.NewEngine(repo, repo, streak.WithDefaults(cfg.DefaultThreshold, cfg.DefaultTimeZone))
	dlq := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("streak worker metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runResetSweeps(ctx, repo, engine, cfg.ResetSweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDLQRetries(ctx, dlq, cfg.DLQPollInterval)
	}()

	log.Printf("streak worker started (sweep=%s, dlqPoll=%s, maxRetries=%d)",
		cfg.ResetSweepInterval, cfg.DLQPollInterval, cfg.DLQMaxRetries)

	<-stop
	log.Println("streak worker shutdown requested")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}

// runResetSweeps walks every known streak owner and applies the idempotent
// expiry check, so streaks lapse on time even for owners who never call the
// API again.
func runResetSweeps(ctx context.Context, states streak.StateStore, engine *streak.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sweepOnce(ctx, states, engine)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweepOnce(ctx context.Context, states streak.StateStore, engine *streak.Engine) {
	owners, err := states.Owners(ctx)
	if err != nil {
		log.Printf("reset sweep: listing owners failed: %v", err)
		observability.RecordResetSweepError()
		return
	}

	resets := 0
	for _, ownerID := range owners {
		if ctx.Err() != nil {
			return
		}
		result, err := engine.CheckAndResetIfNeeded(ctx, ownerID)
		if err != nil {
			log.Printf("reset sweep: owner %s check failed: %v", ownerID, err)
			observability.RecordResetSweepError()
			continue
		}
		if result.Changed {
			resets++
		}
	}

	observability.RecordResetSweep(time.Now())
	if resets > 0 {
		log.Printf("reset sweep expired %d streaks across %d owners", resets, len(owners))
	}
}

func runDLQRetries(ctx context.Context, dlq *outbox.DLQManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := dlq.RunOnce(ctx, dlqBatchSize)
			if err != nil {
				log.Printf("dlq retry error: %v", err)
			} else if processed > 0 {
				log.Printf("dlq retry requeued %d entries", processed)
			}
		}
	}
}
