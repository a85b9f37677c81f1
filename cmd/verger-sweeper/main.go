// Verger Sweeper — фоновая уборка tasks.
//
// Sweeper:
//   - Находит IN_PROGRESS tasks без сигнала живости и помечает FAILED
//   - Возвращает FAILED tasks с оставшимися попытками обратно в очередь
//   - Работает в единственном экземпляре через pg advisory lock
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verger-io/verger/internal/assign"
	"github.com/verger-io/verger/internal/audit"
	"github.com/verger-io/verger/internal/mq"
	"github.com/verger-io/verger/internal/orchestrator"
	"github.com/verger-io/verger/internal/registry"
	"github.com/verger-io/verger/internal/repo"
	"github.com/verger-io/verger/internal/sweeper"
	"github.com/verger-io/verger/internal/telemetry"
)

const sweepLockKey int64 = 424243

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting verger-sweeper")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx)
	if err != nil {
		log.Fatalf("[sweeper] db connect: %v", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	workers := repo.NewWorkerRepo(pool)
	tasks := repo.NewTaskRepo(pool)
	workflows := repo.NewWorkflowRepo(pool)

	reg := registry.New(workers, logger)
	engine := assign.New(assign.Config{Registry: reg, Logger: logger})
	auditLog := audit.New(repo.NewAuditRepo(pool), logger)
	reg.SetAuditor(auditLog)

	// RabbitMQ: без брокера повторные назначения подберёт polling оркестратора
	var substrate orchestrator.Substrate
	mqConn, err := mq.Connect(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, retried tasks will not be dispatched", "error", err)
	} else {
		defer mqConn.Close()
		substrate = orchestrator.NewMQSubstrate(mq.NewPublisher(mqConn, logger))
	}

	orch := orchestrator.New(orchestrator.Config{
		Workflows: workflows,
		Tasks:     tasks,
		Registry:  reg,
		Engine:    engine,
		Audit:     auditLog,
		Substrate: substrate,
		Logger:    logger,
	})

	cfg := sweeper.Config{
		Tasks:        tasks,
		Orchestrator: orch,
		Logger:       logger,
	}
	if v := os.Getenv("STALE_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("[sweeper] bad STALE_AFTER %q: %v", v, err)
		}
		cfg.StaleAfter = d
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("[sweeper] bad SWEEP_INTERVAL %q: %v", v, err)
		}
		cfg.Interval = d
	}
	if v := os.Getenv("SWEEP_CRON"); v != "" {
		sched, err := sweeper.ParseCron(v)
		if err != nil {
			log.Fatalf("[sweeper] bad SWEEP_CRON %q: %v", v, err)
		}
		cfg.Schedule = sched
	}
	sw := sweeper.New(cfg)

	// leadership loop: проходы выполняет только держатель advisory lock
	go func() {
		tk := time.NewTicker(5 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", sweepLockKey)
			}
		}()

		for {
			select {
			case <-tk.C:
				if hasLock {
					continue
				}
				var ok bool
				if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", sweepLockKey).Scan(&ok); err != nil {
					logger.Error("advisory lock attempt failed", "error", err)
					continue
				}
				if !ok {
					// не лидер — ждём следующего тика
					continue
				}
				hasLock = true
				logger.Info("acquired sweep leadership")
				sw.Start(ctx)

			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8084"
	if v := os.Getenv("SWEEP_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	sw.Stop()
	logger.Info("verger-sweeper stopped")
}
