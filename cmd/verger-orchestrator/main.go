// Verger Orchestrator — демон координации workflow.
//
// Orchestrator:
//   - Создаёт workflows и назначает tasks исполнителям
//   - Отправляет назначенные tasks в RabbitMQ
//   - Принимает события жизненного цикла из очереди результатов
//   - Пересчитывает и финализирует статусы workflow
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verger-io/verger/internal/assign"
	"github.com/verger-io/verger/internal/audit"
	"github.com/verger-io/verger/internal/mq"
	"github.com/verger-io/verger/internal/orchestrator"
	"github.com/verger-io/verger/internal/registry"
	"github.com/verger-io/verger/internal/repo"
	"github.com/verger-io/verger/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting verger-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
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

	// RabbitMQ: без брокера остаётся polling-only режим
	var mqConn *mq.Connection
	var substrate orchestrator.Substrate
	mqConn, err = mq.Connect(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		substrate = orchestrator.NewMQSubstrate(mq.NewPublisher(mqConn, logger))
	}

	orch := orchestrator.New(orchestrator.Config{
		Workflows: workflows,
		Tasks:     tasks,
		Registry:  reg,
		Engine:    engine,
		Audit:     auditLog,
		Substrate: substrate,
		MQ:        mqConn,
		Logger:    logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ORCH_PORT"); v != "" {
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

	orch.Stop()
	logger.Info("verger-orchestrator stopped")
}
