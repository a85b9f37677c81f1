package cli

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verger-io/verger/internal/assign"
	"github.com/verger-io/verger/internal/audit"
	"github.com/verger-io/verger/internal/mq"
	"github.com/verger-io/verger/internal/orchestrator"
	"github.com/verger-io/verger/internal/registry"
	"github.com/verger-io/verger/internal/repo"
)

// App — подключённые зависимости одной CLI-операции.
type App struct {
	pool *pgxpool.Pool
	conn *mq.Connection

	Workflows *repo.WorkflowRepo
	Tasks     *repo.TaskRepo
	Workers   *repo.WorkerRepo
	Skills    *repo.SkillRepo

	Audit        *audit.Log
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
}

// NewApp подключается к Postgres (обязательно) и RabbitMQ (опционально)
// и собирает сервисы.
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	pool, err := repo.NewPool(ctx)
	if err != nil {
		return nil, err
	}

	workers := repo.NewWorkerRepo(pool)
	tasks := repo.NewTaskRepo(pool)
	workflows := repo.NewWorkflowRepo(pool)
	skills := repo.NewSkillRepo(pool)

	auditLog := audit.New(repo.NewAuditRepo(pool), logger)
	reg := registry.New(workers, logger)
	reg.SetAuditor(auditLog)
	engine := assign.New(assign.Config{Registry: reg, Logger: logger})

	var substrate orchestrator.Substrate
	conn, err := mq.Connect(mq.URLFromEnv(), logger)
	if err != nil {
		conn = nil
		logger.Warn("broker unavailable, dispatch deferred", "error", err)
	} else {
		substrate = orchestrator.NewMQSubstrate(mq.NewPublisher(conn, logger))
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

	return &App{
		pool:         pool,
		conn:         conn,
		Workflows:    workflows,
		Tasks:        tasks,
		Workers:      workers,
		Skills:       skills,
		Audit:        auditLog,
		Registry:     reg,
		Orchestrator: orch,
	}, nil
}

// Close освобождает соединения.
func (a *App) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
