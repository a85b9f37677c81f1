package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verger-io/verger/internal/assign"
	"github.com/verger-io/verger/internal/audit"
	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/mq"
	"github.com/verger-io/verger/internal/registry"
)

// WorkflowStore — хранилище workflows.
//
// UpdateIf обязан выполнять условное обновление: строка меняется только
// если текущий статус равен expected, иначе repo.ErrStaleUpdate.
type WorkflowStore interface {
	CreateWithTasks(ctx context.Context, wf *domain.Workflow, tasks []*domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	UpdateIf(ctx context.Context, wf *domain.Workflow, expected domain.WorkflowStatus) error
	SetCompletedCount(ctx context.Context, id uuid.UUID, completed int) error
}

// TaskStore — хранилище tasks с тем же контрактом UpdateIf.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Task, error)
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.Task, error)
	ListUnassigned(ctx context.Context, limit int) ([]domain.Task, error)
	UpdateIf(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error
	Heartbeat(ctx context.Context, taskID uuid.UUID, at time.Time) error
}

// Substrate — исходящий край execution substrate: постановка
// назначенного task в очередь исполнителя.
type Substrate interface {
	Enqueue(ctx context.Context, task *domain.Task) error
}

// Defaults.
const (
	DefaultPollInterval     = 15 * time.Second
	DefaultDispatchAttempts = 3
	DefaultDispatchBackoff  = 250 * time.Millisecond
	DefaultPollBatch        = 50
)

// Config — зависимости и настройки Orchestrator.
type Config struct {
	Workflows WorkflowStore
	Tasks     TaskStore
	Registry  *registry.Registry
	Engine    *assign.Engine
	Audit     *audit.Log

	// Substrate — исходящая постановка tasks. nil — отправка
	// откладывается до доступности брокера.
	Substrate Substrate

	// MQ — соединение для consumer'а результатов.
	// nil — режим только с polling (без входящих событий).
	MQ *mq.Connection

	// DefaultStrategy — стратегия назначения по умолчанию
	// (default: skill_match).
	DefaultStrategy domain.AssignmentStrategy

	// PollInterval — период повторных попыток назначения PENDING tasks
	// (default: 15s).
	PollInterval time.Duration

	// DispatchAttempts — попыток отправки в substrate (default: 3).
	DispatchAttempts int

	// DispatchBackoff — базовая задержка между попытками (default: 250ms).
	DispatchBackoff time.Duration

	Logger *slog.Logger
}

// Orchestrator — сервис координации workflow.
type Orchestrator struct {
	workflows WorkflowStore
	tasks     TaskStore
	registry  *registry.Registry
	engine    *assign.Engine
	audit     *audit.Log
	substrate Substrate
	mqConn    *mq.Connection

	strategy         domain.AssignmentStrategy
	pollInterval     time.Duration
	dispatchAttempts int
	dispatchBackoff  time.Duration

	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	strategy := cfg.DefaultStrategy
	if strategy == "" {
		strategy = domain.StrategySkillMatch
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	attempts := cfg.DispatchAttempts
	if attempts <= 0 {
		attempts = DefaultDispatchAttempts
	}
	backoff := cfg.DispatchBackoff
	if backoff <= 0 {
		backoff = DefaultDispatchBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	substrate := cfg.Substrate
	if substrate == nil {
		substrate = unavailableSubstrate{}
	}

	return &Orchestrator{
		workflows:        cfg.Workflows,
		tasks:            cfg.Tasks,
		registry:         cfg.Registry,
		engine:           cfg.Engine,
		audit:            cfg.Audit,
		substrate:        substrate,
		mqConn:           cfg.MQ,
		strategy:         strategy,
		pollInterval:     pollInterval,
		dispatchAttempts: attempts,
		dispatchBackoff:  backoff,
		logger:           logger,
	}
}

// Start запускает consumer результатов и polling fallback.
// Не блокирует вызывающего.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if o.mqConn != nil {
		consumer := mq.NewConsumer(o.mqConn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueTaskResults,
			Tag:      "orchestrator-results",
			Handler:  o.handleMessage,
			Prefetch: 8,
		})
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("results consumer stopped", "error", err)
			}
		}()
	} else {
		o.logger.Warn("no MQ connection, results consumer disabled")
	}

	o.wg.Add(1)
	go o.pollLoop(ctx)

	o.logger.Info("orchestrator started",
		"strategy", o.strategy,
		"poll_interval", o.pollInterval,
	)
	return nil
}

// Stop останавливает фоновые циклы и дожидается их завершения.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

// pollLoop периодически пытается назначить PENDING tasks активных
// workflows. Подстраховка на случай потери событий и отказов назначения.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollPending(ctx)
		}
	}
}

func (o *Orchestrator) pollPending(ctx context.Context) {
	tasks, err := o.tasks.ListUnassigned(ctx, DefaultPollBatch)
	if err != nil {
		o.logger.Error("poll unassigned tasks failed", "error", err)
		return
	}

	for i := range tasks {
		task := &tasks[i]
		if err := o.assignAndDispatch(ctx, task, o.strategy); err != nil {
			o.logger.Error("poll assignment failed",
				"task_id", task.ID,
				"error", err,
			)
		}
	}
}
