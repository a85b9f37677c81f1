package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrWorkflowNotStartable — workflow не в статусе, допускающем запуск.
	ErrWorkflowNotStartable = errors.New("workflow not startable")

	// ErrWorkflowFinished — workflow уже в терминальном статусе.
	ErrWorkflowFinished = errors.New("workflow already finished")

	// ErrNoTaskTypes — workflow без единого task не создаётся.
	ErrNoTaskTypes = errors.New("no task types for workflow")

	// ErrUnknownTaskType — тип task не известен системе.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrEmptyEntityRef — workflow обязан ссылаться на породившую сущность.
	ErrEmptyEntityRef = errors.New("empty entity ref")
)
