package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/verger-io/verger/internal/domain"
	"github.com/verger-io/verger/internal/mq"
)

// unavailableSubstrate подставляется при отсутствии брокера: назначение
// проходит, отправка откладывается до восстановления связи.
type unavailableSubstrate struct{}

func (unavailableSubstrate) Enqueue(context.Context, *domain.Task) error {
	return errors.New("execution substrate unavailable")
}

// MQSubstrate — адаптер Substrate поверх RabbitMQ publisher'а.
type MQSubstrate struct {
	pub *mq.Publisher
}

// NewMQSubstrate создаёт адаптер.
func NewMQSubstrate(pub *mq.Publisher) *MQSubstrate {
	return &MQSubstrate{pub: pub}
}

// Enqueue публикует назначенный task в очередь диспетчеризации.
func (s *MQSubstrate) Enqueue(ctx context.Context, task *domain.Task) error {
	if task.WorkerID == nil {
		return fmt.Errorf("task %s has no assigned worker", task.ID)
	}
	return s.pub.DispatchTask(ctx, mq.TaskDispatchPayload{
		TaskID:        task.ID,
		WorkflowID:    task.WorkflowID,
		WorkerID:      *task.WorkerID,
		TaskType:      string(task.Type),
		CorrelationID: task.CorrelationID,
		Payload:       task.Payload,
	})
}
