package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

const (
	MessageTypeTaskDispatch  MessageType = "task.dispatch"
	MessageTypeTaskStarted   MessageType = "task.started"
	MessageTypeTaskHeartbeat MessageType = "task.heartbeat"
	MessageTypeTaskResult    MessageType = "task.result"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskDispatchPayload — назначенный task для приложения исполнителя.
type TaskDispatchPayload struct {
	TaskID        uuid.UUID      `json:"task_id"`
	WorkflowID    uuid.UUID      `json:"workflow_id"`
	WorkerID      uuid.UUID      `json:"worker_id"`
	TaskType      string         `json:"task_type"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// TaskStartedPayload — исполнитель взял task в работу.
type TaskStartedPayload struct {
	CorrelationID string    `json:"correlation_id"`
	WorkerID      uuid.UUID `json:"worker_id"`
}

// TaskHeartbeatPayload — периодический сигнал, что task ещё в работе.
type TaskHeartbeatPayload struct {
	CorrelationID string    `json:"correlation_id"`
	WorkerID      uuid.UUID `json:"worker_id"`
}

// TaskResultPayload — итог выполнения task.
//
// Status — COMPLETED, FAILED или REVIEW_REQUIRED.
type TaskResultPayload struct {
	CorrelationID string         `json:"correlation_id"`
	WorkerID      uuid.UUID      `json:"worker_id"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher поверх соединения.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		string(exchange),
		string(routingKey),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// DispatchTask публикует назначенный task в очередь диспетчеризации.
// Потребители: приложения исполнителей.
func (p *Publisher) DispatchTask(ctx context.Context, payload TaskDispatchPayload) error {
	return p.Publish(ctx, ExchangeTasks, RoutingKeyDispatch, MessageTypeTaskDispatch, payload)
}

// PublishResult публикует итог выполнения task.
// Потребитель: оркестратор. Используется тестовыми исполнителями и CLI.
func (p *Publisher) PublishResult(ctx context.Context, payload TaskResultPayload) error {
	return p.Publish(ctx, ExchangeTasks, RoutingKeyResults, MessageTypeTaskResult, payload)
}
