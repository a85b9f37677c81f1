package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeTasks Exchange = "verger.tasks"
	ExchangeDLQ   Exchange = "verger.dlq"
)

const (
	// QueueTaskDispatch — назначенные task для приложений исполнителей.
	QueueTaskDispatch Queue = "tasks.dispatch"

	// QueueTaskResults — события жизненного цикла от исполнителей.
	QueueTaskResults Queue = "tasks.results"

	// QueueDLQTasks — сообщения, отклонённые без requeue.
	QueueDLQTasks Queue = "dlq.tasks"
)

const (
	RoutingKeyDispatch RoutingKey = "dispatch"
	RoutingKeyResults  RoutingKey = "results"
	RoutingKeyDLQTasks RoutingKey = "tasks"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентна: повторный вызов на той же топологии безопасен.
func SetupTopology(conn *Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	for _, ex := range []Exchange{ExchangeTasks, ExchangeDLQ} {
		if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueTaskDispatch, dlqArgs},
		{QueueTaskResults, dlqArgs},
		{QueueDLQTasks, nil},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueTaskDispatch, RoutingKeyDispatch, ExchangeTasks},
		{QueueTaskResults, RoutingKeyResults, ExchangeTasks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}
	for _, b := range bindings {
		if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
