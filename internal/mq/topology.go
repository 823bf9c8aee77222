package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	// ExchangePlans — отправка планов воркерам.
	ExchangePlans Exchange = "actionrun.plans"

	// ExchangeEvents — события жизненного цикла (topic). Очереди подписчиков
	// объявляют сами потребители событий.
	ExchangeEvents Exchange = "actionrun.events"

	// ExchangeDLQ — отклонённые сообщения.
	ExchangeDLQ Exchange = "actionrun.dlq"
)

// Queues.
const (
	QueuePlansSubmitted Queue = "plans.submitted"
	QueueDLQPlans       Queue = "dlq.plans"
)

// Routing keys.
const (
	RoutingKeySubmitted     RoutingKey = "submitted"
	RoutingKeyStepCompleted RoutingKey = "step.completed"
	RoutingKeyPlanFinished  RoutingKey = "plan.finished"
	RoutingKeyDLQPlans      RoutingKey = "plans"
)

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangePlans, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// plans.submitted — отклонённые (битые) сообщения уходят в DLQ
		{QueuePlansSubmitted, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQPlans),
		}},
		{QueueDLQPlans, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueuePlansSubmitted, RoutingKeySubmitted, ExchangePlans},
		{QueueDLQPlans, RoutingKeyDLQPlans, ExchangeDLQ},
	}

	for _, b := range bindings {
		if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Actionrun RabbitMQ Topology:

    actionrun.plans (direct)
    └── plans.submitted [routing: submitted]
            Consumer: actionrun-worker
            DLQ: dlq.plans

    actionrun.events (topic)
    ├── step.completed
    └── plan.finished
            Consumers: external subscribers

    actionrun.dlq (direct)
    └── dlq.plans [routing: plans]
            Manual processing
`
}
