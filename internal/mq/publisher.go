package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Actionrun/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypePlanSubmitted MessageType = "plan.submitted"
	MessageTypeStepCompleted MessageType = "step.completed"
	MessageTypePlanFinished  MessageType = "plan.finished"
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

// PlanSubmittedPayload — план ожидает выполнения воркером.
// Сам план не передаётся: воркер читает его из хранилища статусов.
type PlanSubmittedPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// StepCompletedPayload — шаг завершил попытку выполнения.
type StepCompletedPayload struct {
	RunID    uuid.UUID         `json:"run_id"`
	Stage    string            `json:"stage"`
	Step     string            `json:"step"`
	Status   domain.StepStatus `json:"status"`
	ExitCode *int              `json:"exit_code,omitempty"`
	LogFile  string            `json:"log_file,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// PlanFinishedPayload — run перешёл в терминальный статус.
type PlanFinishedPayload struct {
	RunID      uuid.UUID         `json:"run_id"`
	PlanName   string            `json:"plan_name"`
	Status     domain.PlanStatus `json:"status"`
	FailedStep string            `json:"failed_step,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// NewMessage оборачивает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
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
	})
}

// PublishPlanSubmitted отправляет run воркерам.
// Потребитель: actionrun-worker.
func (p *Publisher) PublishPlanSubmitted(ctx context.Context, runID uuid.UUID) error {
	msg := NewMessage(MessageTypePlanSubmitted, PlanSubmittedPayload{RunID: runID})
	return p.Publish(ctx, ExchangePlans, RoutingKeySubmitted, msg)
}

// PublishStepCompleted публикует событие о завершённом шаге.
func (p *Publisher) PublishStepCompleted(ctx context.Context, runID uuid.UUID, rec domain.StepRecord) error {
	msg := NewMessage(MessageTypeStepCompleted, StepCompletedPayload{
		RunID:    runID,
		Stage:    rec.Stage,
		Step:     rec.Name,
		Status:   rec.Status,
		ExitCode: rec.ExitCode,
		LogFile:  rec.LogFile,
		Error:    rec.Error,
	})
	return p.Publish(ctx, ExchangeEvents, RoutingKeyStepCompleted, msg)
}

// PublishPlanFinished публикует событие о завершении run.
func (p *Publisher) PublishPlanFinished(ctx context.Context, run *domain.PlanRun) error {
	msg := NewMessage(MessageTypePlanFinished, PlanFinishedPayload{
		RunID:      run.ID,
		PlanName:   run.PlanName,
		Status:     run.Status,
		FailedStep: run.FailedStep,
		Error:      run.Error,
		DurationMS: run.Duration().Milliseconds(),
	})
	return p.Publish(ctx, ExchangeEvents, RoutingKeyPlanFinished, msg)
}
