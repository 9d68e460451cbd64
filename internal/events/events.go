// Package events publishes best-effort lifecycle notifications
// (environment registered/closed, execution completed) to a RabbitMQ topic
// exchange. This is observability, not control flow: publish failures are
// logged and never block the HTTP response. Grounded on the teacher's
// pkg/queue/rabbitmq/rabbitmq.go connection/exchange-management pattern,
// repurposed from a priority job queue into a topic event bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "secchiware.events"

// Kinds of lifecycle events published.
const (
	EnvironmentRegistered = "environment.registered"
	EnvironmentClosed     = "environment.closed"
	ExecutionCompleted    = "execution.completed"
)

// Event is the JSON body published for every lifecycle notification.
type Event struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Publisher publishes best-effort JSON events to the topic exchange.
type Publisher struct {
	conn   *amqp.Connection
	logger *slog.Logger
}

// NewPublisher connects to RabbitMQ and declares the topic exchange.
func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declaring exchange: %w", err)
	}

	logger.Info("event publisher ready", slog.String("exchange", exchangeName))
	return &Publisher{conn: conn, logger: logger}, nil
}

// Publish sends kind with the given data, best-effort: failures are logged,
// never returned to the caller's request path.
func (p *Publisher) Publish(ctx context.Context, kind string, data map[string]interface{}) {
	ch, err := p.conn.Channel()
	if err != nil {
		p.logger.Warn("events: failed to open channel", slog.String("error", err.Error()))
		return
	}
	defer ch.Close()

	evt := Event{ID: uuid.NewString(), Kind: kind, Timestamp: time.Now().UTC(), Data: data}
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("events: failed to marshal event", slog.String("error", err.Error()))
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = ch.PublishWithContext(publishCtx, exchangeName, kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		MessageId:   evt.ID,
		Timestamp:   evt.Timestamp,
	})
	if err != nil {
		p.logger.Warn("events: publish failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}

func (p *Publisher) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
