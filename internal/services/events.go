package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

const eventsExchange = "carebridge.events"

// EventPublisher pushes lifecycle events onto a RabbitMQ topic exchange.
type EventPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

var Events *EventPublisher

// InitEvents connects the event publisher. An empty URL disables events;
// publishing stays best-effort either way.
func InitEvents(url string) error {
	if url == "" {
		log.Println("Warning: AMQP_URL not set. Lifecycle events will be disabled.")
		return nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	Events = &EventPublisher{conn: conn, ch: ch}
	return nil
}

// PublishEvent publishes a JSON event under the given routing key. Failures
// are logged and never propagate into the calling transaction.
func PublishEvent(ctx context.Context, key string, payload any) {
	if Events == nil {
		return
	}

	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling event %s: %v", key, err)
		return
	}

	err = Events.ch.PublishWithContext(ctx, eventsExchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        b,
	})
	if err != nil {
		log.Printf("Error publishing event %s: %v", key, err)
	}
}

// CloseEvents shuts the publisher down.
func CloseEvents() {
	if Events == nil {
		return
	}
	if Events.ch != nil {
		_ = Events.ch.Close()
	}
	if Events.conn != nil {
		_ = Events.conn.Close()
	}
	Events = nil
}
