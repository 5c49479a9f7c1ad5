package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/streadway/amqp"
)

const (
	// queue for audit entries
	AuditQueue = "audit_logs"
)

// publisher is the part of *amqp.Channel used to send messages.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// handles RabbitMQ operations
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	pub     publisher
	mu      sync.Mutex
}

// AuditDelivery is one queued audit entry. Ack or Nack must be called once.
type AuditDelivery struct {
	Entry *models.AuditEntry
	Ack   func() error
	Nack  func(requeue bool) error
}

func NewRabbitMQ(uri string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		AuditQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		pub:     ch,
	}, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// Record publishes entry to the audit queue.
func (r *RabbitMQ) Record(ctx context.Context, entry *models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.pub.Publish(
		"",         // exchange
		AuditQueue, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    entry.ID,
			Timestamp:    entry.Timestamp,
			Body:         body,
			DeliveryMode: amqp.Persistent, // make message persistent
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// consumes audit entries from the queue
func (r *RabbitMQ) ConsumeAudit(ctx context.Context) (<-chan AuditDelivery, error) {
	msgs, err := r.channel.Consume(
		AuditQueue, // queue
		"",         // consumer
		false,      // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	return deliveries(ctx, msgs), nil
}

// deliveries decodes msgs into audit deliveries. Messages that are not a valid
// audit entry are rejected without requeue.
func deliveries(ctx context.Context, msgs <-chan amqp.Delivery) <-chan AuditDelivery {
	out := make(chan AuditDelivery)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				entry, err := decodeAudit(msg.Body)
				if err != nil {
					log.Printf("rejecting audit message %s: %v", msg.MessageId, err)
					msg.Reject(false) // Don't requeue
					continue
				}

				d := AuditDelivery{
					Entry: entry,
					Ack:   func() error { return msg.Ack(false) },
					Nack:  func(requeue bool) error { return msg.Nack(false, requeue) },
				}

				select {
				case out <- d:
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()

	return out
}

func decodeAudit(body []byte) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
	}
	if entry.ID == "" || entry.Actor == "" || entry.Action == "" {
		return nil, fmt.Errorf("audit entry is missing id, actor or action")
	}
	return &entry, nil
}
