package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"adeguard/metrics"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

const publishTimeout = 5 * time.Second

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends JSON events to a direct exchange.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string

	mu     sync.Mutex
	closed bool
}

// NewPublisher connects to RabbitMQ and declares a durable direct exchange.
func NewPublisher(ctx context.Context, amqpURL, exchangeName string) (*Publisher, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ctx.Err(); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("context timeout while creating publisher: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, exchange: exchangeName}, nil
}

func newPublisherWithChannel(ch channel, exchange string) *Publisher {
	return &Publisher{channel: ch, exchange: exchange}
}

// Publish marshals message as JSON and publishes it persistently with routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	err = p.channel.Publish(
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(routingKey, "timeout").Inc()
		return fmt.Errorf("context timeout while publishing message: %w", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(routingKey, "ok").Inc()
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.channel != nil {
		if chErr := p.channel.Close(); chErr != nil {
			log.Warnf("Failed to close channel: %v", chErr)
			err = chErr
		}
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			log.Warnf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}
	return err
}

// IsConnected reports whether the underlying connection is open.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.conn == nil {
		return p.channel != nil
	}
	return !p.conn.IsClosed()
}

func (p *Publisher) Exchange() string {
	return p.exchange
}
