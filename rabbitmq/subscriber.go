package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"adeguard/metrics"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

const maxBackoff = 30 * time.Second

// Message is a delivery handed to a Handler.
type Message struct {
	Body        []byte
	RoutingKey  string
	ContentType string
	Timestamp   time.Time
	DeliveryTag uint64
	Redelivered bool
}

// UnmarshalTo decodes the JSON body into v.
func (m *Message) UnmarshalTo(v any) error {
	return json.Unmarshal(m.Body, v)
}

// Handler processes a message. Return nil to ack, Permanent(err) to drop the
// message, and any other error to requeue it.
type Handler func(ctx context.Context, msg *Message) error

// PermanentError marks a message processing failure as non-retriable.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// Subscriber consumes a durable queue bound to a direct exchange and
// dispatches deliveries to a bounded worker pool. It reconnects with
// backoff when the broker goes away.
type Subscriber struct {
	amqpURL  string
	exchange string
	queue    string
	workers  int

	// mu serializes channel operations; amqp.Channel is not safe for concurrent use.
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	connected atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSubscriber connects immediately so callers fail fast when RabbitMQ is unreachable.
func NewSubscriber(amqpURL, exchange, queue string, workers int) (*Subscriber, error) {
	if workers <= 0 {
		workers = 1
	}
	s := &Subscriber{
		amqpURL:  amqpURL,
		exchange: exchange,
		queue:    queue,
		workers:  workers,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	err := s.connectLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// connectLocked replaces the connection and channel. Caller must hold s.mu.
func (s *Subscriber) connectLocked() error {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.setConnected(false)

	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(s.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	s.queue = q.Name

	s.conn = conn
	s.channel = ch
	s.setConnected(true)
	return nil
}

func (s *Subscriber) setConnected(v bool) {
	s.connected.Store(v)
	if v {
		metrics.IntakeConnected.Set(1)
	} else {
		metrics.IntakeConnected.Set(0)
	}
}

// Start begins consuming and dispatching deliveries by routing key. Calls
// after the first are ignored.
func (s *Subscriber) Start(handlers map[string]Handler) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-s.done
			cancel()
		}()

		jobs := make(chan amqp.Delivery, s.workers)
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go func(workerID int) {
				defer s.wg.Done()
				for d := range jobs {
					s.handle(ctx, workerID, d, handlers)
				}
			}(i + 1)
		}

		go func() {
			defer close(jobs)
			backoff := time.Second
			for {
				msgs, err := s.consume(handlers)
				if err != nil {
					log.WithFields(log.Fields{"queue": s.queue, "error": err.Error()}).Warn("intake.consume_failed")
					if !s.sleep(backoff) {
						return
					}
					backoff = min(backoff*2, maxBackoff)
					continue
				}

				log.WithFields(log.Fields{"exchange": s.exchange, "queue": s.queue, "workers": s.workers}).Info("intake.consuming")
				backoff = time.Second

				if !s.forward(msgs, jobs) {
					return
				}
				s.setConnected(false)
				log.WithField("queue", s.queue).Warn("intake.delivery_channel_closed")
				if !s.sleep(backoff) {
					return
				}
			}
		}()
	})
}

// consume (re)connects if needed, applies QoS and bindings and starts a consumer.
func (s *Subscriber) consume(handlers map[string]Handler) (<-chan amqp.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() || s.channel == nil {
		if err := s.connectLocked(); err != nil {
			return nil, err
		}
	}
	if err := s.channel.Qos(s.workers, 0, false); err != nil {
		s.setConnected(false)
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	for routingKey := range handlers {
		if err := s.channel.QueueBind(s.queue, routingKey, s.exchange, false, nil); err != nil {
			s.setConnected(false)
			return nil, fmt.Errorf("failed to bind %s: %w", routingKey, err)
		}
	}
	msgs, err := s.channel.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		s.setConnected(false)
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	return msgs, nil
}

// forward feeds deliveries to the workers. It returns false once the
// subscriber is closed and true when the delivery channel closes.
func (s *Subscriber) forward(msgs <-chan amqp.Delivery, jobs chan<- amqp.Delivery) bool {
	for {
		select {
		case <-s.done:
			return false
		case d, ok := <-msgs:
			if !ok {
				return true
			}
			select {
			case jobs <- d:
			case <-s.done:
				return false
			}
		}
	}
}

func (s *Subscriber) sleep(d time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(d):
		return true
	}
}

// handle runs one delivery and acks or nacks it after processing completes.
func (s *Subscriber) handle(ctx context.Context, workerID int, d amqp.Delivery, handlers map[string]Handler) string {
	startedAt := time.Now()
	metrics.IntakeInFlight.Inc()
	defer metrics.IntakeInFlight.Dec()

	outcome, err := s.dispatch(ctx, d, handlers)

	var ackErr error
	s.mu.Lock()
	switch outcome {
	case "success":
		ackErr = d.Ack(false)
	case "transient_error":
		ackErr = d.Nack(false, true)
	default:
		ackErr = d.Nack(false, false)
	}
	s.mu.Unlock()

	metrics.IntakeMessagesTotal.WithLabelValues(outcome).Inc()
	fields := log.Fields{
		"worker_id":    workerID,
		"routing_key":  d.RoutingKey,
		"delivery_tag": d.DeliveryTag,
		"redelivered":  d.Redelivered,
		"outcome":      outcome,
		"duration_ms":  time.Since(startedAt).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if ackErr != nil {
		fields["ack_error"] = ackErr.Error()
	}
	entry := log.WithFields(fields)
	if outcome == "success" {
		entry.Debug("intake.message_processed")
	} else {
		entry.Warn("intake.message_failed")
	}
	return outcome
}

func (s *Subscriber) dispatch(ctx context.Context, d amqp.Delivery, handlers map[string]Handler) (outcome string, err error) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		return "permanent_error", fmt.Errorf("no handler for routing key %q", d.RoutingKey)
	}

	defer func() {
		if r := recover(); r != nil {
			outcome, err = "panic", fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = handler(ctx, &Message{
		Body:        d.Body,
		RoutingKey:  d.RoutingKey,
		ContentType: d.ContentType,
		Timestamp:   d.Timestamp,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
	})
	switch {
	case err == nil:
		return "success", nil
	case IsPermanent(err):
		return "permanent_error", err
	default:
		return "transient_error", err
	}
}

// Close stops consuming, waits for in-flight messages and closes the connection.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.channel != nil {
		if chErr := s.channel.Close(); chErr != nil {
			log.Warnf("Failed to close intake channel: %v", chErr)
			err = chErr
		}
		s.channel = nil
	}
	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil {
			log.Warnf("Failed to close intake connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
		s.conn = nil
	}
	s.setConnected(false)
	return err
}

// IsConnected reports whether the consumer currently holds a live connection.
func (s *Subscriber) IsConnected() bool {
	return s.connected.Load()
}

func (s *Subscriber) Queue() string { return s.queue }
