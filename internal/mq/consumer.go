package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
)

// Binding attaches a durable queue to an exchange under one routing key.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// ErrUnprocessable marks a message no number of redeliveries can fix.
// Handlers wrap it to have the consumer reject without requeue instead
// of looping the message through the queue forever.
var ErrUnprocessable = errors.New("unprocessable message")

// Handler processes one decoded envelope. A non-nil error requeues the
// message for redelivery, unless it wraps ErrUnprocessable.
type Handler func(ctx context.Context, event *cloudevents.Event) error

// Consumer drains one or more queues and feeds messages to a Handler.
// Messages that fail to parse as CloudEvents are rejected without
// requeue; handler errors nack with requeue (at-least-once delivery).
type Consumer struct {
	url      string
	bindings []Binding
	prefetch int
	handler  Handler
	log      zerolog.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConsumer builds a consumer. prefetch bounds unacked deliveries per
// channel; zero means the broker default.
func NewConsumer(url string, bindings []Binding, prefetch int, handler Handler, log zerolog.Logger) *Consumer {
	return &Consumer{
		url:      url,
		bindings: bindings,
		prefetch: prefetch,
		handler:  handler,
		log:      log,
	}
}

// Run connects, declares queues and bindings, and consumes until the
// context is cancelled or the broker connection drops. Callers wrap Run
// in their own reconnect loop.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()
	c.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer channel.Close()
	c.channel = channel

	if c.prefetch > 0 {
		if err := channel.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	deliveries := make([]<-chan amqp.Delivery, 0, len(c.bindings))
	for _, b := range c.bindings {
		if err := channel.ExchangeDeclare(b.Exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", b.Exchange, err)
		}
		if _, err := channel.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.Queue, err)
		}
		if err := channel.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s via %s: %w", b.Queue, b.Exchange, b.RoutingKey, err)
		}
		msgs, err := channel.Consume(b.Queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", b.Queue, err)
		}
		deliveries = append(deliveries, msgs)
		c.log.Info().Str("queue", b.Queue).Str("routing_key", b.RoutingKey).Msg("consuming queue")
	}

	// Dispatch stays on this goroutine so handlers see messages one at
	// a time. The done channel releases any forwarder still holding an
	// in-flight delivery when Run returns; without it every reconnect
	// would strand a set of blocked goroutines.
	merged := make(chan amqp.Delivery)
	done := make(chan struct{})
	defer close(done)
	for _, ch := range deliveries {
		go forward(ch, merged, done)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-closed:
			if err != nil {
				return fmt.Errorf("broker connection lost: %w", err)
			}
			return nil
		case d := <-merged:
			c.dispatch(ctx, d)
		}
	}
}

// forward relays one queue's deliveries into merged until the delivery
// channel closes or done is closed.
func forward(msgs <-chan amqp.Delivery, merged chan<- amqp.Delivery, done <-chan struct{}) {
	for d := range msgs {
		select {
		case merged <- d:
		case <-done:
			return
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	var event cloudevents.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("rejecting unparseable message")
		_ = d.Reject(false)
		return
	}
	if err := event.Validate(); err != nil {
		c.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("rejecting invalid envelope")
		_ = d.Reject(false)
		return
	}

	start := time.Now()
	if err := c.handler(ctx, &event); err != nil {
		if errors.Is(err, ErrUnprocessable) {
			c.log.Warn().Err(err).
				Str("id", event.ID).
				Str("type", event.Type).
				Msg("rejecting unprocessable message")
			_ = d.Reject(false)
			return
		}
		c.log.Error().Err(err).
			Str("id", event.ID).
			Str("type", event.Type).
			Msg("handler failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	c.log.Debug().
		Str("id", event.ID).
		Str("type", event.Type).
		Dur("elapsed", time.Since(start)).
		Msg("message processed")
}

// RunForever keeps Run alive across broker outages, backing off between
// attempts, until the context is cancelled.
func (c *Consumer) RunForever(ctx context.Context) {
	backoff := time.Second
	for {
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("consumer stopped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
