// Package mq wraps the RabbitMQ connection handling shared by every
// service: a topic-exchange publisher for CloudEvent envelopes and a
// queue consumer with prefetch and requeue semantics.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
)

const (
	// DiscoveryExchange carries collector output and approved records.
	DiscoveryExchange = "discovery.events"
	// ProcessingExchange carries scored events published by the processor.
	ProcessingExchange = "processing.events"

	publishTimeout = 5 * time.Second
)

// ErrClosed is returned by operations on a closed publisher.
var ErrClosed = errors.New("mq: publisher closed")

// Publisher sends CloudEvent envelopes to a durable topic exchange. The
// exchange is declared on the first publish. A Publisher is owned by a
// single service and is safe for concurrent use.
type Publisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared bool
	closed   bool
	log      zerolog.Logger
}

// NewPublisher creates a publisher for the given exchange. The broker
// connection is established lazily so services can start before the
// broker is reachable.
func NewPublisher(url, exchange string, log zerolog.Logger) *Publisher {
	return &Publisher{
		url:      url,
		exchange: exchange,
		log:      log.With().Str("exchange", exchange).Logger(),
	}
}

// Publish serializes the envelope and publishes it with persistent
// delivery under the given routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event *cloudevents.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.ensureChannelLocked(); err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		pubCtx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  cloudevents.ContentType,
			DeliveryMode: amqp.Persistent,
			Body:         body,
			MessageId:    event.ID,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		// Drop the channel so the next publish reconnects.
		p.teardownLocked()
		return fmt.Errorf("publish event: %w", err)
	}

	p.log.Debug().
		Str("type", event.Type).
		Str("id", event.ID).
		Str("routing_key", routingKey).
		Msg("event published")
	return nil
}

func (p *Publisher) ensureChannelLocked() error {
	if p.channel != nil {
		return nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if !p.declared {
		if err := channel.ExchangeDeclare(
			p.exchange,
			"topic",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			_ = channel.Close()
			_ = conn.Close()
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.declared = true
	}

	p.conn = conn
	p.channel = channel
	return nil
}

func (p *Publisher) teardownLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close shuts the channel and connection down. Subsequent publishes fail
// with ErrClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.teardownLocked()
	return nil
}
