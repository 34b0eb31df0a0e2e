package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
	"github.com/aiforce/discovery-mesh/internal/metrics"
	"github.com/aiforce/discovery-mesh/internal/mq"
)

// Queues bound by the processor on the discovery exchange.
var ProcessorBindings = []mq.Binding{
	{Queue: "enrichment.server.queue", Exchange: mq.DiscoveryExchange, RoutingKey: "discovered.server"},
	{Queue: "enrichment.repository.queue", Exchange: mq.DiscoveryExchange, RoutingKey: "discovered.repository"},
	{Queue: "enrichment.database.queue", Exchange: mq.DiscoveryExchange, RoutingKey: "discovered.database"},
}

// Processor consumes discovered events, runs the stage chain, and
// re-publishes scored events on the processing exchange.
type Processor struct {
	pipeline  *Pipeline
	publisher scoredPublisher
	log       zerolog.Logger
}

type scoredPublisher interface {
	Publish(ctx context.Context, routingKey string, event *cloudevents.Event) error
}

// NewProcessor wires a pipeline to a scored-event publisher.
func NewProcessor(pipeline *Pipeline, publisher scoredPublisher, log zerolog.Logger) *Processor {
	return &Processor{pipeline: pipeline, publisher: publisher, log: log}
}

// Handle processes one discovered event. A stage or publish error
// returns non-nil so the consumer requeues the message.
func (p *Processor) Handle(ctx context.Context, event *cloudevents.Event) error {
	entity := cloudevents.EntityFromType(event.Type)
	if entity == "" {
		// Out-of-taxonomy events are not retryable; the sentinel makes
		// the consumer reject instead of requeue.
		return fmt.Errorf("event %s has unrecognized type %q: %w", event.ID, event.Type, mq.ErrUnprocessable)
	}

	if event.Data == nil {
		event.Data = map[string]any{}
	}
	if err := p.pipeline.Run(event.Data); err != nil {
		return fmt.Errorf("process event %s: %w", event.ID, err)
	}

	scored := cloudevents.NewScored(event, entity)
	if err := p.publisher.Publish(ctx, cloudevents.ScoredKey(entity), scored); err != nil {
		return fmt.Errorf("publish scored event for %s: %w", event.ID, err)
	}
	metrics.EventsPublished.WithLabelValues(entity).Inc()

	p.log.Debug().
		Str("id", event.ID).
		Str("scored_id", scored.ID).
		Str("entity", entity).
		Msg("event scored")
	return nil
}
