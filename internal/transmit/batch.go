package transmit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
	"github.com/aiforce/discovery-mesh/internal/graph"
	"github.com/aiforce/discovery-mesh/internal/metrics"
)

// Encoding selects the batch payload shape.
type Encoding string

const (
	// EncodingRaw wraps items unchanged.
	EncodingRaw Encoding = "raw"
	// EncodingGraph maps items to graph nodes, relationships and claims.
	EncodingGraph Encoding = "graph"
)

const (
	defaultBatchSize = 100
	defaultInterval  = 60 * time.Second
	defaultWarnBytes = 1 << 20  // 1 MiB compressed
	defaultMaxBytes  = 10 << 20 // 10 MiB compressed
)

type ProcessorConfig struct {
	BatchSize int
	Interval  time.Duration
	Encoding  Encoding
	WarnBytes int
	MaxBytes  int
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize: defaultBatchSize,
		Interval:  defaultInterval,
		Encoding:  EncodingRaw,
		WarnBytes: defaultWarnBytes,
		MaxBytes:  defaultMaxBytes,
	}
}

// Processor drains the FIFO into ledger-tracked batches.
type Processor struct {
	cfg    ProcessorConfig
	queue  *Queue
	client *Client
	ledger Ledger
	mapper *graph.Mapper
	claims *graph.ClaimBuilder
	log    zerolog.Logger

	batchesSent   atomic.Int64
	batchesFailed atomic.Int64
}

func NewProcessor(cfg ProcessorConfig, client *Client, ledger Ledger, log zerolog.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingRaw
	}
	if cfg.WarnBytes <= 0 {
		cfg.WarnBytes = defaultWarnBytes
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Processor{
		cfg:    cfg,
		queue:  NewQueue(),
		client: client,
		ledger: ledger,
		mapper: graph.NewMapper(),
		claims: graph.NewClaimBuilder(),
		log:    log,
	}
}

// Handle is the queue consumer callback: parsed approved events land in
// the FIFO and are shipped by the batch loop.
func (p *Processor) Handle(ctx context.Context, ev *cloudevents.Event) error {
	p.Add(ev.Data)
	return nil
}

func (p *Processor) Add(item map[string]any) {
	p.queue.Push(item)
	metrics.QueueDepth.Set(float64(p.queue.Len()))
}

func (p *Processor) PendingCount() int { return p.queue.Len() }

func (p *Processor) BatchesSent() int64 { return p.batchesSent.Load() }

func (p *Processor) BatchesFailed() int64 { return p.batchesFailed.Load() }

// Stats feeds GET /api/v1/stats.
func (p *Processor) Stats() map[string]any {
	return map[string]any{
		"pending_items":  p.queue.Len(),
		"batches_sent":   p.batchesSent.Load(),
		"batches_failed": p.batchesFailed.Load(),
	}
}

// Run flushes full batches immediately and partial batches on the
// interval tick, then drains what remains on shutdown.
func (p *Processor) Run(ctx context.Context) {
	p.log.Info().
		Int("batch_size", p.cfg.BatchSize).
		Dur("interval", p.cfg.Interval).
		Str("encoding", string(p.cfg.Encoding)).
		Msg("Batch processor started")

	for {
		if p.queue.Len() >= p.cfg.BatchSize {
			if err := p.Flush(ctx); err != nil {
				p.log.Error().Err(err).Msg("Batch flush failed")
			}
			continue
		}

		select {
		case <-ctx.Done():
			p.drain()
			p.log.Info().Msg("Batch processor stopped")
			return
		case <-time.After(p.cfg.Interval):
			if p.queue.Len() > 0 {
				if err := p.Flush(ctx); err != nil {
					p.log.Error().Err(err).Msg("Batch flush failed")
				}
			}
		}
	}
}

// drain sends whatever is queued at shutdown, stopping on first failure
// so failed items stay re-queued for the next run.
func (p *Processor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for p.queue.Len() > 0 {
		if err := p.Flush(ctx); err != nil {
			p.log.Error().Err(err).Msg("Final batch flush failed")
			return
		}
	}
}

// Flush processes one batch end to end.
func (p *Processor) Flush(ctx context.Context) error {
	items := p.queue.PopN(p.cfg.BatchSize)
	defer metrics.QueueDepth.Set(float64(p.queue.Len()))
	if len(items) == 0 {
		return nil
	}

	payload := p.encode(items)
	compressed, err := gzipJSON(payload)
	if err != nil {
		p.queue.PushFront(items)
		return err
	}

	if len(compressed) > p.cfg.MaxBytes {
		p.rejectOversize(ctx, items, len(compressed))
		return fmt.Errorf("batch rejected: %d compressed bytes exceeds %d byte limit", len(compressed), p.cfg.MaxBytes)
	}
	if len(compressed) > p.cfg.WarnBytes {
		p.log.Warn().Int("compressed_bytes", len(compressed)).Msg("Large batch")
	}

	batchID, err := p.ledger.CreateBatch(ctx, len(items), len(compressed), p.client.DestinationURL())
	if err != nil {
		p.queue.PushFront(items)
		return fmt.Errorf("create batch record: %w", err)
	}
	p.log.Info().
		Str("batch_id", batchID).
		Int("items", len(items)).
		Int("compressed_bytes", len(compressed)).
		Msg("Processing batch")

	if err := p.ledger.MarkSending(ctx, batchID); err != nil {
		p.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark batch sending")
	}

	status, respBody, err := p.client.Send(ctx, compressed)
	switch {
	case err != nil:
		// Transient failure after retries, or breaker open. Items go
		// back to the head for the next attempt.
		p.failBatch(ctx, batchID, status, err.Error(), p.client.RetryMaxAttempts())
		p.queue.PushFront(items)
		return err
	case status >= 400:
		// Client error: the server will never accept these items, so
		// they are dropped.
		p.failBatch(ctx, batchID, status, respBody, 0)
		p.log.Error().Str("batch_id", batchID).Int("status", status).Msg("Batch rejected by destination")
		return nil
	default:
		if err := p.ledger.MarkSuccess(ctx, batchID, status); err != nil {
			p.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark batch success")
		}
		p.batchesSent.Add(1)
		metrics.BatchesSent.WithLabelValues("success").Inc()
		p.log.Info().Str("batch_id", batchID).Msg("Batch sent")
		return nil
	}
}

// rejectOversize records a failed ledger row and restores the items, no
// POST is attempted.
func (p *Processor) rejectOversize(ctx context.Context, items []map[string]any, compressedSize int) {
	message := fmt.Sprintf("Batch rejected: %d compressed bytes exceeds %d byte limit", compressedSize, p.cfg.MaxBytes)
	batchID, err := p.ledger.CreateBatch(ctx, len(items), compressedSize, p.client.DestinationURL())
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to record oversize batch")
	} else if err := p.ledger.MarkFailure(ctx, batchID, 0, message, 0); err != nil {
		p.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark oversize batch")
	}
	p.queue.PushFront(items)
	p.batchesFailed.Add(1)
	metrics.BatchesSent.WithLabelValues("failed").Inc()
	p.log.Error().Int("compressed_bytes", compressedSize).Msg(message)
}

func (p *Processor) failBatch(ctx context.Context, batchID string, status int, message string, retryCount int) {
	if err := p.ledger.MarkFailure(ctx, batchID, status, message, retryCount); err != nil {
		p.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark batch failure")
	}
	p.batchesFailed.Add(1)
	metrics.BatchesSent.WithLabelValues("failed").Inc()
}

func (p *Processor) encode(items []map[string]any) map[string]any {
	if p.cfg.Encoding == EncodingGraph {
		doc := p.mapper.MapBatch(items)
		claims := make([]any, 0)
		for _, item := range items {
			for _, c := range p.claims.Build(item) {
				claims = append(claims, c)
			}
		}
		doc["claims"] = claims
		doc["metadata"].(map[string]any)["claim_count"] = len(claims)
		return doc
	}
	// The destination contract keys the item array as "discoveries".
	return map[string]any{
		"format":      "raw",
		"version":     "1.0.0",
		"discoveries": items,
		"metadata":    map[string]any{"item_count": len(items)},
	}
}

func gzipJSON(payload map[string]any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
