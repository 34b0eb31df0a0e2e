// Package scan implements the autonomous scan lifecycle shared by all
// collectors: enumerate targets, analyze each, publish discovered
// events, report progress, and deliver exactly one completion callback.
package scan

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/callback"
	"github.com/aiforce/discovery-mesh/internal/cloudevents"
	"github.com/aiforce/discovery-mesh/internal/metrics"
)

// Record is one discovered item produced by analyzing a target.
type Record struct {
	Entity string
	Data   map[string]any
}

// Analyzer is the collector-specific part of a scan: target enumeration
// and per-target analysis.
type Analyzer interface {
	// Collector is the short name used in callbacks, e.g. "code-analyzer".
	Collector() string
	// Source is the CloudEvent source path, e.g. /collectors/code-analyzer.
	Source() string
	// TargetNoun names targets in human-readable summaries ("repos",
	// "hosts", "targets").
	TargetNoun() string
	// Enumerate lists the targets for this scan, already capped by the
	// collector's limits.
	Enumerate(ctx context.Context, req Request) ([]string, error)
	// Analyze inspects one target. Errors fail only that target.
	Analyze(ctx context.Context, target string) ([]Record, error)
}

// Publisher is the slice of the mq publisher the engine needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event *cloudevents.Event) error
}

// Request describes one autonomous scan.
type Request struct {
	ScanID        string   `json:"scan_id"`
	ScanPaths     []string `json:"scan_paths,omitempty"`
	Targets       []string `json:"targets,omitempty"`
	MaxTargets    int      `json:"max_targets,omitempty"`
	MaxDepth      int      `json:"max_depth,omitempty"`
	ProgressURL   string   `json:"progress_url,omitempty"`
	CompletionURL string   `json:"completion_url,omitempty"`
	APIKey        string   `json:"-"`
}

// Summary is returned to the HTTP caller once a scan finishes.
type Summary struct {
	ScanID         string `json:"scan_id"`
	Status         string `json:"status"`
	TargetsTotal   int    `json:"targets_total"`
	TargetsFailed  int    `json:"targets_failed"`
	DiscoveryCount int64  `json:"discovery_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// ErrScanInProgress is returned when a scan is already running on this
// engine.
var ErrScanInProgress = fmt.Errorf("a scan is already running")

// Engine drives scans for one collector. Targets within a scan are
// analyzed sequentially; concurrent scans on the same engine are
// rejected.
type Engine struct {
	analyzer  Analyzer
	publisher Publisher
	running   atomic.Bool
	log       zerolog.Logger
}

// NewEngine builds a scan engine around a collector analyzer.
func NewEngine(analyzer Analyzer, publisher Publisher, log zerolog.Logger) *Engine {
	return &Engine{
		analyzer:  analyzer,
		publisher: publisher,
		log:       log.With().Str("collector", analyzer.Collector()).Logger(),
	}
}

// Running reports whether a scan is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run executes one scan to completion. Exactly one completion callback
// is delivered, whatever happens after enumeration. A single target
// failure never aborts the scan.
func (e *Engine) Run(ctx context.Context, req Request) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrScanInProgress
	}
	defer e.running.Store(false)

	// Autonomous scans arrive without an ID; a ULID keeps them sortable
	// by start time.
	if req.ScanID == "" {
		req.ScanID = ulid.Make().String()
	}

	metrics.ScansStarted.WithLabelValues(e.analyzer.Collector()).Inc()
	reporter := callback.New(req.ScanID, e.analyzer.Collector(), req.ProgressURL, req.CompletionURL, req.APIKey, e.log)

	targets, err := e.analyzer.Enumerate(ctx, req)
	if err != nil {
		summary := Summary{ScanID: req.ScanID, Status: callback.StatusFailed, ErrorMessage: err.Error()}
		reporter.ReportComplete(ctx, summary.Status, summary.ErrorMessage)
		metrics.ScansCompleted.WithLabelValues(e.analyzer.Collector(), summary.Status).Inc()
		return summary, fmt.Errorf("enumerate targets: %w", err)
	}

	total := len(targets)
	e.log.Info().Str("scan_id", req.ScanID).Int("targets", total).Msg("scan starting")
	reporter.ReportProgress(ctx, "initializing", 0, fmt.Sprintf("Enumerated %d %s", total, e.analyzer.TargetNoun()))

	failed := 0
	for i, target := range targets {
		progress := float64(i+1) * 100 / float64(max(total, 1))
		reporter.ReportProgress(ctx, "scanning", progress, fmt.Sprintf("Analyzing %s", target))

		records, err := e.analyzer.Analyze(ctx, target)
		if err != nil {
			failed++
			e.log.Warn().Err(err).Str("target", target).Msg("target analysis failed")
			continue
		}
		if err := e.publishRecords(ctx, req.ScanID, records, reporter); err != nil {
			failed++
			e.log.Warn().Err(err).Str("target", target).Msg("target publish failed")
		}
	}

	status, errorMessage := e.outcome(total, failed)
	reporter.ReportComplete(ctx, status, errorMessage)
	metrics.ScansCompleted.WithLabelValues(e.analyzer.Collector(), status).Inc()

	summary := Summary{
		ScanID:         req.ScanID,
		Status:         status,
		TargetsTotal:   total,
		TargetsFailed:  failed,
		DiscoveryCount: reporter.DiscoveryCount(),
		ErrorMessage:   errorMessage,
	}
	e.log.Info().
		Str("scan_id", req.ScanID).
		Str("status", status).
		Int("failed", failed).
		Int64("discoveries", summary.DiscoveryCount).
		Msg("scan finished")
	return summary, nil
}

func (e *Engine) publishRecords(ctx context.Context, scanID string, records []Record, reporter *callback.Reporter) error {
	for _, rec := range records {
		event := cloudevents.NewDiscovered(e.analyzer.Source(), rec.Entity, scanID, rec.Data)
		if err := e.publisher.Publish(ctx, cloudevents.DiscoveredKey(rec.Entity), event); err != nil {
			return err
		}
		metrics.EventsPublished.WithLabelValues(rec.Entity).Inc()
		reporter.IncrementDiscoveryCount(1)
	}
	return nil
}

func (e *Engine) outcome(total, failed int) (status, errorMessage string) {
	switch {
	case total == 0 || failed == 0:
		return callback.StatusCompleted, ""
	case failed < total:
		return callback.StatusPartial, fmt.Sprintf("%d/%d %s failed analysis", failed, total, e.analyzer.TargetNoun())
	default:
		return callback.StatusFailed, fmt.Sprintf("%d/%d %s failed analysis", failed, total, e.analyzer.TargetNoun())
	}
}
