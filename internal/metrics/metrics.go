// Package metrics registers the Prometheus collectors shared by the
// discovery services. Every daemon serves them on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts CloudEvents published, by entity.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_events_published_total",
		Help: "CloudEvents published to the mesh.",
	}, []string{"entity"})

	// EventsConsumed counts CloudEvents consumed, by queue and outcome
	// (processed, requeued, rejected).
	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_events_consumed_total",
		Help: "CloudEvents consumed from the mesh.",
	}, []string{"queue", "outcome"})

	// StageFailures counts processor stage errors.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_stage_failures_total",
		Help: "Processor stage failures.",
	}, []string{"stage"})

	// ScansStarted counts autonomous scans, by collector.
	ScansStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_scans_started_total",
		Help: "Autonomous scans started.",
	}, []string{"collector"})

	// ScansCompleted counts finished scans, by collector and status.
	ScansCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_scans_completed_total",
		Help: "Autonomous scans finished.",
	}, []string{"collector", "status"})

	// BatchesSent counts transmitter batches by final status.
	BatchesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transmitter_batches_total",
		Help: "Transmitter batches by final status.",
	}, []string{"status"})

	// QueueDepth tracks the transmitter FIFO depth.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transmitter_queue_depth",
		Help: "Items waiting in the transmitter queue.",
	})
)
