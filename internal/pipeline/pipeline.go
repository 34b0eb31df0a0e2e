// Package pipeline implements the processor stage chain: candidate
// identification, enrichment, PII redaction, scoring, and correlation.
// Stages run in a fixed order and are idempotent: re-running a stage on
// its own output changes nothing beyond stable metadata.
package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/metrics"
)

// Stage transforms the data payload of one discovered event in place.
type Stage interface {
	Name() string
	Process(data map[string]any) error
}

// Pipeline runs the stage chain over event payloads.
type Pipeline struct {
	stages []Stage
	log    zerolog.Logger
}

// New assembles the default stage chain.
func New(redactor *Redactor, store CorrelationStore, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		stages: []Stage{
			&CandidateStage{},
			&EnrichmentStage{},
			redactor,
			&ScoringStage{},
			NewCorrelationStage(store),
		},
		log: log,
	}
}

// NewWithStages builds a pipeline from an explicit stage list.
func NewWithStages(log zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, log: log}
}

// Run applies every stage in order. The first stage error aborts the
// chain; the caller requeues the message.
func (p *Pipeline) Run(data map[string]any) error {
	for _, stage := range p.stages {
		if err := stage.Process(data); err != nil {
			metrics.StageFailures.WithLabelValues(stage.Name()).Inc()
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

// getMap returns data[key] as a map, creating it when absent.
func getMap(data map[string]any, key string) map[string]any {
	if m, ok := data[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	data[key] = m
	return m
}

// asInt coerces JSON numbers (float64 after decoding) and ints.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// asFloat coerces JSON numbers to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asStrings flattens a JSON array into its string elements. Dependency
// lists may hold either strings or {"name": ...} objects.
func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			if name := asString(t["name"]); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
