package dbinspect

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
	"github.com/aiforce/discovery-mesh/internal/metrics"
	"github.com/aiforce/discovery-mesh/internal/scan"
)

// Source is the CloudEvent source path for this collector.
const Source = "/collectors/db-inspector"

// BatchRequest is the deep-inspection request: one entry per database,
// each with its own credentials.
type BatchRequest struct {
	ScanID  string   `json:"scan_id,omitempty"`
	Targets []Target `json:"targets"`
}

func (r BatchRequest) Validate() error {
	if len(r.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	for i, target := range r.Targets {
		if err := target.Validate(); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		if _, err := NewConnector(target, zerolog.Nop()); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
	}
	return nil
}

// TargetResult is the outcome for one target in a batch.
type TargetResult struct {
	Host       string      `json:"host"`
	Database   string      `json:"database"`
	DBType     string      `json:"db_type"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
	Inspection *Inspection `json:"inspection,omitempty"`
}

// BatchResult summarizes a batch inspection.
type BatchResult struct {
	Status  string         `json:"status"`
	Results []TargetResult `json:"results"`
}

// Service runs batch inspections and publishes discoveries.
type Service struct {
	inspector *Inspector
	publisher scan.Publisher
	log       zerolog.Logger
}

func NewService(inspector *Inspector, publisher scan.Publisher, log zerolog.Logger) *Service {
	return &Service{inspector: inspector, publisher: publisher, log: log}
}

// InspectBatch inspects every target, publishing database, schema, and
// relationship events per inspection. A failing target never aborts the
// batch.
func (s *Service) InspectBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if err := req.Validate(); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Status: "completed"}
	failed := 0
	for _, target := range req.Targets {
		tr := TargetResult{
			Host:     target.Host,
			Database: target.Database,
			DBType:   target.DBType,
			Status:   "completed",
		}

		inspection, err := s.inspector.Inspect(ctx, target)
		if err != nil {
			failed++
			tr.Status = "failed"
			tr.Error = err.Error()
			s.log.Error().Err(err).Str("host", target.Host).Str("database", target.Database).
				Msg("Target inspection failed")
			result.Results = append(result.Results, tr)
			continue
		}

		if err := s.publish(ctx, req.ScanID, target, inspection); err != nil {
			failed++
			tr.Status = "failed"
			tr.Error = err.Error()
			s.log.Error().Err(err).Str("database", target.Database).Msg("Publish failed")
			result.Results = append(result.Results, tr)
			continue
		}

		tr.Inspection = &inspection
		result.Results = append(result.Results, tr)
	}

	switch {
	case failed == len(req.Targets):
		result.Status = "failed"
	case failed > 0:
		result.Status = "partial"
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, scanID string, target Target, inspection Inspection) error {
	for _, rec := range Records(target, inspection) {
		event := cloudevents.NewDiscovered(Source, rec.Entity, scanID, rec.Data)
		if err := s.publisher.Publish(ctx, cloudevents.DiscoveredKey(rec.Entity), event); err != nil {
			return err
		}
		metrics.EventsPublished.WithLabelValues(rec.Entity).Inc()
	}
	return nil
}

// Records renders one inspection as discovery records: one database
// record, one schema record per table, one relationship record per
// foreign key.
func Records(target Target, inspection Inspection) []scan.Record {
	records := make([]scan.Record, 0, len(inspection.Tables)+len(inspection.Relationships)+1)

	records = append(records, scan.Record{Entity: "database", Data: map[string]any{
		"db_type":  inspection.DBType,
		"host":     target.Host,
		"port":     target.Port,
		"database": inspection.Database,
		"database_names": []any{
			inspection.Database,
		},
		"table_count": len(inspection.Tables),
	}})

	for _, table := range inspection.Tables {
		records = append(records, scan.Record{Entity: "schema", Data: map[string]any{
			"database":           inspection.Database,
			"db_type":            inspection.DBType,
			"table":              tableData(table),
			"pii_findings":       tableFindings(inspection.PIIFindings, table),
			"row_count_estimate": table.RowCountEstimate,
		}})
	}

	for _, rel := range inspection.Relationships {
		records = append(records, scan.Record{Entity: "relationship", Data: map[string]any{
			"database":      inspection.Database,
			"name":          rel.Name,
			"source_table":  rel.SourceTable,
			"source_column": rel.SourceColumn,
			"target_table":  rel.TargetTable,
			"target_column": rel.TargetColumn,
		}})
	}
	return records
}

func tableData(table Table) map[string]any {
	columns := make([]any, len(table.Columns))
	for i, col := range table.Columns {
		entry := map[string]any{
			"name":        col.Name,
			"data_type":   col.DataType,
			"nullable":    col.Nullable,
			"primary_key": col.PrimaryKey,
		}
		if col.Default != "" {
			entry["default"] = col.Default
		}
		columns[i] = entry
	}

	indexes := make([]any, len(table.Indexes))
	for i, idx := range table.Indexes {
		indexes[i] = map[string]any{
			"name":    idx.Name,
			"type":    idx.Type,
			"unique":  idx.Unique,
			"columns": idx.Columns,
		}
	}

	return map[string]any{
		"name":    table.Name,
		"schema":  table.Schema,
		"columns": columns,
		"indexes": indexes,
	}
}

func tableFindings(findings []PIIFinding, table Table) []any {
	var out []any
	for _, finding := range findings {
		if finding.Table != table.QualifiedName() {
			continue
		}
		out = append(out, map[string]any{
			"column":           finding.Column,
			"pii_type":         finding.PIIType,
			"confidence":       finding.Confidence,
			"detection_method": finding.DetectionMethod,
		})
	}
	return out
}
