package dbinspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Column is one column of an inspected table.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	Default    string `json:"default,omitempty"`
}

// Index is one index on an inspected table.
type Index struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// Table is one inspected table with its columns and indexes.
type Table struct {
	Name             string   `json:"name"`
	Schema           string   `json:"schema"`
	Columns          []Column `json:"columns"`
	Indexes          []Index  `json:"indexes"`
	RowCountEstimate int64    `json:"row_count_estimate"`
}

// QualifiedName is schema.table.
func (t Table) QualifiedName() string { return t.Schema + "." + t.Name }

// Relationship is one foreign-key constraint.
type Relationship struct {
	Name         string `json:"name"`
	SourceTable  string `json:"source_table"`
	SourceColumn string `json:"source_column"`
	TargetTable  string `json:"target_table"`
	TargetColumn string `json:"target_column"`
}

// Connector extracts schema facts from one database engine.
type Connector interface {
	Connect(ctx context.Context) error
	Close()
	Tables(ctx context.Context) ([]Table, error)
	Relationships(ctx context.Context) ([]Relationship, error)
	// SampleColumn reads up to limit non-null values from a text
	// column, or nil when the column's type is not sampleable.
	SampleColumn(ctx context.Context, table Table, column Column, limit int) ([]string, error)
}

// Target identifies one database to inspect. The password never prints.
type Target struct {
	DBType   string `json:"db_type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password Secret `json:"password"`
	Database string `json:"database"`
}

func (t Target) Validate() error {
	if t.DBType == "" {
		return fmt.Errorf("db_type is required")
	}
	if t.Host == "" {
		return fmt.Errorf("host is required")
	}
	if t.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// ErrUnsupportedType marks a db_type with no connector; HTTP handlers
// map it to a 400.
type ErrUnsupportedType struct {
	DBType string
}

func (e ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported database type: %s", e.DBType)
}

// NewConnector builds the connector for the target's engine.
func NewConnector(target Target, log zerolog.Logger) (Connector, error) {
	switch strings.ToLower(target.DBType) {
	case "postgres", "postgresql":
		return NewPostgresConnector(target, log), nil
	case "mysql":
		return NewMySQLConnector(target, log), nil
	default:
		return nil, ErrUnsupportedType{DBType: target.DBType}
	}
}

// Inspection is everything extracted from one database.
type Inspection struct {
	Database      string         `json:"database"`
	DBType        string         `json:"db_type"`
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
	PIIFindings   []PIIFinding   `json:"pii_findings"`
}

// Inspector runs full inspections against targets.
type Inspector struct {
	sampleSize  int
	piiSampling bool
	newConn     func(Target, zerolog.Logger) (Connector, error)
	log         zerolog.Logger
}

func NewInspector(sampleSize int, piiSampling bool, log zerolog.Logger) *Inspector {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	return &Inspector{
		sampleSize:  sampleSize,
		piiSampling: piiSampling,
		newConn:     NewConnector,
		log:         log,
	}
}

// Inspect connects to the target, extracts tables, relationships, and
// PII findings, and always closes the connection.
func (i *Inspector) Inspect(ctx context.Context, target Target) (Inspection, error) {
	if err := target.Validate(); err != nil {
		return Inspection{}, err
	}
	conn, err := i.newConn(target, i.log)
	if err != nil {
		return Inspection{}, err
	}
	if err := conn.Connect(ctx); err != nil {
		return Inspection{}, fmt.Errorf("connect to %s at %s:%d: %w", target.DBType, target.Host, target.Port, err)
	}
	defer conn.Close()

	tables, err := conn.Tables(ctx)
	if err != nil {
		return Inspection{}, fmt.Errorf("extract tables: %w", err)
	}
	relationships, err := conn.Relationships(ctx)
	if err != nil {
		return Inspection{}, fmt.Errorf("extract relationships: %w", err)
	}

	return Inspection{
		Database:      target.Database,
		DBType:        target.DBType,
		Tables:        tables,
		Relationships: relationships,
		PIIFindings:   i.detectPII(ctx, conn, tables),
	}, nil
}

// detectPII runs column-name detection on every column and, when
// sampling is enabled, data-pattern detection on text columns. A
// data-pattern finding is dropped when column-name detection already
// reported the same type for that column.
func (i *Inspector) detectPII(ctx context.Context, conn Connector, tables []Table) []PIIFinding {
	var findings []PIIFinding
	seen := map[string]bool{}

	record := func(table Table, column Column, tc TypeConfidence, method string) {
		key := table.QualifiedName() + "\x00" + column.Name + "\x00" + tc.PIIType
		if seen[key] {
			return
		}
		seen[key] = true
		findings = append(findings, PIIFinding{
			Table:           table.QualifiedName(),
			Column:          column.Name,
			PIIType:         tc.PIIType,
			Confidence:      tc.Confidence,
			DetectionMethod: method,
		})
	}

	for _, table := range tables {
		for _, column := range table.Columns {
			for _, tc := range DetectByColumnName(column.Name) {
				record(table, column, tc, "column_name")
			}
			if !i.piiSampling {
				continue
			}
			values, err := conn.SampleColumn(ctx, table, column, i.sampleSize)
			if err != nil {
				i.log.Warn().Err(err).
					Str("table", table.QualifiedName()).
					Str("column", column.Name).
					Msg("Failed to sample column")
				continue
			}
			for _, tc := range DetectByData(values) {
				record(table, column, tc, "data_pattern")
			}
		}
	}
	return findings
}
