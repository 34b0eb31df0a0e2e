package dbinspect

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// postgresSampleTypes are the column types worth sampling for PII.
var postgresSampleTypes = map[string]bool{
	"character varying": true,
	"varchar":           true,
	"text":              true,
	"char":              true,
	"character":         true,
}

// PostgresConnector extracts schema facts via pgx.
type PostgresConnector struct {
	target Target
	pool   *pgxpool.Pool
	log    zerolog.Logger
}

func NewPostgresConnector(target Target, log zerolog.Logger) *PostgresConnector {
	return &PostgresConnector{target: target, log: log}
}

func (c *PostgresConnector) Connect(ctx context.Context) error {
	c.log.Info().Str("host", c.target.Host).Int("port", c.target.Port).
		Str("database", c.target.Database).Msg("Connecting to PostgreSQL")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.target.User, c.target.Password.ExposeSecret(), c.target.Host, c.target.Port, c.target.Database)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return err
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return err
	}
	c.pool = pool
	return nil
}

func (c *PostgresConnector) Close() {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

func (c *PostgresConnector) Tables(ctx context.Context) ([]Table, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT
			t.table_schema,
			t.table_name,
			COALESCE(pg_stat_get_tuples_ins(c.oid) - pg_stat_get_tuples_del(c.oid), 0) AS row_estimate
		FROM information_schema.tables t
		JOIN pg_class c ON c.relname = t.table_name
		JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = t.table_schema
		WHERE t.table_type = 'BASE TABLE'
		AND t.table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY t.table_schema, t.table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var table Table
		if err := rows.Scan(&table.Schema, &table.Name, &table.RowCountEstimate); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		if tables[i].Columns, err = c.columns(ctx, tables[i]); err != nil {
			return nil, err
		}
		if tables[i].Indexes, err = c.indexes(ctx, tables[i]); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

func (c *PostgresConnector) columns(ctx context.Context, table Table) ([]Column, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS nullable,
			COALESCE(c.column_default, '') AS column_default,
			COALESCE(
				(SELECT true FROM information_schema.table_constraints tc
				 JOIN information_schema.constraint_column_usage ccu
					ON tc.constraint_name = ccu.constraint_name
				 WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND ccu.column_name = c.column_name
				 LIMIT 1),
				false
			) AS primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, table.Schema, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Default, &col.PrimaryKey); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (c *PostgresConnector) indexes(ctx context.Context, table Table) ([]Index, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT
			i.relname AS index_name,
			am.amname AS index_type,
			ix.indisunique AS is_unique,
			array_agg(a.attname ORDER BY array_position(ix.indkey, a.attnum)) AS columns
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1 AND t.relname = $2
		GROUP BY i.relname, am.amname, ix.indisunique`, table.Schema, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Name, &idx.Type, &idx.Unique, &idx.Columns); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (c *PostgresConnector) Relationships(ctx context.Context) ([]Relationship, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT
			tc.constraint_name,
			tc.table_schema || '.' || tc.table_name AS source_table,
			kcu.column_name AS source_column,
			ccu.table_schema || '.' || ccu.table_name AS target_table,
			ccu.column_name AS target_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema NOT IN ('pg_catalog', 'information_schema')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relationships []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.Name, &rel.SourceTable, &rel.SourceColumn, &rel.TargetTable, &rel.TargetColumn); err != nil {
			return nil, err
		}
		relationships = append(relationships, rel)
	}
	return relationships, rows.Err()
}

func (c *PostgresConnector) SampleColumn(ctx context.Context, table Table, column Column, limit int) ([]string, error) {
	if !postgresSampleTypes[column.DataType] {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %q FROM %q.%q WHERE %q IS NOT NULL LIMIT %d`,
		column.Name, table.Schema, table.Name, column.Name, limit)
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		if value != "" {
			values = append(values, value)
		}
	}
	return values, rows.Err()
}
