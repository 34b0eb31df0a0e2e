package dbinspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

var mysqlSampleTypes = map[string]bool{
	"varchar":    true,
	"text":       true,
	"char":       true,
	"tinytext":   true,
	"mediumtext": true,
	"longtext":   true,
}

// MySQLConnector extracts schema facts via database/sql.
type MySQLConnector struct {
	target Target
	db     *sql.DB
	log    zerolog.Logger
}

func NewMySQLConnector(target Target, log zerolog.Logger) *MySQLConnector {
	return &MySQLConnector{target: target, log: log}
}

func (c *MySQLConnector) Connect(ctx context.Context) error {
	c.log.Info().Str("host", c.target.Host).Int("port", c.target.Port).
		Str("database", c.target.Database).Msg("Connecting to MySQL")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		c.target.User, c.target.Password.ExposeSecret(), c.target.Host, c.target.Port, c.target.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(5)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	c.db = db
	return nil
}

func (c *MySQLConnector) Close() {
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

func (c *MySQLConnector) Tables(ctx context.Context) ([]Table, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME, COALESCE(TABLE_ROWS, 0)
		FROM information_schema.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME`, c.target.Database)
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

func (c *MySQLConnector) columns(ctx context.Context, table Table) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE = 'YES',
			COALESCE(COLUMN_DEFAULT, ''),
			COLUMN_KEY = 'PRI'
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, table.Schema, table.Name)
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

func (c *MySQLConnector) indexes(ctx context.Context, table Table) ([]Index, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			INDEX_NAME,
			INDEX_TYPE,
			NOT NON_UNIQUE,
			GROUP_CONCAT(COLUMN_NAME ORDER BY SEQ_IN_INDEX)
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		GROUP BY INDEX_NAME, INDEX_TYPE, NON_UNIQUE`, table.Schema, table.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var idx Index
		var columns sql.NullString
		if err := rows.Scan(&idx.Name, &idx.Type, &idx.Unique, &columns); err != nil {
			return nil, err
		}
		if columns.Valid && columns.String != "" {
			idx.Columns = strings.Split(columns.String, ",")
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (c *MySQLConnector) Relationships(ctx context.Context) ([]Relationship, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT
			CONSTRAINT_NAME,
			CONCAT(TABLE_SCHEMA, '.', TABLE_NAME),
			COLUMN_NAME,
			CONCAT(REFERENCED_TABLE_SCHEMA, '.', REFERENCED_TABLE_NAME),
			REFERENCED_COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE REFERENCED_TABLE_NAME IS NOT NULL AND TABLE_SCHEMA = ?`, c.target.Database)
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

func (c *MySQLConnector) SampleColumn(ctx context.Context, table Table, column Column, limit int) ([]string, error) {
	if !mysqlSampleTypes[column.DataType] {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT `%s` FROM `%s`.`%s` WHERE `%s` IS NOT NULL LIMIT %d",
		column.Name, table.Schema, table.Name, column.Name, limit)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		if value.Valid && value.String != "" {
			values = append(values, value.String)
		}
	}
	return values, rows.Err()
}
