package transmit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerStats summarises batch outcomes for the stats endpoint.
type LedgerStats struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Ledger records the lifecycle of every batch. Status moves
// pending -> sending -> success or failed and never backwards.
type Ledger interface {
	CreateBatch(ctx context.Context, itemCount, payloadSize int, destinationURL string) (string, error)
	MarkSending(ctx context.Context, batchID string) error
	MarkSuccess(ctx context.Context, batchID string, httpStatus int) error
	MarkFailure(ctx context.Context, batchID string, httpStatus int, errMessage string, retryCount int) error
	Stats(ctx context.Context) (LedgerStats, error)
}

// PGLedger backs the ledger with PostgreSQL.
type PGLedger struct {
	pool *pgxpool.Pool
}

func ConnectLedger(ctx context.Context, databaseURL string) (*PGLedger, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGLedger{pool: pool}, nil
}

func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

func (l *PGLedger) Close() {
	l.pool.Close()
}

func (l *PGLedger) Healthy(ctx context.Context) bool {
	return l.pool.Ping(ctx) == nil
}

// Migrate creates the ledger schema. Statements are idempotent so every
// daemon start can run them.
func (l *PGLedger) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS transmitter`,
		`CREATE TABLE IF NOT EXISTS transmitter.batches (
			id UUID PRIMARY KEY,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			item_count INTEGER NOT NULL,
			payload_size INTEGER NOT NULL,
			destination_url TEXT NOT NULL,
			http_status INTEGER,
			error_message TEXT,
			retry_count INTEGER DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			sent_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_status ON transmitter.batches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_created_at ON transmitter.batches(created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (l *PGLedger) CreateBatch(ctx context.Context, itemCount, payloadSize int, destinationURL string) (string, error) {
	batchID := uuid.NewString()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO transmitter.batches (id, item_count, payload_size, destination_url, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		batchID, itemCount, payloadSize, destinationURL, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return batchID, nil
}

func (l *PGLedger) MarkSending(ctx context.Context, batchID string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE transmitter.batches SET status = 'sending', sent_at = $2 WHERE id = $1`,
		batchID, time.Now().UTC())
	return err
}

func (l *PGLedger) MarkSuccess(ctx context.Context, batchID string, httpStatus int) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE transmitter.batches
		 SET status = 'success', http_status = $2, completed_at = $3
		 WHERE id = $1`,
		batchID, httpStatus, time.Now().UTC())
	return err
}

func (l *PGLedger) MarkFailure(ctx context.Context, batchID string, httpStatus int, errMessage string, retryCount int) error {
	var status any
	if httpStatus > 0 {
		status = httpStatus
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE transmitter.batches
		 SET status = 'failed', http_status = $2, error_message = $3, retry_count = $4, completed_at = $5
		 WHERE id = $1`,
		batchID, status, errMessage, retryCount, time.Now().UTC())
	return err
}

func (l *PGLedger) Stats(ctx context.Context) (LedgerStats, error) {
	var stats LedgerStats
	err := l.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sending'),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed')
		 FROM transmitter.batches`,
	).Scan(&stats.Pending, &stats.Sending, &stats.Success, &stats.Failed)
	return stats, err
}
