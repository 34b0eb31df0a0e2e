package dryrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aiforce/discovery-mesh/internal/cloudevents"
)

// Discovery is one finding posted back by the code analyzer during a
// dry-run session.
type Discovery struct {
	SessionID     string         `json:"session_id"`
	Source        string         `json:"source"`
	DiscoveryType string         `json:"discovery_type"`
	Data          map[string]any `json:"data"`
}

func (d Discovery) Validate() error {
	if err := ValidateSessionID(d.SessionID); err != nil {
		return err
	}
	if d.DiscoveryType == "" {
		return fmt.Errorf("discovery_type is required")
	}
	return nil
}

// DiscoveryStore persists session discoveries.
type DiscoveryStore interface {
	SaveDiscovery(ctx context.Context, d Discovery) error
	SessionDiscoveries(ctx context.Context, sessionID string) ([]Discovery, error)
}

// Publisher is the slice of the mq publisher the recorder needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event *cloudevents.Event) error
}

// Recorder accepts dry-run discoveries, persists them, and republishes
// each one onto the discovery exchange so the enrichment pipeline sees
// dry-run findings like any other collector output.
type Recorder struct {
	store DiscoveryStore
	pub   Publisher
	log   zerolog.Logger
}

func NewRecorder(store DiscoveryStore, pub Publisher, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, pub: pub, log: log}
}

// Record stores the discovery, then publishes it with the session ID as
// the event subject. The stored row is the source of truth; a publish
// failure is logged but does not fail the callback.
func (r *Recorder) Record(ctx context.Context, d Discovery) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Source == "" {
		d.Source = "/platform/dryrun-orchestrator"
	}

	if err := r.store.SaveDiscovery(ctx, d); err != nil {
		return fmt.Errorf("save discovery: %w", err)
	}

	event := cloudevents.NewDiscovered(d.Source, d.DiscoveryType, d.SessionID, d.Data)
	if err := r.pub.Publish(ctx, cloudevents.DiscoveredKey(d.DiscoveryType), event); err != nil {
		r.log.Warn().Err(err).
			Str("session_id", d.SessionID).
			Str("discovery_type", d.DiscoveryType).
			Msg("Failed to republish dry-run discovery")
	}
	return nil
}

// SessionResults returns every stored discovery for the session.
func (r *Recorder) SessionResults(ctx context.Context, sessionID string) ([]Discovery, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return r.store.SessionDiscoveries(ctx, sessionID)
}

// PGStore backs the discovery store with PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

func ConnectStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) Healthy(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

// Migrate creates the discovery schema. Statements are idempotent so
// every daemon start can run them.
func (s *PGStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS dryrun`,
		`CREATE TABLE IF NOT EXISTS dryrun.discoveries (
			id UUID PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			source TEXT NOT NULL,
			discovery_type VARCHAR(64) NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_discoveries_session ON dryrun.discoveries(session_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) SaveDiscovery(ctx context.Context, d Discovery) error {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dryrun.discoveries (id, session_id, source, discovery_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), d.SessionID, d.Source, d.DiscoveryType, string(data), time.Now().UTC())
	return err
}

func (s *PGStore) SessionDiscoveries(ctx context.Context, sessionID string) ([]Discovery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, source, discovery_type, data
		 FROM dryrun.discoveries
		 WHERE session_id = $1
		 ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Discovery
	for rows.Next() {
		var d Discovery
		var raw []byte
		if err := rows.Scan(&d.SessionID, &d.Source, &d.DiscoveryType, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &d.Data); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
