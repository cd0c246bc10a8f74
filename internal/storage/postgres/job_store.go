// Package postgres provides a Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore keeps job records in a single table keyed by id.
type JobStore struct {
	pool   pool
	table  string
	clock  capture.Clock
	logger *zap.Logger
}

var _ capture.JobStore = (*JobStore)(nil)

// NewJobStore connects to Postgres and ensures the table exists.
func NewJobStore(ctx context.Context, cfg Config, clock capture.Clock, logger *zap.Logger) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("jobs.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(p, cfg.Table, clock, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string, clock capture.Clock, logger *zap.Logger) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if table == "" {
		table = "capture_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{pool: p, table: table, clock: clock, logger: logger}, nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// Migrate creates the jobs table when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		info JSONB NOT NULL DEFAULT '{}'::jsonb
	)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Save upserts the full record for id.
func (s *JobStore) Save(ctx context.Context, id string, state capture.JobState, info map[string]string) (capture.JobRecord, error) {
	rec := capture.JobRecord{ID: id, State: state, UpdatedAt: s.clock.Now(), Info: info}.Clone()
	if rec.Info == nil {
		rec.Info = map[string]string{}
	}
	payload, err := json.Marshal(rec.Info)
	if err != nil {
		return capture.JobRecord{}, fmt.Errorf("%w: encode info: %v", capture.ErrStore, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, state, updated_at, info)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at, info = EXCLUDED.info`, s.table)
	if _, err := s.pool.Exec(ctx, query, rec.ID, string(rec.State), rec.UpdatedAt, payload); err != nil {
		return capture.JobRecord{}, fmt.Errorf("%w: upsert job %s: %v", capture.ErrStore, id, err)
	}
	return rec, nil
}

// Read returns the record or a sentinel; it never fails.
func (s *JobStore) Read(ctx context.Context, id string) capture.JobRecord {
	query := fmt.Sprintf(`SELECT id, state, updated_at, info FROM %s WHERE id = $1`, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return capture.UnknownRecord(id, s.clock.Now())
	case err != nil:
		s.logger.Warn("read job record failed", zap.String("job_id", id), zap.Error(err))
		return capture.ErrorRecord(id, s.clock.Now(), err)
	}
	return rec
}

// List returns every record, most recently updated first.
func (s *JobStore) List(ctx context.Context) ([]capture.JobRecord, error) {
	query := fmt.Sprintf(`SELECT id, state, updated_at, info FROM %s ORDER BY updated_at DESC`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", capture.ErrStore, err)
	}
	defer rows.Close()

	var out []capture.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan job: %v", capture.ErrStore, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", capture.ErrStore, err)
	}
	return out, nil
}

// Sweep deletes records not updated within maxAge.
func (s *JobStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE updated_at < $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, s.clock.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("%w: sweep jobs: %v", capture.ErrStore, err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (capture.JobRecord, error) {
	var (
		rec   capture.JobRecord
		state string
		info  []byte
	)
	if err := row.Scan(&rec.ID, &state, &rec.UpdatedAt, &info); err != nil {
		return capture.JobRecord{}, err
	}
	rec.State = capture.JobState(state)
	rec.Info = map[string]string{}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &rec.Info); err != nil {
			return capture.JobRecord{}, fmt.Errorf("decode info: %w", err)
		}
	}
	return rec, nil
}
