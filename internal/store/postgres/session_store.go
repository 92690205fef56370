// Package postgres provides a Postgres-backed SessionRepository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/progress-coordinator/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "progress_sessions"

// Config controls the connection pool backing the session table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of *pgxpool.Pool the store needs. pgxmock pools satisfy
// it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SessionStore implements store.SessionRepository on one Postgres table.
type SessionStore struct {
	pool  Pool
	table string
}

// NewSessionStore opens a pool from cfg.
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SessionStore{pool: pool, table: table}, nil
}

// NewSessionStoreWithPool builds a store over an existing pool.
func NewSessionStoreWithPool(pool Pool, table string) (*SessionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SessionStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *SessionStore) Close() {
	s.pool.Close()
}

// Migrate creates the session table when it does not exist.
func (s *SessionStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id               UUID PRIMARY KEY,
			source           TEXT NOT NULL,
			started_at       TIMESTAMPTZ NOT NULL,
			finished_at      TIMESTAMPTZ,
			requests         BIGINT NOT NULL DEFAULT 0,
			peak_concurrency INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS %[1]s_started_at_idx ON %[1]s (started_at DESC);
	`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// StartSession implements store.SessionRepository.
func (s *SessionStore) StartSession(ctx context.Context, id uuid.UUID, source string, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, source, started_at, requests, peak_concurrency)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (id) DO NOTHING;
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, source, startedAt); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// RecordRequests implements store.SessionRepository.
func (s *SessionStore) RecordRequests(ctx context.Context, id uuid.UUID, deltaRequests int64, peak int) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET requests = requests + $1, peak_concurrency = GREATEST(peak_concurrency, $2)
		WHERE id = $3;
	`, s.table)
	res, err := s.pool.Exec(ctx, query, deltaRequests, peak, id)
	if err != nil {
		return fmt.Errorf("record session requests: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteSession implements store.SessionRepository.
func (s *SessionStore) CompleteSession(ctx context.Context, id uuid.UUID, finishedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET finished_at = $1 WHERE id = $2;`, s.table)
	res, err := s.pool.Exec(ctx, query, finishedAt, id)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetSession implements store.SessionRepository.
func (s *SessionStore) GetSession(ctx context.Context, id uuid.UUID) (store.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, source, started_at, finished_at, requests, peak_concurrency
		FROM %s
		WHERE id = $1;
	`, s.table)
	var sess store.Session
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID,
		&sess.Source,
		&sess.StartedAt,
		&sess.FinishedAt,
		&sess.Requests,
		&sess.PeakConcurrency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrNotFound
		}
		return store.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions implements store.SessionRepository. A limit of zero or less
// returns every matching row.
func (s *SessionStore) ListSessions(ctx context.Context, source *string, limit, offset int) ([]store.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, source, started_at, finished_at, requests, peak_concurrency
		FROM %s
		WHERE ($1::text IS NULL OR source = $1)
		ORDER BY started_at DESC, id DESC
		LIMIT NULLIF($2, 0) OFFSET $3;
	`, s.table)
	rows, err := s.pool.Query(ctx, query, source, max(0, limit), max(0, offset))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []store.Session{}
	for rows.Next() {
		var sess store.Session
		if err := rows.Scan(
			&sess.ID,
			&sess.Source,
			&sess.StartedAt,
			&sess.FinishedAt,
			&sess.Requests,
			&sess.PeakConcurrency,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}
