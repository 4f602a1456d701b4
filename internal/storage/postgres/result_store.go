// Package postgres persists probe results in Postgres.
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
	"go.uber.org/zap"

	"github.com/JakeFAU/shadowprobe/internal/report"
)

const defaultTable = "probe_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Run identifies the run a report belongs to.
type Run struct {
	ID        uuid.UUID
	Username  string
	StartedAt time.Time
}

// ResultStore writes one row per probe result.
type ResultStore struct {
	pool   txPool
	table  string
	logger *zap.Logger
}

// NewResultStore connects to Postgres using cfg.
func NewResultStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewResultStoreWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewResultStoreWithPool builds a store over an existing pool.
func NewResultStoreWithPool(pool txPool, table string, logger *zap.Logger) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{pool: pool, table: table, logger: logger}, nil
}

// EnsureSchema creates the results table when missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      UUID        NOT NULL,
	position    INTEGER     NOT NULL,
	username    TEXT        NOT NULL,
	site        TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	status      INTEGER,
	found       BOOLEAN     NOT NULL,
	reason      TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, position)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	return nil
}

// SaveReport inserts every result of rep in one transaction.
func (s *ResultStore) SaveReport(ctx context.Context, run Run, rep report.Report) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if run.ID == uuid.Nil {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin results tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback results tx failed", zap.Error(rbErr))
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (run_id, position, username, site, url, status, found, reason, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, s.table)
	runID := run.ID.String()
	for i, res := range rep.Results {
		if _, err = tx.Exec(ctx, query,
			runID, i, run.Username, res.Site, res.URL, res.Status, res.Found, res.Reason, run.StartedAt,
		); err != nil {
			return fmt.Errorf("insert result %s: %w", res.Site, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit results tx: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
