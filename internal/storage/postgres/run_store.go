// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "audit_runs"

// RunStoreConfig controls the Postgres connection pool used for audit runs.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RunStore keeps each audit run as one row: indexed columns for listing and
// a JSONB document holding settings, counters and pages.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the runs table and its listing indexes when missing.
func (s *RunStore) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	base_url   TEXT NOT NULL,
	client_id  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	document   JSONB NOT NULL,
	frontier   JSONB
);
CREATE INDEX IF NOT EXISTS %[1]s_client_created_idx ON %[1]s (client_id, created_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status)`, s.table)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// CreateRun inserts a new run. An existing id is a conflict.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.AuditRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	doc, frontier, err := encodeRun(run)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, base_url, client_id, status, created_at, document, frontier)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		run.ID, run.Name, run.BaseURL, run.ClientID, string(run.Status), run.CreatedAt, doc, frontier)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert run %s: %w", run.ID, crawler.ErrConflict)
	}
	return nil
}

// SaveRun replaces the stored state of an existing run.
func (s *RunStore) SaveRun(ctx context.Context, run crawler.AuditRun) error {
	doc, frontier, err := encodeRun(run)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET name = $2, base_url = $3, client_id = $4, status = $5, document = $6, frontier = $7, updated_at = now()
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		run.ID, run.Name, run.BaseURL, run.ClientID, string(run.Status), doc, frontier)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, crawler.ErrNotFound)
	}
	return nil
}

// GetRun loads a run with its pages and frontier snapshot.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.AuditRun, error) {
	query := fmt.Sprintf(`SELECT document, frontier FROM %s WHERE id = $1`, s.table)
	var doc, frontier []byte
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&doc, &frontier); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.AuditRun{}, crawler.ErrNotFound
		}
		return crawler.AuditRun{}, fmt.Errorf("select run %s: %w", runID, err)
	}
	return decodeRun(doc, frontier)
}

// ListRuns filters, sorts and pages runs without their page lists.
func (s *RunStore) ListRuns(ctx context.Context, query crawler.ListQuery) ([]crawler.AuditRun, int, error) {
	query = query.WithDefaults()
	where, args := listFilter(query)

	var total int
	countSQL := fmt.Sprintf(`SELECT count(*) FROM %s%s`, s.table, where)
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	dir := "DESC"
	if query.SortOrder == "asc" {
		dir = "ASC"
	}
	args = append(args, query.Limit, query.Offset())
	listSQL := fmt.Sprintf(`SELECT document - 'crawledPages' FROM %s%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		s.table, where, sortColumn(query.SortBy), dir, dir, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]crawler.AuditRun, 0, query.Limit)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		run, err := decodeRun(doc, nil)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, total, nil
}

// DeleteRun removes a run.
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), runID)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func listFilter(q crawler.ListQuery) (string, []any) {
	var clauses []string
	var args []any
	if q.ClientID != "" {
		args = append(args, q.ClientID)
		clauses = append(clauses, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, "%"+escapeLike(q.Search)+"%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR base_url ILIKE $%d)", len(args), len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func sortColumn(by string) string {
	switch by {
	case crawler.SortByName:
		return "lower(name)"
	case crawler.SortByStatus:
		return "status"
	case crawler.SortByBaseURL:
		return "base_url"
	default:
		return "created_at"
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func encodeRun(run crawler.AuditRun) ([]byte, []byte, error) {
	doc, err := json.Marshal(run)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	if run.Frontier == nil {
		return doc, nil, nil
	}
	frontier, err := json.Marshal(run.Frontier)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal frontier %s: %w", run.ID, err)
	}
	return doc, frontier, nil
}

func decodeRun(doc, frontier []byte) (crawler.AuditRun, error) {
	var run crawler.AuditRun
	if err := json.Unmarshal(doc, &run); err != nil {
		return crawler.AuditRun{}, fmt.Errorf("unmarshal run: %w", err)
	}
	if len(frontier) > 0 {
		var state crawler.FrontierState
		if err := json.Unmarshal(frontier, &state); err != nil {
			return crawler.AuditRun{}, fmt.Errorf("unmarshal frontier %s: %w", run.ID, err)
		}
		run.Frontier = &state
	}
	return run, nil
}
