// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "mirror_artifacts"

// ArtifactStoreConfig controls the Postgres connection pool used for artifact rows.
type ArtifactStoreConfig struct {
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

// ArtifactStore keeps the mirror catalog in Postgres.
type ArtifactStore struct {
	pool  pool
	table string
}

// NewArtifactStore creates a Postgres-backed ArtifactStore using the provided config.
func NewArtifactStore(ctx context.Context, cfg ArtifactStoreConfig) (*ArtifactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
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
	return &ArtifactStore{pool: p, table: table}, nil
}

// NewArtifactStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArtifactStoreWithPool(p pool, table string) (*ArtifactStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ArtifactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the artifact table and its created_at index.
func (s *ArtifactStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	changelog JSONB NOT NULL DEFAULT '[]'::jsonb,
	storage_path TEXT NOT NULL,
	public_url TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Insert writes an artifact row.
func (s *ArtifactStore) Insert(ctx context.Context, a mirror.Artifact) error {
	if a.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	changelog := a.Changelog
	if changelog == nil {
		changelog = []string{}
	}
	changelogJSON, err := json.Marshal(changelog)
	if err != nil {
		return fmt.Errorf("marshal changelog: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, created_at, changelog, storage_path, public_url)
VALUES ($1, $2, $3, $4, $5)`, s.table)
	if _, err := s.pool.Exec(ctx, query, a.ID, a.CreatedAt, changelogJSON, a.StoragePath, a.PublicURL); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// List returns artifacts newest first and the total row count.
func (s *ArtifactStore) List(ctx context.Context, limit, offset int) ([]mirror.Artifact, int, error) {
	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count artifacts: %w", err)
	}
	query := fmt.Sprintf(`
SELECT id, created_at, changelog, storage_path, public_url
FROM %s
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`, s.table)
	items, err := s.query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, int(total), nil
}

// CreatedBefore returns artifacts created at or before cutoff, oldest first.
func (s *ArtifactStore) CreatedBefore(ctx context.Context, cutoff time.Time) ([]mirror.Artifact, error) {
	query := fmt.Sprintf(`
SELECT id, created_at, changelog, storage_path, public_url
FROM %s
WHERE created_at <= $1
ORDER BY created_at ASC`, s.table)
	return s.query(ctx, query, cutoff)
}

// Delete removes an artifact row.
func (s *ArtifactStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStore) query(ctx context.Context, query string, args ...any) ([]mirror.Artifact, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []mirror.Artifact
	for rows.Next() {
		var (
			a             mirror.Artifact
			changelogJSON []byte
		)
		if err := rows.Scan(&a.ID, &a.CreatedAt, &changelogJSON, &a.StoragePath, &a.PublicURL); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		if err := json.Unmarshal(changelogJSON, &a.Changelog); err != nil {
			return nil, fmt.Errorf("decode changelog for %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}
