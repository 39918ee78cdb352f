package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcpharvest/internal/retry"
	"github.com/mcpharvest/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx-backed Store. It owns its pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and pings it, retrying transient failures.
func Open(ctx context.Context, databaseURL string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := retry.Do(ctx, retry.DefaultRetryConfig(), pool.Ping, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Str("host", cfg.ConnConfig.Host).Str("database", cfg.ConnConfig.Database).Msg("Connected to Postgres")
	return &Postgres{pool: pool}, nil
}

// Pool exposes the connection pool for the job queue.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ItemsWithoutConfig returns servers that have no config and were not rejected,
// most starred first, with their stored content as files. limit <= 0 means no limit.
func (p *Postgres) ItemsWithoutConfig(ctx context.Context, limit int) ([]models.RepositoryDescriptor, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := p.pool.Query(ctx, `
		SELECT s.id, s.name, s.github_url,
		       COALESCE(s.github_owner, ''), COALESCE(s.github_repo, ''),
		       COALESCE(s.description, ''), COALESCE(s.primary_language, ''),
		       COALESCE(s.homepage, ''), s.topics, s.github_stars, s.github_forks
		FROM mcp_servers s
		LEFT JOIN mcp_configs cfg ON cfg.server_id = s.id
		WHERE cfg.id IS NULL
		  AND s.status <> 'rejected'
		ORDER BY s.github_stars DESC, s.created_at
		LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers without config: %w", err)
	}

	var (
		repos []models.RepositoryDescriptor
		ids   []uuid.UUID
	)
	for rows.Next() {
		var (
			r           models.RepositoryDescriptor
			owner, repo string
		)
		if err := rows.Scan(&r.RepoID, &r.Metadata.Name, &r.GithubURL, &owner, &repo,
			&r.Metadata.Description, &r.Metadata.Language, &r.Metadata.Homepage,
			&r.Metadata.Topics, &r.Metadata.Stars, &r.Metadata.Forks); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		if owner != "" || repo != "" {
			r.Metadata.FullName = owner + "/" + repo
		}
		r.Files = map[string]string{}
		repos = append(repos, r)
		ids = append(ids, r.RepoID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read servers: %w", err)
	}
	if len(repos) == 0 {
		return repos, nil
	}

	index := make(map[uuid.UUID]int, len(repos))
	for i, id := range ids {
		index[id] = i
	}

	contentRows, err := p.pool.Query(ctx, `
		SELECT server_id, content_type, filename, content
		FROM mcp_content
		WHERE server_id = ANY($1)
		ORDER BY created_at`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query content: %w", err)
	}
	defer contentRows.Close()

	for contentRows.Next() {
		var (
			serverID    uuid.UUID
			contentType string
			filename    *string
			content     string
		)
		if err := contentRows.Scan(&serverID, &contentType, &filename, &content); err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		if i, ok := index[serverID]; ok {
			repos[i].Files[contentKey(contentType, filename)] = content
		}
	}
	if err := contentRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return repos, nil
}

// UpsertConfig writes the cleaned config, replacing any existing row for repoID.
func (p *Postgres) UpsertConfig(ctx context.Context, repoID uuid.UUID, cfg models.ExtractedConfig, configType string) error {
	return pgWriter{q: p.pool}.UpsertConfig(ctx, repoID, cfg, configType)
}

// UpdateStatus records the verdict status and score on the server row.
func (p *Postgres) UpdateStatus(ctx context.Context, repoID uuid.UUID, status models.VerdictStatus, score float64) error {
	return pgWriter{q: p.pool}.UpdateStatus(ctx, repoID, status, score)
}

// WithTx runs fn in a transaction, committing only if fn returns nil.
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgWriter{q: tx})
	})
}

// ConfigExists reports whether repoID already has a config row.
func (p *Postgres) ConfigExists(ctx context.Context, repoID uuid.UUID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mcp_configs WHERE server_id = $1)`, repoID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check config for %s: %w", repoID, err)
	}
	return exists, nil
}

// Statistics summarises servers and configs.
func (p *Postgres) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats := &models.Statistics{ByStatus: map[string]int{}}

	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mcp_servers`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count servers: %w", err)
	}
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT server_id) FROM mcp_configs`).Scan(&stats.WithConfig); err != nil {
		return nil, fmt.Errorf("failed to count configs: %w", err)
	}
	stats.WithoutConfig = stats.Total - stats.WithConfig

	rows, err := p.pool.Query(ctx, `SELECT status, COUNT(*) FROM mcp_servers GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status counts: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		SELECT COALESCE(ROUND(AVG(s.github_stars)::numeric, 2), 0)::float8
		FROM mcp_servers s
		JOIN mcp_configs c ON c.server_id = s.id
		WHERE s.github_stars > 0`).Scan(&stats.AvgStarsWithConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to average stars: %w", err)
	}
	return stats, nil
}

// ConfigsByType lists stored configs, optionally filtered by config type.
func (p *Postgres) ConfigsByType(ctx context.Context, configType string) ([]StoredConfig, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT c.server_id, s.github_url, c.config_type, c.config_json, c.updated_at
		FROM mcp_configs c
		JOIN mcp_servers s ON s.id = c.server_id
		WHERE $1 = '' OR c.config_type = $1
		ORDER BY s.github_stars DESC, c.updated_at DESC`, configType)
	if err != nil {
		return nil, fmt.Errorf("failed to query configs: %w", err)
	}
	defer rows.Close()

	out := []StoredConfig{}
	for rows.Next() {
		var (
			sc  StoredConfig
			raw []byte
		)
		if err := rows.Scan(&sc.RepoID, &sc.GithubURL, &sc.ConfigType, &raw, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		if err := json.Unmarshal(raw, &sc.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config for %s: %w", sc.RepoID, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

type pgWriter struct {
	q querier
}

func (w pgWriter) UpsertConfig(ctx context.Context, repoID uuid.UUID, cfg models.ExtractedConfig, configType string) error {
	data, err := json.Marshal(cfg.Clean())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = w.q.Exec(ctx, `
		INSERT INTO mcp_configs (server_id, config_type, config_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (server_id) DO UPDATE
		SET config_type = EXCLUDED.config_type,
		    config_json = EXCLUDED.config_json,
		    updated_at  = now()`, repoID, configType, data)
	if err != nil {
		return fmt.Errorf("failed to upsert config for %s: %w", repoID, err)
	}
	return nil
}

func (w pgWriter) UpdateStatus(ctx context.Context, repoID uuid.UUID, status models.VerdictStatus, score float64) error {
	tag, err := w.q.Exec(ctx, `
		UPDATE mcp_servers
		SET status = $2, validation_score = $3, updated_at = now()
		WHERE id = $1`, repoID, string(status), score)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", repoID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update status for %s: %w", repoID, ErrNotFound)
	}
	return nil
}
