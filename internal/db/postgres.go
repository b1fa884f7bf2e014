package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jwulff/quill/internal/recording"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		audio_url TEXT,
		duration_seconds INTEGER,
		transcript TEXT,
		summary TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS recordings_user_created
		ON recordings (user_id, created_at DESC);
`

// PostgresConfig holds pool settings for PostgresStore.
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

// PostgresStore keeps recording metadata in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool, pings it and applies the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	}
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, r recording.Recording) (recording.Recording, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return recording.Recording{}, fmt.Errorf("generate id: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO recordings (id, user_id, title, audio_url, duration_seconds, transcript, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text, created_at, updated_at
	`, id, r.OwnerID, r.Title, r.AssetURL, r.DurationSeconds, r.Transcript, r.Summary).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return recording.Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, p recording.Patch) error {
	cols, args := patchColumns(p)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE recordings SET %s WHERE id::text = $%d",
		strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recording.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return recording.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SelectAllFor(ctx context.Context, owner string) ([]recording.Recording, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, user_id, title, audio_url, duration_seconds, transcript, summary, created_at, updated_at
		FROM recordings
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []recording.Recording
	for rows.Next() {
		var r recording.Recording
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Title, &r.AssetURL, &r.DurationSeconds,
			&r.Transcript, &r.Summary, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read recordings: %w", err)
	}
	return out, nil
}
