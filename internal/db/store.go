package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jwulff/quill/internal/recording"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		audio_url TEXT,
		duration_seconds INTEGER,
		transcript TEXT,
		summary TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS recordings_user_created
		ON recordings (user_id, created_at DESC);
`

// SQLiteStore keeps recording metadata in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default database path under dataDir.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "quill.sqlite")
}

// Open opens (creating if needed) the database with WAL and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an open database whose schema is already applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores a new recording with a fresh ID and timestamps.
func (s *SQLiteStore) Insert(ctx context.Context, r recording.Recording) (recording.Recording, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return recording.Recording{}, fmt.Errorf("generate id: %w", err)
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	r.ID = id.String()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, user_id, title, audio_url, duration_seconds, transcript, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OwnerID, r.Title, nullString(r.AssetURL), nullInt(r.DurationSeconds),
		nullString(r.Transcript), nullString(r.Summary), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return recording.Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return r, nil
}

// Update applies a patch. A missing row is recording.ErrNotFound.
func (s *SQLiteStore) Update(ctx context.Context, id string, p recording.Patch) error {
	cols, args := patchColumns(p)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UnixMilli(), id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE recordings SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	return expectOneRow(res)
}

// Delete removes a row. A missing row is recording.ErrNotFound.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	return expectOneRow(res)
}

// SelectAllFor returns an owner's recordings, newest first.
func (s *SQLiteStore) SelectAllFor(ctx context.Context, owner string) ([]recording.Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, audio_url, duration_seconds, transcript, summary, created_at, updated_at
		FROM recordings
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []recording.Recording
	for rows.Next() {
		var r recordingRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.Title, &r.AudioURL, &r.DurationSeconds,
			&r.Transcript, &r.Summary, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, r.toRecording())
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return recording.ErrNotFound
	}
	return nil
}
