// Package sqlite persists upload sessions in a local SQLite database, which
// is the default durable store for single-machine use.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/quaydock/lighter"
)

const schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	storage_id   TEXT NOT NULL,
	path         TEXT NOT NULL,
	size         INTEGER NOT NULL,
	upload_id    TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	content_type TEXT NOT NULL,
	chunk_size   INTEGER NOT NULL,
	total_parts  INTEGER NOT NULL,
	strategy     TEXT NOT NULL,
	parts        TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (storage_id, path, size)
);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_updated_at ON upload_sessions (updated_at);
`

// Store implements lighter.SessionStore on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dsn and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc's driver allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key lighter.SessionKey) (*lighter.SessionRecord, error) {
	const query = `
		SELECT upload_id, file_name, content_type, chunk_size, total_parts, strategy, parts, updated_at
		FROM upload_sessions
		WHERE storage_id = ? AND path = ? AND size = ?`

	var (
		record    lighter.SessionRecord
		partsJSON string
		updatedAt string
		strategy  string
	)
	err := s.db.QueryRowContext(ctx, query, key.StorageID, key.Path, key.Size).Scan(
		&record.Session.UploadID,
		&record.FileName,
		&record.Session.ContentType,
		&record.Session.ChunkSize,
		&record.Session.TotalParts,
		&strategy,
		&partsJSON,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	record.Key = key
	record.Session.Key = key.Path
	record.Session.Strategy = lighter.Strategy(strategy)
	if err := json.Unmarshal([]byte(partsJSON), &record.Session.CompletedParts); err != nil {
		return nil, fmt.Errorf("get session: parse parts: %w", err)
	}
	record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("get session: parse updated_at: %w", err)
	}
	return &record, nil
}

func (s *Store) Put(ctx context.Context, record lighter.SessionRecord) error {
	const query = `
		INSERT INTO upload_sessions
			(storage_id, path, size, upload_id, file_name, content_type, chunk_size, total_parts, strategy, parts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (storage_id, path, size) DO UPDATE SET
			upload_id = excluded.upload_id,
			file_name = excluded.file_name,
			content_type = excluded.content_type,
			chunk_size = excluded.chunk_size,
			total_parts = excluded.total_parts,
			strategy = excluded.strategy,
			parts = excluded.parts,
			updated_at = excluded.updated_at`

	parts := record.Session.CompletedParts
	if parts == nil {
		parts = []lighter.Part{}
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("put session: encode parts: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = s.db.ExecContext(ctx, query,
		record.Key.StorageID, record.Key.Path, record.Key.Size,
		record.Session.UploadID, record.FileName, record.Session.ContentType,
		record.Session.ChunkSize, record.Session.TotalParts,
		string(record.Session.Strategy), string(partsJSON), now,
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key lighter.SessionKey) error {
	const query = `DELETE FROM upload_sessions WHERE storage_id = ? AND path = ? AND size = ?`

	if _, err := s.db.ExecContext(ctx, query, key.StorageID, key.Path, key.Size); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListOlderThan returns sessions not touched within age. Timestamps are
// stored as fixed-width RFC 3339 UTC strings, so the range compare works on
// text.
func (s *Store) ListOlderThan(ctx context.Context, age time.Duration) ([]lighter.SessionRecord, error) {
	const query = `
		SELECT storage_id, path, size, upload_id, file_name, content_type, chunk_size, total_parts, strategy, parts, updated_at
		FROM upload_sessions
		WHERE updated_at < ?`

	cutoff := time.Now().Add(-age).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	var stale []lighter.SessionRecord
	for rows.Next() {
		var (
			record    lighter.SessionRecord
			partsJSON string
			updatedAt string
			strategy  string
		)
		err := rows.Scan(
			&record.Key.StorageID, &record.Key.Path, &record.Key.Size,
			&record.Session.UploadID, &record.FileName, &record.Session.ContentType,
			&record.Session.ChunkSize, &record.Session.TotalParts,
			&strategy, &partsJSON, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("list stale sessions: %w", err)
		}
		record.Session.Key = record.Key.Path
		record.Session.Strategy = lighter.Strategy(strategy)
		if err := json.Unmarshal([]byte(partsJSON), &record.Session.CompletedParts); err != nil {
			return nil, fmt.Errorf("list stale sessions: parse parts: %w", err)
		}
		record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("list stale sessions: parse updated_at: %w", err)
		}
		stale = append(stale, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	return stale, nil
}

// DeleteOlderThan removes sessions not touched within age.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const query = `DELETE FROM upload_sessions WHERE updated_at < ?`

	cutoff := time.Now().Add(-age).UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return removed, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
