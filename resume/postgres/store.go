// Package postgres persists upload sessions in PostgreSQL for deployments
// where several relay instances share one resume state.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quaydock/lighter"
)

const schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	storage_id   TEXT NOT NULL,
	path         TEXT NOT NULL,
	size         BIGINT NOT NULL,
	upload_id    TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	content_type TEXT NOT NULL,
	chunk_size   BIGINT NOT NULL,
	total_parts  INTEGER NOT NULL,
	strategy     TEXT NOT NULL,
	parts        JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (storage_id, path, size)
);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_updated_at ON upload_sessions (updated_at);
`

// Store implements lighter.SessionStore on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection, and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Get(ctx context.Context, key lighter.SessionKey) (*lighter.SessionRecord, error) {
	const query = `
		SELECT upload_id, file_name, content_type, chunk_size, total_parts, strategy, parts, updated_at
		FROM upload_sessions
		WHERE storage_id = $1 AND path = $2 AND size = $3`

	var (
		record    lighter.SessionRecord
		partsJSON []byte
		strategy  string
	)
	err := s.pool.QueryRow(ctx, query, key.StorageID, key.Path, key.Size).Scan(
		&record.Session.UploadID,
		&record.FileName,
		&record.Session.ContentType,
		&record.Session.ChunkSize,
		&record.Session.TotalParts,
		&strategy,
		&partsJSON,
		&record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	record.Key = key
	record.Session.Key = key.Path
	record.Session.Strategy = lighter.Strategy(strategy)
	if err := json.Unmarshal(partsJSON, &record.Session.CompletedParts); err != nil {
		return nil, fmt.Errorf("get session: parse parts: %w", err)
	}
	return &record, nil
}

func (s *Store) Put(ctx context.Context, record lighter.SessionRecord) error {
	const query = `
		INSERT INTO upload_sessions
			(storage_id, path, size, upload_id, file_name, content_type, chunk_size, total_parts, strategy, parts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (storage_id, path, size) DO UPDATE SET
			upload_id = EXCLUDED.upload_id,
			file_name = EXCLUDED.file_name,
			content_type = EXCLUDED.content_type,
			chunk_size = EXCLUDED.chunk_size,
			total_parts = EXCLUDED.total_parts,
			strategy = EXCLUDED.strategy,
			parts = EXCLUDED.parts,
			updated_at = EXCLUDED.updated_at`

	parts := record.Session.CompletedParts
	if parts == nil {
		parts = []lighter.Part{}
	}
	partsJSON, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("put session: encode parts: %w", err)
	}

	_, err = s.pool.Exec(ctx, query,
		record.Key.StorageID, record.Key.Path, record.Key.Size,
		record.Session.UploadID, record.FileName, record.Session.ContentType,
		record.Session.ChunkSize, record.Session.TotalParts,
		string(record.Session.Strategy), partsJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key lighter.SessionKey) error {
	const query = `DELETE FROM upload_sessions WHERE storage_id = $1 AND path = $2 AND size = $3`

	if _, err := s.pool.Exec(ctx, query, key.StorageID, key.Path, key.Size); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) ListOlderThan(ctx context.Context, age time.Duration) ([]lighter.SessionRecord, error) {
	const query = `
		SELECT storage_id, path, size, upload_id, file_name, content_type, chunk_size, total_parts, strategy, parts, updated_at
		FROM upload_sessions
		WHERE updated_at < $1`

	rows, err := s.pool.Query(ctx, query, time.Now().UTC().Add(-age))
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	var stale []lighter.SessionRecord
	for rows.Next() {
		var (
			record    lighter.SessionRecord
			partsJSON []byte
			strategy  string
		)
		err := rows.Scan(
			&record.Key.StorageID, &record.Key.Path, &record.Key.Size,
			&record.Session.UploadID, &record.FileName, &record.Session.ContentType,
			&record.Session.ChunkSize, &record.Session.TotalParts,
			&strategy, &partsJSON, &record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("list stale sessions: %w", err)
		}
		record.Session.Key = record.Key.Path
		record.Session.Strategy = lighter.Strategy(strategy)
		if err := json.Unmarshal(partsJSON, &record.Session.CompletedParts); err != nil {
			return nil, fmt.Errorf("list stale sessions: parse parts: %w", err)
		}
		stale = append(stale, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	return stale, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const query = `DELETE FROM upload_sessions WHERE updated_at < $1`

	result, err := s.pool.Exec(ctx, query, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
