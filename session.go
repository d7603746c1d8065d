package lighter

import (
	"context"
	"time"
)

// SessionKey identifies a resumable upload. Two attempts resume the same
// session only when they target the same storage, the same destination path,
// and a file of the same size.
type SessionKey struct {
	StorageID string `json:"storage_id"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
}

// SessionRecord is a persisted multipart session plus the bookkeeping needed
// to resume it: the original file name for display and the last touch time
// for cleanup.
type SessionRecord struct {
	Key       SessionKey       `json:"key"`
	Session   MultipartSession `json:"session"`
	FileName  string           `json:"file_name"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SessionStore persists upload sessions across process runs so interrupted
// transfers continue where they stopped.
//
// Get returns (nil, nil) when no record exists. Put upserts and refreshes
// UpdatedAt. Delete of a missing key succeeds. ListOlderThan returns the
// records not touched within age, so a janitor can abort their backend
// uploads before DeleteOlderThan removes them and reports how many went
// away.
type SessionStore interface {
	Get(ctx context.Context, key SessionKey) (*SessionRecord, error)
	Put(ctx context.Context, record SessionRecord) error
	Delete(ctx context.Context, key SessionKey) error
	ListOlderThan(ctx context.Context, age time.Duration) ([]SessionRecord, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Close() error
}
