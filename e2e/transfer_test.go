// Package e2e runs the whole stack in one process: the real S3 storage
// client against an in-memory S3 server, the transfer engine with a real
// resume store, and the relay gateway router over both.
package e2e_test

import (
	"bytes"
	"context"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/resume"
	"github.com/quaydock/lighter/storage/s3"
	"github.com/quaydock/lighter/transfer"
)

const testChunkSize = 1 << 10

func newS3Client(t *testing.T, endpoint string) *s3.Client {
	t.Helper()
	client, err := s3.New(lighter.StorageConfig{
		Kind:     lighter.KindS3,
		Endpoint: endpoint,
		Region:   "us-east-1",
		AccessID: "AKIDEXAMPLE",
		Secret:   "secret",
		Bucket:   "vault",
	})
	require.NoError(t, err)
	return client
}

func newSQLiteStore(t *testing.T) lighter.SessionStore {
	t.Helper()
	store, err := resume.Open(t.Context(), resume.Config{
		Driver: resume.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "resume.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.New(rand.NewSource(42)).Read(data)
	require.NoError(t, err)
	return data
}

func TestTransfer_DirectMultipart(t *testing.T) {
	fake, srv := newFakeS3(t, "vault")
	client := newS3Client(t, srv.URL)
	store := newSQLiteStore(t)

	uploader, err := transfer.New("vault", client, store,
		transfer.WithChunkSize(testChunkSize))
	require.NoError(t, err)

	payload := randomPayload(t, 3*testChunkSize+17)
	result, err := uploader.Upload(t.Context(), transfer.Request{
		Key:         "videos/movie.mp4",
		FileName:    "movie.mp4",
		ContentType: "video/mp4",
		Content:     bytes.NewReader(payload),
		Size:        int64(len(payload)),
	})
	require.NoError(t, err)

	assert.True(t, result.Multipart)
	assert.Equal(t, 4, result.Parts)
	assert.Equal(t, lighter.StrategyDirect, result.Strategy)
	assert.False(t, result.Downgraded)
	assert.Equal(t, int64(len(payload)), result.BytesSent)

	assert.Equal(t, payload, fake.object("videos/movie.mp4"))
	assert.Zero(t, fake.openUploads(), "completed upload must be closed on the backend")

	presigned, headerAuth := fake.counters()
	assert.Equal(t, 4, presigned, "direct parts go to presigned URLs")
	assert.Zero(t, headerAuth)

	rec, err := store.Get(t.Context(), lighter.SessionKey{
		StorageID: "vault", Path: "videos/movie.mp4", Size: int64(len(payload)),
	})
	require.NoError(t, err)
	assert.Nil(t, rec, "finished transfers leave no resume record")
}

func TestTransfer_SmallFileSinglePut(t *testing.T) {
	fake, srv := newFakeS3(t, "vault")
	client := newS3Client(t, srv.URL)
	store := newSQLiteStore(t)

	uploader, err := transfer.New("vault", client, store,
		transfer.WithChunkSize(testChunkSize))
	require.NoError(t, err)

	payload := []byte("short note")
	result, err := uploader.Upload(t.Context(), transfer.Request{
		Key:         "notes/todo.txt",
		FileName:    "todo.txt",
		ContentType: "text/plain",
		Content:     bytes.NewReader(payload),
		Size:        int64(len(payload)),
	})
	require.NoError(t, err)

	assert.False(t, result.Multipart)
	assert.Equal(t, 1, result.Parts)
	assert.NotEmpty(t, result.ETag)
	assert.Equal(t, payload, fake.object("notes/todo.txt"))
}

// cancelAfterObserver cancels a context once n parts have finished.
type cancelAfterObserver struct {
	n      int32
	done   atomic.Int32
	cancel context.CancelFunc
}

func (o *cancelAfterObserver) TransferStarted(string, int64) {}

func (o *cancelAfterObserver) PartUploaded(string, lighter.Strategy, int64) {
	if o.done.Add(1) >= o.n {
		o.cancel()
	}
}
func (o *cancelAfterObserver) StrategyDowngraded(string) {}

func (o *cancelAfterObserver) TransferFinished(string, transfer.State) {}

func TestTransfer_ResumeAfterInterruption(t *testing.T) {
	fake, srv := newFakeS3(t, "vault")
	client := newS3Client(t, srv.URL)
	store := newSQLiteStore(t)

	payload := randomPayload(t, 5*testChunkSize)
	req := transfer.Request{
		Key:         "backups/archive.tar",
		FileName:    "archive.tar",
		ContentType: "application/x-tar",
		Content:     bytes.NewReader(payload),
		Size:        int64(len(payload)),
	}
	sessionKey := lighter.SessionKey{StorageID: "vault", Path: req.Key, Size: req.Size}

	// First attempt: cancel after the first finished part. One worker keeps
	// the interruption point deterministic.
	ctx, cancel := context.WithCancel(t.Context())
	obs := &cancelAfterObserver{n: 1, cancel: cancel}
	uploader, err := transfer.New("vault", client, store,
		transfer.WithChunkSize(testChunkSize),
		transfer.WithWorkers(1, 1),
		transfer.WithObserver(obs))
	require.NoError(t, err)

	_, err = uploader.Upload(ctx, req)
	require.Error(t, err, "interrupted upload must not report success")

	rec, err := store.Get(t.Context(), sessionKey)
	require.NoError(t, err)
	require.NotNil(t, rec, "interrupted upload must leave a resume record")
	require.NotEmpty(t, rec.Session.CompletedParts)
	doneBefore := len(rec.Session.CompletedParts)

	// Second attempt resumes and finishes.
	confirmed := false
	uploader2, err := transfer.New("vault", client, store,
		transfer.WithChunkSize(testChunkSize),
		transfer.WithConfirm(func(rec lighter.SessionRecord) bool {
			confirmed = true
			return true
		}))
	require.NoError(t, err)

	result, err := uploader2.Upload(t.Context(), req)
	require.NoError(t, err)

	assert.True(t, confirmed, "resume must ask for confirmation")
	assert.True(t, result.Resumed)
	assert.Equal(t, 5, result.Parts)
	assert.Equal(t, int64(5-doneBefore)*testChunkSize, result.BytesSent,
		"only the remaining parts travel again")

	assert.Equal(t, payload, fake.object("backups/archive.tar"))
	assert.Zero(t, fake.openUploads())

	rec, err = store.Get(t.Context(), sessionKey)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestTransfer_DowngradeToProxy(t *testing.T) {
	fake, srv := newFakeS3(t, "vault")
	fake.setRejectPresigned(true)

	client := newS3Client(t, srv.URL)
	store := newSQLiteStore(t)

	uploader, err := transfer.New("vault", client, store,
		transfer.WithChunkSize(testChunkSize))
	require.NoError(t, err)

	payload := randomPayload(t, 2*testChunkSize+5)
	result, err := uploader.Upload(t.Context(), transfer.Request{
		Key:         "images/disk.iso",
		FileName:    "disk.iso",
		ContentType: "application/octet-stream",
		Content:     bytes.NewReader(payload),
		Size:        int64(len(payload)),
	})
	require.NoError(t, err)

	assert.True(t, result.Downgraded)
	assert.Equal(t, lighter.StrategyProxy, result.Strategy)
	assert.Equal(t, payload, fake.object("images/disk.iso"))

	presigned, headerAuth := fake.counters()
	assert.Zero(t, presigned, "rejected presigned puts never store parts")
	assert.Equal(t, 3, headerAuth, "all parts arrive via header-authenticated puts")
}
