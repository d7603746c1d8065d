package lighter

import (
	"context"
	"io"
	"time"
)

// DirectoryContentType marks emulated directory objects on backends that
// have no native folder concept.
const DirectoryContentType = "application/x-directory"

// DefaultContentType is used when a caller supplies none.
const DefaultContentType = "application/octet-stream"

// StorageClient is the capability surface shared by every backend variant.
// All keys are basePath-relative; the client applies its PathResolver before
// touching the wire. Implementations attach the operation and key to every
// error and pass context cancellation through to the underlying transport.
type StorageClient interface {
	// Kind identifies the wire protocol behind this client.
	Kind() Kind

	// Capabilities reports which optional features the backend supports.
	// Callers use this instead of switching on Kind.
	Capabilities() Capabilities

	// List returns one page of entries under query.Prefix. Directories sort
	// before files, then lexicographically by name. The entry for the listed
	// prefix itself is never returned. List never paginates past one page;
	// callers follow ContinuationToken themselves.
	List(ctx context.Context, query ListQuery) (ListResult, error)

	// Get returns the object's metadata and a live body stream. The caller
	// owns closing the stream. A missing key is ErrNotFound.
	Get(ctx context.Context, key string) (ObjectInfo, io.ReadCloser, error)

	// Put streams body to key and returns the resulting ETag. The body is
	// never buffered whole; size must match the byte count of body.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)

	// Delete removes key. Deleting a missing key is not an error, so
	// idempotent cleanup can call it blindly.
	Delete(ctx context.Context, key string) error

	// Copy duplicates srcKey to destKey server-side.
	Copy(ctx context.Context, srcKey, destKey string) error

	// Head returns the object's metadata, or (nil, nil) when the key does
	// not exist: "is it there" is a valid question, not an error.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// CreateFolder materializes a directory at path (trailing slash added if
	// missing), emulated with a marker object where the backend has no
	// native folders.
	CreateFolder(ctx context.Context, path string) error

	// SignedURL returns a URL for reading key without further auth. On
	// backends without presigning support the URL carries no credentials
	// and must not be handed to untrusted parties.
	SignedURL(ctx context.Context, key string, expires time.Duration) (string, error)

	// InitiateMultipart starts a multipart upload and returns its upload id.
	InitiateMultipart(ctx context.Context, key, contentType string) (string, error)

	// PresignPart returns a URL that uploads one part without further auth.
	// ErrNotSupported when Capabilities().PresignedURLs is false.
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (string, error)

	// UploadPart streams one part through the client's own credentials and
	// returns the completed part. ErrNotSupported when
	// Capabilities().Multipart is false.
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (Part, error)

	// CompleteMultipart stitches the uploaded parts together. Parts are
	// sorted by number before being sent; contiguity is the caller's
	// contract to keep.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error

	// AbortMultipart discards an in-progress upload. Best-effort.
	AbortMultipart(ctx context.Context, key, uploadID string) error
}
