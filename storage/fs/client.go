// Package fs implements the StorageClient interface on a local directory.
// All access goes through an os.Root so traversal outside the configured
// directory is impossible even for hostile keys. Writes land in a temp file
// first and are renamed into place, so readers never observe partial
// objects.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/quaydock/lighter"
)

// tmpPrefix marks in-progress writes; those files never show up in listings.
const tmpPrefix = ".lighter-tmp-"

// sniffLen is how many leading bytes content-type detection looks at.
const sniffLen = 3072

// Client is a StorageClient rooted at a local directory.
type Client struct {
	root *os.Root
}

// New opens (creating if needed) the directory at cfg.Endpoint, resolved
// under cfg.BasePath, and roots all further access inside it.
func New(cfg lighter.StorageConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("fs: directory is required: %w", lighter.ErrConfig)
	}
	dir := cfg.Endpoint
	if base := strings.Trim(cfg.BasePath, "/"); base != "" {
		dir = filepath.Join(dir, filepath.FromSlash(base))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create root %q: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("fs: open root %q: %w", dir, err)
	}
	return &Client{root: root}, nil
}

// Dir returns the directory this client is rooted at.
func (c *Client) Dir() string {
	return c.root.Name()
}

// Close releases the root directory handle.
func (c *Client) Close() error {
	return c.root.Close()
}

// Kind reports the backend protocol.
func (c *Client) Kind() lighter.Kind { return lighter.KindFS }

// Capabilities reports what this backend supports natively.
func (c *Client) Capabilities() lighter.Capabilities {
	return lighter.Capabilities{}
}

// List returns the direct children of the prefix. Entries are read in one
// pass and paged by an offset token so large directories honor MaxKeys.
func (c *Client) List(ctx context.Context, q lighter.ListQuery) (lighter.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return lighter.ListResult{}, err
	}
	q = q.Normalized()

	dir := strings.TrimSuffix(q.Prefix, "/")
	if dir == "" {
		dir = "."
	} else if !lighter.IsValidKey(q.Prefix) {
		return lighter.ListResult{}, fmt.Errorf("list %q: %w", q.Prefix, lighter.ErrInvalidInput)
	}

	f, err := c.root.Open(filepath.FromSlash(dir))
	if err != nil {
		return lighter.ListResult{}, c.wrap("list", q.Prefix, err)
	}
	defer f.Close()

	dirents, err := f.ReadDir(-1)
	if err != nil {
		return lighter.ListResult{}, c.wrap("list", q.Prefix, err)
	}

	entries := make([]lighter.ObjectEntry, 0, len(dirents))
	for _, dirent := range dirents {
		name := dirent.Name()
		if strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		if dirent.IsDir() {
			entries = append(entries, lighter.ObjectEntry{
				Key:   q.Prefix + name + "/",
				Name:  name + "/",
				IsDir: true,
			})
			continue
		}
		entry := lighter.ObjectEntry{Key: q.Prefix + name, Name: name}
		if info, err := dirent.Info(); err == nil {
			entry.Size = info.Size()
			entry.LastModified = info.ModTime()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	start := 0
	if q.ContinuationToken != "" {
		start, err = strconv.Atoi(q.ContinuationToken)
		if err != nil || start < 0 || start > len(entries) {
			return lighter.ListResult{}, fmt.Errorf("list %q: bad continuation token: %w", q.Prefix, lighter.ErrInvalidInput)
		}
	}
	end := min(start+q.MaxKeys, len(entries))

	result := lighter.ListResult{}
	for _, entry := range entries[start:end] {
		if entry.IsDir {
			result.Prefixes = append(result.Prefixes, entry.Key)
		}
		result.Objects = append(result.Objects, entry)
	}
	sort.Slice(result.Objects, func(i, j int) bool {
		if result.Objects[i].IsDir != result.Objects[j].IsDir {
			return result.Objects[i].IsDir
		}
		return result.Objects[i].Name < result.Objects[j].Name
	})
	if end < len(entries) {
		result.IsTruncated = true
		result.ContinuationToken = strconv.Itoa(end)
	}
	return result, nil
}

// Get opens a file for reading. The content type is sniffed from the first
// bytes; the caller owns the returned body and must close it.
func (c *Client) Get(ctx context.Context, key string) (lighter.ObjectInfo, io.ReadCloser, error) {
	if !lighter.IsValidKey(key) || lighter.IsDirKey(key) {
		return lighter.ObjectInfo{}, nil, fmt.Errorf("get %q: %w", key, lighter.ErrInvalidInput)
	}
	f, err := c.root.Open(filepath.FromSlash(key))
	if err != nil {
		return lighter.ObjectInfo{}, nil, c.wrap("get", key, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return lighter.ObjectInfo{}, nil, c.wrap("get", key, err)
	}
	if stat.IsDir() {
		f.Close()
		return lighter.ObjectInfo{}, nil, fmt.Errorf("get %q: is a directory: %w", key, lighter.ErrInvalidInput)
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.Close()
		return lighter.ObjectInfo{}, nil, c.wrap("get", key, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return lighter.ObjectInfo{}, nil, c.wrap("get", key, err)
	}

	info := lighter.ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		ContentType:  mimetype.Detect(header[:n]).String(),
		LastModified: stat.ModTime(),
	}
	return info, newCtxReadCloser(ctx, f), nil
}

// Put writes a file atomically, creating parent directories as needed. The
// returned etag is a digest of the stored bytes.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if !lighter.IsValidKey(key) || lighter.IsDirKey(key) {
		return "", fmt.Errorf("put %q: %w", key, lighter.ErrInvalidInput)
	}
	fp := filepath.FromSlash(key)
	if dir := filepath.Dir(fp); dir != "." {
		if err := c.root.MkdirAll(dir, 0o755); err != nil {
			return "", c.wrap("put", key, err)
		}
	}

	tmp := tmpName(fp)
	f, err := c.root.Create(tmp)
	if err != nil {
		return "", c.wrap("put", key, err)
	}

	hash := sha256.New()
	_, err = io.Copy(io.MultiWriter(f, hash), newCtxReader(ctx, body))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		c.removeTmp(tmp)
		return "", c.wrap("put", key, err)
	}
	if err := c.root.Rename(tmp, fp); err != nil {
		c.removeTmp(tmp)
		return "", c.wrap("put", key, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Delete removes a file or an empty directory. Missing keys succeed.
func (c *Client) Delete(ctx context.Context, key string) error {
	if !lighter.IsValidKey(key) {
		return fmt.Errorf("delete %q: %w", key, lighter.ErrInvalidInput)
	}
	err := c.root.Remove(strings.TrimSuffix(filepath.FromSlash(key), string(filepath.Separator)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c.wrap("delete", key, err)
	}
	return nil
}

// Copy duplicates srcKey to destKey with the same atomic write as Put.
func (c *Client) Copy(ctx context.Context, srcKey, destKey string) error {
	if !lighter.IsValidKey(srcKey) || !lighter.IsValidKey(destKey) || lighter.IsDirKey(srcKey) {
		return fmt.Errorf("copy %q to %q: %w", srcKey, destKey, lighter.ErrInvalidInput)
	}
	src, err := c.root.Open(filepath.FromSlash(srcKey))
	if err != nil {
		return c.wrap("copy", srcKey, err)
	}
	defer src.Close()

	if _, err := c.Put(ctx, destKey, src, -1, ""); err != nil {
		return fmt.Errorf("copy %q to %q: %w", srcKey, destKey, err)
	}
	return nil
}

// Head reports file metadata without opening the content. A missing key
// returns (nil, nil).
func (c *Client) Head(ctx context.Context, key string) (*lighter.ObjectInfo, error) {
	if !lighter.IsValidKey(key) {
		return nil, fmt.Errorf("head %q: %w", key, lighter.ErrInvalidInput)
	}
	stat, err := c.root.Stat(strings.TrimSuffix(filepath.FromSlash(key), string(filepath.Separator)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, c.wrap("head", key, err)
	}

	info := &lighter.ObjectInfo{
		Key:          key,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
	}
	if stat.IsDir() {
		info.Size = 0
		info.ContentType = lighter.DirectoryContentType
	}
	return info, nil
}

// CreateFolder creates a directory. An existing one is a conflict.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	dirKey := lighter.EnsureDirKey(path)
	if !lighter.IsValidKey(dirKey) {
		return fmt.Errorf("create folder %q: %w", path, lighter.ErrInvalidInput)
	}
	fp := strings.TrimSuffix(filepath.FromSlash(dirKey), string(filepath.Separator))
	if _, err := c.root.Stat(fp); err == nil {
		return fmt.Errorf("create folder %q: already exists: %w", path, lighter.ErrConflict)
	}
	if err := c.root.MkdirAll(fp, 0o755); err != nil {
		return c.wrap("create folder", path, err)
	}
	return nil
}

// SignedURL is not available on the filesystem backend.
func (c *Client) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "", fmt.Errorf("signed urls on fs: %w", lighter.ErrNotSupported)
}

// InitiateMultipart is not available on the filesystem backend.
func (c *Client) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	return "", fmt.Errorf("multipart upload on fs: %w", lighter.ErrNotSupported)
}

// PresignPart is not available on the filesystem backend.
func (c *Client) PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (string, error) {
	return "", fmt.Errorf("multipart upload on fs: %w", lighter.ErrNotSupported)
}

// UploadPart is not available on the filesystem backend.
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (lighter.Part, error) {
	return lighter.Part{}, fmt.Errorf("multipart upload on fs: %w", lighter.ErrNotSupported)
}

// CompleteMultipart is not available on the filesystem backend.
func (c *Client) CompleteMultipart(ctx context.Context, key, uploadID string, parts []lighter.Part) error {
	return fmt.Errorf("multipart upload on fs: %w", lighter.ErrNotSupported)
}

// AbortMultipart is not available on the filesystem backend.
func (c *Client) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return fmt.Errorf("multipart upload on fs: %w", lighter.ErrNotSupported)
}

func (c *Client) removeTmp(tmp string) {
	if err := c.root.Remove(tmp); err != nil {
		slog.Warn("failed to remove tmp file", "path", tmp, "err", err)
	}
}

// wrap maps filesystem errors onto the shared sentinels.
func (c *Client) wrap(op, key string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s %q: %w", op, key, lighter.ErrNotFound)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%s %q: %w", op, key, lighter.ErrConflict)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s %q: %w", op, key, lighter.ErrUnauthorized)
	default:
		return fmt.Errorf("%s %q: %w", op, key, err)
	}
}

// tmpName places the scratch file next to its destination so the final
// rename stays on one filesystem.
func tmpName(fp string) string {
	dir := filepath.Dir(fp)
	name := tmpPrefix + uuid.NewString()
	if dir == "." {
		return name
	}
	return filepath.Join(dir, name)
}

// ctxReader aborts long copies when the context is done, since plain file
// IO never checks cancellation on its own.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func newCtxReader(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type ctxReadCloser struct {
	io.Reader
	io.Closer
}

func newCtxReadCloser(ctx context.Context, f *os.File) io.ReadCloser {
	return ctxReadCloser{Reader: newCtxReader(ctx, f), Closer: f}
}
