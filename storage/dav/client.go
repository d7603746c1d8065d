// Package dav implements the StorageClient interface over WebDAV. Listing
// maps to PROPFIND with Depth 1, folders are real collections created with
// MKCOL, and copies set Overwrite: F so an existing destination surfaces as
// a conflict instead of being clobbered.
package dav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/quaydock/lighter"
)

const errorBodyLimit = 4 << 10

// Client is a StorageClient backed by a WebDAV server.
type Client struct {
	endpoint *url.URL
	rootPath string
	username string
	password string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a Client from cfg. AccessID and Secret become the basic-auth
// credentials; BasePath is resolved under the endpoint path.
func New(cfg lighter.StorageConfig, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("dav: endpoint is required: %w", lighter.ErrConfig)
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dav: parse endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("dav: endpoint scheme %q is not supported: %w", endpoint.Scheme, lighter.ErrConfig)
	}

	rootPath := strings.TrimRight(endpoint.Path, "/")
	if base := strings.Trim(cfg.BasePath, "/"); base != "" {
		rootPath += "/" + base
	}

	c := &Client{
		endpoint: endpoint,
		rootPath: rootPath,
		username: cfg.AccessID,
		password: cfg.Secret,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Kind reports the backend protocol.
func (c *Client) Kind() lighter.Kind { return lighter.KindWebDAV }

// Capabilities reports what this backend supports natively. WebDAV has
// neither multipart uploads nor presigned URLs.
func (c *Client) Capabilities() lighter.Capabilities {
	return lighter.Capabilities{}
}

// List returns the direct children of the prefix via PROPFIND Depth 1.
// WebDAV has no pagination, so the whole listing comes back in one page
// and the continuation token is ignored.
func (c *Client) List(ctx context.Context, q lighter.ListQuery) (lighter.ListResult, error) {
	q = q.Normalized()

	req, err := c.newRequest(ctx, "PROPFIND", q.Prefix, strings.NewReader(propfindBody))
	if err != nil {
		return lighter.ListResult{}, fmt.Errorf("list %q: %w", q.Prefix, err)
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml")

	res, err := c.do(req, "list", q.Prefix, http.StatusMultiStatus)
	if err != nil {
		return lighter.ListResult{}, err
	}
	defer res.Body.Close()

	ms, err := parseMultistatus(res.Body)
	if err != nil {
		return lighter.ListResult{}, fmt.Errorf("list %q: decode multistatus: %w", q.Prefix, lighter.ErrProtocol)
	}

	var result lighter.ListResult
	for _, response := range ms.Responses {
		key, ok := c.relFromHref(response.Href)
		if !ok {
			continue
		}
		p, ok := response.okProp()
		if !ok {
			continue
		}
		if p.isCollection() {
			key = lighter.EnsureDirKey(key)
		}
		// The collection reports itself as the first response.
		if key == q.Prefix || key == "" {
			continue
		}

		// Prefer the server's displayname; fall back to the href segment
		// when the server omits it.
		name := strings.TrimPrefix(key, q.Prefix)
		if dn := strings.TrimSpace(p.DisplayName); dn != "" {
			name = dn
			if p.isCollection() {
				name = lighter.EnsureDirKey(name)
			}
		}

		entry := lighter.ObjectEntry{
			Key:   key,
			Name:  name,
			IsDir: p.isCollection(),
		}
		if entry.IsDir {
			result.Prefixes = append(result.Prefixes, key)
		} else {
			entry.Size = p.size()
			entry.LastModified = p.lastModified()
		}
		result.Objects = append(result.Objects, entry)
	}

	sort.Slice(result.Objects, func(i, j int) bool {
		if result.Objects[i].IsDir != result.Objects[j].IsDir {
			return result.Objects[i].IsDir
		}
		return result.Objects[i].Name < result.Objects[j].Name
	})
	sort.Strings(result.Prefixes)
	return result, nil
}

// Get streams a file. The caller owns the returned body and must close it.
func (c *Client) Get(ctx context.Context, key string) (lighter.ObjectInfo, io.ReadCloser, error) {
	if !lighter.IsValidKey(key) {
		return lighter.ObjectInfo{}, nil, fmt.Errorf("get %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := c.newRequest(ctx, http.MethodGet, key, nil)
	if err != nil {
		return lighter.ObjectInfo{}, nil, fmt.Errorf("get %q: %w", key, err)
	}
	res, err := c.do(req, "get", key, http.StatusOK)
	if err != nil {
		return lighter.ObjectInfo{}, nil, err
	}

	info := lighter.ObjectInfo{
		Key:         key,
		Size:        res.ContentLength,
		ContentType: res.Header.Get("Content-Type"),
		ETag:        strings.Trim(res.Header.Get("Etag"), `"`),
	}
	if t, err := http.ParseTime(res.Header.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	return info, res.Body, nil
}

// Put uploads a file in one request. The parent collection must exist.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if !lighter.IsValidKey(key) {
		return "", fmt.Errorf("put %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := c.newRequest(ctx, http.MethodPut, key, body)
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	req.ContentLength = size
	if contentType == "" {
		contentType = lighter.DefaultContentType
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.do(req, "put", key,
		http.StatusOK, http.StatusCreated, http.StatusNoContent)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	return strings.Trim(res.Header.Get("Etag"), `"`), nil
}

// Delete removes a file or collection. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	if !lighter.IsValidKey(key) {
		return fmt.Errorf("delete %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := c.newRequest(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	res, err := c.do(req, "delete", key,
		http.StatusOK, http.StatusNoContent, http.StatusNotFound)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// Copy duplicates srcKey to destKey server-side. An existing destination is
// reported as a conflict rather than overwritten.
func (c *Client) Copy(ctx context.Context, srcKey, destKey string) error {
	if !lighter.IsValidKey(srcKey) || !lighter.IsValidKey(destKey) {
		return fmt.Errorf("copy %q to %q: %w", srcKey, destKey, lighter.ErrInvalidInput)
	}
	req, err := c.newRequest(ctx, "COPY", srcKey, nil)
	if err != nil {
		return fmt.Errorf("copy %q: %w", srcKey, err)
	}
	req.Header.Set("Destination", c.resourceURL(destKey))
	req.Header.Set("Overwrite", "F")

	res, err := c.do(req, "copy", srcKey, http.StatusCreated, http.StatusNoContent)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// Head fetches metadata via PROPFIND Depth 0. A missing key returns
// (nil, nil).
func (c *Client) Head(ctx context.Context, key string) (*lighter.ObjectInfo, error) {
	if !lighter.IsValidKey(key) {
		return nil, fmt.Errorf("head %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := c.newRequest(ctx, "PROPFIND", key, strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("head %q: %w", key, err)
	}
	req.Header.Set("Depth", "0")
	req.Header.Set("Content-Type", "application/xml")

	res, err := c.do(req, "head", key, http.StatusMultiStatus, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	ms, err := parseMultistatus(res.Body)
	if err != nil || len(ms.Responses) == 0 {
		return nil, fmt.Errorf("head %q: decode multistatus: %w", key, lighter.ErrProtocol)
	}
	p, ok := ms.Responses[0].okProp()
	if !ok {
		return nil, nil
	}
	return &lighter.ObjectInfo{
		Key:          key,
		Size:         p.size(),
		ContentType:  p.GetContentType,
		LastModified: p.lastModified(),
	}, nil
}

// CreateFolder creates a collection. An existing collection is a conflict.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	dirKey := lighter.EnsureDirKey(path)
	if !lighter.IsValidKey(dirKey) {
		return fmt.Errorf("create folder %q: %w", path, lighter.ErrInvalidInput)
	}
	req, err := c.newRequest(ctx, "MKCOL", dirKey, nil)
	if err != nil {
		return fmt.Errorf("create folder %q: %w", path, err)
	}
	res, err := c.do(req, "create folder", dirKey,
		http.StatusCreated, http.StatusMethodNotAllowed)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusMethodNotAllowed {
		return fmt.Errorf("create folder %q: already exists: %w", path, lighter.ErrConflict)
	}
	return nil
}

// SignedURL degrades to the plain resource URL. WebDAV has no presigning,
// so the URL carries no credentials and expires never applies; do not hand
// it to untrusted parties. Capabilities().PresignedURLs is false so callers
// reach here only on purpose.
func (c *Client) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if !lighter.IsValidKey(key) {
		return "", fmt.Errorf("sign %q: %w", key, lighter.ErrInvalidInput)
	}
	return c.resourceURL(key), nil
}

// InitiateMultipart is not available on WebDAV.
func (c *Client) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	return "", fmt.Errorf("multipart upload on webdav: %w", lighter.ErrNotSupported)
}

// PresignPart degrades the same way as SignedURL: the plain resource URL,
// with no credentials and no per-part addressing.
func (c *Client) PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (string, error) {
	if !lighter.IsValidKey(key) {
		return "", fmt.Errorf("presign part %q: %w", key, lighter.ErrInvalidInput)
	}
	return c.resourceURL(key), nil
}

// UploadPart is not available on WebDAV.
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (lighter.Part, error) {
	return lighter.Part{}, fmt.Errorf("multipart upload on webdav: %w", lighter.ErrNotSupported)
}

// CompleteMultipart is a no-op: WebDAV sessions never exist, so generic
// cleanup paths can call it blindly.
func (c *Client) CompleteMultipart(ctx context.Context, key, uploadID string, parts []lighter.Part) error {
	return nil
}

// AbortMultipart is a no-op for the same reason as CompleteMultipart.
func (c *Client) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resourceURL(key), body)
	if err != nil {
		return nil, err
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op, key string, want ...int) (*http.Response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, key, err)
	}
	for _, status := range want {
		if res.StatusCode == status {
			return res, nil
		}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
	return nil, &lighter.StatusError{
		Op:         op,
		Key:        key,
		StatusCode: res.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func (c *Client) resourceURL(key string) string {
	u := *c.endpoint
	u.Path = c.rootPath + "/" + key
	u.RawQuery = ""
	return u.String()
}

// relFromHref turns a multistatus href back into a key relative to the
// client root. Hrefs may be absolute URLs or bare paths, and collection
// hrefs may or may not carry a trailing slash.
func (c *Client) relFromHref(href string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	p := u.Path
	if !strings.HasPrefix(p, c.rootPath) {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, c.rootPath), "/"), true
}
