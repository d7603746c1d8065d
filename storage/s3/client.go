// Package s3 talks the S3 REST API directly over signed HTTP requests.
// It works against AWS and S3-compatible servers such as MinIO, using
// path-style addressing so custom endpoints behave the same as AWS ones.
package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/sigv4"
)

const defaultRegion = "us-east-1"

// errorBodyLimit caps how much of an error response is kept for messages.
const errorBodyLimit = 4 << 10

// Client is a StorageClient backed by an S3 bucket.
type Client struct {
	endpoint *url.URL
	bucket   string
	signer   *sigv4.Signer
	resolver lighter.PathResolver
	http     *http.Client
	now      func() time.Time
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

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New builds a Client from cfg. The endpoint must carry an http or https
// scheme; the region defaults to us-east-1 when unset, which is what
// S3-compatible servers expect.
func New(cfg lighter.StorageConfig, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3: endpoint is required: %w", lighter.ErrConfig)
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("s3: parse endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("s3: endpoint scheme %q is not supported: %w", endpoint.Scheme, lighter.ErrConfig)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required: %w", lighter.ErrConfig)
	}
	if cfg.AccessID == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("s3: credentials are required: %w", lighter.ErrConfig)
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	c := &Client{
		endpoint: endpoint,
		bucket:   cfg.Bucket,
		resolver: lighter.NewPathResolver(cfg.BasePath),
		http:     &http.Client{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = sigv4.New(
		sigv4.Credentials{AccessKeyID: cfg.AccessID, SecretAccessKey: cfg.Secret},
		region, "s3",
		sigv4.WithClock(c.now),
	)
	return c, nil
}

// Kind reports the backend protocol.
func (c *Client) Kind() lighter.Kind { return lighter.KindS3 }

// Capabilities reports what this backend supports natively.
func (c *Client) Capabilities() lighter.Capabilities {
	return lighter.Capabilities{Multipart: true, PresignedURLs: true}
}

// List runs a single ListObjectsV2 page. Directories roll up under the
// delimiter as common prefixes and come back before files; the folder's own
// marker object never appears in the result.
func (c *Client) List(ctx context.Context, q lighter.ListQuery) (lighter.ListResult, error) {
	q = q.Normalized()

	query := url.Values{}
	query.Set("list-type", "2")
	query.Set("prefix", c.resolver.Abs(q.Prefix))
	query.Set("max-keys", strconv.Itoa(q.MaxKeys))
	if q.Delimiter != "" {
		query.Set("delimiter", q.Delimiter)
	}
	if q.ContinuationToken != "" {
		query.Set("continuation-token", q.ContinuationToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bucketURL(query), nil)
	if err != nil {
		return lighter.ListResult{}, fmt.Errorf("list %q: %w", q.Prefix, err)
	}
	res, err := c.do(req, sigv4.EmptyPayloadHash, "list", q.Prefix, http.StatusOK)
	if err != nil {
		return lighter.ListResult{}, err
	}
	defer res.Body.Close()

	var parsed listBucketResult
	if err := xml.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return lighter.ListResult{}, fmt.Errorf("list %q: decode response: %w", q.Prefix, lighter.ErrProtocol)
	}

	result := lighter.ListResult{
		IsTruncated:       parsed.IsTruncated,
		ContinuationToken: parsed.NextContinuationToken,
	}
	for _, cp := range parsed.CommonPrefixes {
		rel := c.resolver.Rel(cp.Prefix)
		result.Prefixes = append(result.Prefixes, rel)
		result.Objects = append(result.Objects, lighter.ObjectEntry{
			Key:   rel,
			Name:  strings.TrimPrefix(rel, q.Prefix),
			IsDir: true,
		})
	}
	for _, obj := range parsed.Contents {
		rel := c.resolver.Rel(obj.Key)
		if rel == q.Prefix {
			continue
		}
		result.Objects = append(result.Objects, lighter.ObjectEntry{
			Key:          rel,
			Name:         strings.TrimPrefix(rel, q.Prefix),
			Size:         obj.Size,
			LastModified: obj.LastModified,
			IsDir:        lighter.IsDirKey(rel),
			ETag:         trimETag(obj.ETag),
		})
	}
	return result, nil
}

// Get streams an object. The caller owns the returned body and must close it.
func (c *Client) Get(ctx context.Context, key string) (lighter.ObjectInfo, io.ReadCloser, error) {
	if !lighter.IsValidKey(key) {
		return lighter.ObjectInfo{}, nil, fmt.Errorf("get %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key, nil), nil)
	if err != nil {
		return lighter.ObjectInfo{}, nil, fmt.Errorf("get %q: %w", key, err)
	}
	res, err := c.do(req, sigv4.EmptyPayloadHash, "get", key, http.StatusOK)
	if err != nil {
		return lighter.ObjectInfo{}, nil, err
	}
	return infoFromHeaders(key, res), res.Body, nil
}

// Put uploads a single object in one request. The body is streamed, so it is
// signed with the unsigned-payload sentinel.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if !lighter.IsValidKey(key) {
		return "", fmt.Errorf("put %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key, nil), body)
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	req.ContentLength = size
	if contentType == "" {
		contentType = lighter.DefaultContentType
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.do(req, sigv4.UnsignedPayload, "put", key, http.StatusOK)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	return trimETag(res.Header.Get("Etag")), nil
}

// Delete removes an object. Deleting a key that does not exist succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	if !lighter.IsValidKey(key) {
		return fmt.Errorf("delete %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key, nil), nil)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	res, err := c.do(req, sigv4.EmptyPayloadHash, "delete", key,
		http.StatusNoContent, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// Copy duplicates srcKey to destKey server-side.
func (c *Client) Copy(ctx context.Context, srcKey, destKey string) error {
	if !lighter.IsValidKey(srcKey) || !lighter.IsValidKey(destKey) {
		return fmt.Errorf("copy %q to %q: %w", srcKey, destKey, lighter.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(destKey, nil), nil)
	if err != nil {
		return fmt.Errorf("copy %q: %w", srcKey, err)
	}
	req.Header.Set("X-Amz-Copy-Source", sigv4.EncodePath("/"+c.bucket+"/"+c.resolver.Abs(srcKey)))

	res, err := c.do(req, sigv4.EmptyPayloadHash, "copy", srcKey, http.StatusOK)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// A 200 is not enough: S3 reports copy failures inside the body.
	var result copyObjectResult
	if err := xml.NewDecoder(res.Body).Decode(&result); err != nil || result.ETag == "" {
		return fmt.Errorf("copy %q to %q: unexpected response: %w", srcKey, destKey, lighter.ErrProtocol)
	}
	return nil
}

// Head fetches object metadata. A missing key returns (nil, nil).
func (c *Client) Head(ctx context.Context, key string) (*lighter.ObjectInfo, error) {
	if !lighter.IsValidKey(key) {
		return nil, fmt.Errorf("head %q: %w", key, lighter.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.objectURL(key, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("head %q: %w", key, err)
	}
	res, err := c.do(req, sigv4.EmptyPayloadHash, "head", key, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	info := infoFromHeaders(key, res)
	return &info, nil
}

// CreateFolder writes the zero-byte marker object that makes an empty
// directory visible in listings.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	dirKey := lighter.EnsureDirKey(path)
	if !lighter.IsValidKey(dirKey) {
		return fmt.Errorf("create folder %q: %w", path, lighter.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(dirKey, nil), nil)
	if err != nil {
		return fmt.Errorf("create folder %q: %w", path, err)
	}
	req.ContentLength = 0
	req.Header.Set("Content-Type", lighter.DirectoryContentType)

	res, err := c.do(req, sigv4.EmptyPayloadHash, "create folder", dirKey, http.StatusOK)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// SignedURL returns a presigned GET for the object.
func (c *Client) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if !lighter.IsValidKey(key) {
		return "", fmt.Errorf("sign url %q: %w", key, lighter.ErrInvalidInput)
	}
	if expires < time.Second || expires > sigv4.MaxPresignExpiry {
		return "", fmt.Errorf("sign url %q: expiry %s: %w", key, expires, lighter.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key, nil), nil)
	if err != nil {
		return "", fmt.Errorf("sign url %q: %w", key, err)
	}
	return c.signer.Presign(req, expires)
}

// InitiateMultipart starts a multipart upload and returns its upload ID.
func (c *Client) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if !lighter.IsValidKey(key) {
		return "", fmt.Errorf("initiate multipart %q: %w", key, lighter.ErrInvalidInput)
	}
	query := url.Values{"uploads": {""}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(key, query), nil)
	if err != nil {
		return "", fmt.Errorf("initiate multipart %q: %w", key, err)
	}
	if contentType == "" {
		contentType = lighter.DefaultContentType
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.do(req, sigv4.EmptyPayloadHash, "initiate multipart", key, http.StatusOK)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var result initiateMultipartUploadResult
	if err := xml.NewDecoder(res.Body).Decode(&result); err != nil || result.UploadID == "" {
		return "", fmt.Errorf("initiate multipart %q: decode response: %w", key, lighter.ErrProtocol)
	}
	return result.UploadID, nil
}

// PresignPart returns a presigned PUT for one part of an open upload, so
// the bytes can flow to the storage without passing through this process.
func (c *Client) PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (string, error) {
	if !lighter.IsValidKey(key) || uploadID == "" || partNumber < 1 {
		return "", fmt.Errorf("presign part %d of %q: %w", partNumber, key, lighter.ErrInvalidInput)
	}
	if expires < time.Second || expires > sigv4.MaxPresignExpiry {
		return "", fmt.Errorf("presign part %d of %q: expiry %s: %w", partNumber, key, expires, lighter.ErrInvalidInput)
	}
	query := url.Values{
		"partNumber": {strconv.Itoa(partNumber)},
		"uploadId":   {uploadID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key, query), nil)
	if err != nil {
		return "", fmt.Errorf("presign part %d of %q: %w", partNumber, key, err)
	}
	return c.signer.Presign(req, expires)
}

// UploadPart sends one part through this process using header auth.
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64) (lighter.Part, error) {
	if !lighter.IsValidKey(key) || uploadID == "" || partNumber < 1 {
		return lighter.Part{}, fmt.Errorf("upload part %d of %q: %w", partNumber, key, lighter.ErrInvalidInput)
	}
	query := url.Values{
		"partNumber": {strconv.Itoa(partNumber)},
		"uploadId":   {uploadID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key, query), body)
	if err != nil {
		return lighter.Part{}, fmt.Errorf("upload part %d of %q: %w", partNumber, key, err)
	}
	req.ContentLength = size

	res, err := c.do(req, sigv4.UnsignedPayload, "upload part", key, http.StatusOK)
	if err != nil {
		return lighter.Part{}, err
	}
	res.Body.Close()

	etag := trimETag(res.Header.Get("Etag"))
	if etag == "" {
		return lighter.Part{}, fmt.Errorf("upload part %d of %q: missing etag: %w", partNumber, key, lighter.ErrProtocol)
	}
	return lighter.Part{Number: partNumber, ETag: etag}, nil
}

// CompleteMultipart assembles the uploaded parts into the final object.
// Parts are sorted by part number before being sent.
func (c *Client) CompleteMultipart(ctx context.Context, key, uploadID string, parts []lighter.Part) error {
	if !lighter.IsValidKey(key) || uploadID == "" {
		return fmt.Errorf("complete multipart %q: %w", key, lighter.ErrInvalidInput)
	}
	if len(parts) == 0 {
		return fmt.Errorf("complete multipart %q: no parts: %w", key, lighter.ErrInvalidInput)
	}

	sorted := slices.Clone(parts)
	lighter.SortParts(sorted)
	payload := completeMultipartUpload{Xmlns: docNamespace}
	for _, part := range sorted {
		payload.Parts = append(payload.Parts, completePart{
			PartNumber: part.Number,
			ETag:       quoteETag(part.ETag),
		})
	}
	body, err := xml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("complete multipart %q: encode request: %w", key, err)
	}

	query := url.Values{"uploadId": {uploadID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(key, query), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("complete multipart %q: %w", key, err)
	}
	req.Header.Set("Content-Type", "application/xml")

	res, err := c.do(req, sigv4.PayloadHash(body), "complete multipart", key, http.StatusOK)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// S3 may answer 200 and still report failure in the body.
	raw, err := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
	if err != nil {
		return fmt.Errorf("complete multipart %q: read response: %w", key, err)
	}
	var result completeMultipartUploadResult
	if err := xml.Unmarshal(raw, &result); err != nil {
		var apiErr apiError
		if xml.Unmarshal(raw, &apiErr) == nil && apiErr.Code != "" {
			return fmt.Errorf("complete multipart %q: %s: %s: %w", key, apiErr.Code, apiErr.Message, lighter.ErrProtocol)
		}
		return fmt.Errorf("complete multipart %q: unexpected response: %w", key, lighter.ErrProtocol)
	}
	return nil
}

// AbortMultipart discards an open upload and its parts. Aborting an upload
// that no longer exists succeeds, so cleanup can always run.
func (c *Client) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if !lighter.IsValidKey(key) || uploadID == "" {
		return fmt.Errorf("abort multipart %q: %w", key, lighter.ErrInvalidInput)
	}
	query := url.Values{"uploadId": {uploadID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key, query), nil)
	if err != nil {
		return fmt.Errorf("abort multipart %q: %w", key, err)
	}
	res, err := c.do(req, sigv4.EmptyPayloadHash, "abort multipart", key,
		http.StatusNoContent, http.StatusNotFound)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// do signs the request, sends it, and turns any unexpected status into a
// StatusError carrying the start of the response body.
func (c *Client) do(req *http.Request, payloadHash, op, key string, want ...int) (*http.Response, error) {
	if err := c.signer.Sign(req, payloadHash); err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, key, err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", op, key, err)
	}
	if !slices.Contains(want, res.StatusCode) {
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
		return nil, &lighter.StatusError{
			Op:         op,
			Key:        key,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return res, nil
}

func (c *Client) bucketURL(query url.Values) string {
	u := *c.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/" + c.bucket
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) objectURL(key string, query url.Values) string {
	u := *c.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/" + c.bucket + "/" + c.resolver.Abs(key)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func infoFromHeaders(key string, res *http.Response) lighter.ObjectInfo {
	info := lighter.ObjectInfo{
		Key:         key,
		Size:        res.ContentLength,
		ContentType: res.Header.Get("Content-Type"),
		ETag:        trimETag(res.Header.Get("Etag")),
	}
	if t, err := http.ParseTime(res.Header.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	return info
}
