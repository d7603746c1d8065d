package lighter

import (
	"fmt"
	"sort"
	"time"
)

// Kind identifies the wire protocol a storage backend speaks.
type Kind string

const (
	KindS3     Kind = "s3"
	KindWebDAV Kind = "webdav"
	KindFS     Kind = "fs"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindS3, KindWebDAV, KindFS:
		return true
	default:
		return false
	}
}

func ParseKind(s string) (Kind, error) {
	kind := Kind(s)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid storage kind: %s (valid kinds: s3, webdav, fs)", s)
	}
	return kind, nil
}

// StorageConfig describes one storage backend. It is immutable per client
// instance, owned by the caller, and passed by value into construction.
type StorageConfig struct {
	Kind     Kind   `json:"kind" mapstructure:"kind"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Region   string `json:"region,omitempty" mapstructure:"region"`
	AccessID string `json:"access_id,omitempty" mapstructure:"access_id"`
	Secret   string `json:"-" mapstructure:"secret"`
	Bucket   string `json:"bucket,omitempty" mapstructure:"bucket"`
	BasePath string `json:"base_path,omitempty" mapstructure:"base_path"`
}

// ObjectEntry is one listing row. Key is basePath-relative and never starts
// with "/"; directory keys always end in "/". Name is relative to the listed
// prefix.
type ObjectEntry struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	IsDir        bool      `json:"is_dir"`
	ETag         string    `json:"etag,omitempty"`
}

// MaxListKeys is the per-page listing cap shared by all backends.
const MaxListKeys = 1000

// ListQuery selects one page of a listing. The zero value lists the root
// with the "/" delimiter and the maximum page size.
type ListQuery struct {
	Prefix            string
	Delimiter         string
	MaxKeys           int
	ContinuationToken string
}

// Normalized returns the query with the delimiter defaulted to "/" and
// MaxKeys clamped to 1..MaxListKeys.
func (q ListQuery) Normalized() ListQuery {
	if q.Delimiter == "" {
		q.Delimiter = "/"
	}
	if q.MaxKeys <= 0 || q.MaxKeys > MaxListKeys {
		q.MaxKeys = MaxListKeys
	}
	return q
}

// ListResult is one page of a listing. Objects holds the unified view with
// directories sorted before files; Prefixes holds the raw backend prefixes
// for callers that recurse. ContinuationToken is opaque and backend-specific
// and must be echoed back verbatim.
type ListResult struct {
	Objects           []ObjectEntry `json:"objects"`
	Prefixes          []string      `json:"prefixes"`
	IsTruncated       bool          `json:"is_truncated"`
	ContinuationToken string        `json:"continuation_token,omitempty"`
}

// ObjectInfo is the metadata returned by Get and Head.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag,omitempty"`
}

// Part is one completed piece of a multipart upload. Numbers are 1-based.
type Part struct {
	Number int    `json:"part_number"`
	ETag   string `json:"etag"`
}

// SortParts orders parts by part number in place.
func SortParts(parts []Part) {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
}

// Strategy selects how part bytes reach the backend.
type Strategy string

const (
	// StrategyDirect uploads parts straight to presigned backend URLs.
	StrategyDirect Strategy = "direct"
	// StrategyProxy relays parts through an authenticated server-side upload.
	StrategyProxy Strategy = "proxy"
)

func (s Strategy) IsValid() bool {
	return s == StrategyDirect || s == StrategyProxy
}

// MultipartSession is the in-flight state of one multipart upload. It is
// created by initiate, mutated as parts complete, and consumed by complete
// or abort.
type MultipartSession struct {
	UploadID       string   `json:"upload_id"`
	Key            string   `json:"key"`
	ContentType    string   `json:"content_type"`
	ChunkSize      int64    `json:"chunk_size"`
	TotalParts     int      `json:"total_parts"`
	CompletedParts []Part   `json:"completed_parts"`
	Strategy       Strategy `json:"strategy"`
}

// HasPart reports whether part n has completed.
func (s *MultipartSession) HasPart(n int) bool {
	for _, p := range s.CompletedParts {
		if p.Number == n {
			return true
		}
	}
	return false
}

// RemainingParts returns the 1-based part numbers not yet completed, in
// ascending order.
func (s *MultipartSession) RemainingParts() []int {
	done := make(map[int]bool, len(s.CompletedParts))
	for _, p := range s.CompletedParts {
		done[p.Number] = true
	}
	var remaining []int
	for n := 1; n <= s.TotalParts; n++ {
		if !done[n] {
			remaining = append(remaining, n)
		}
	}
	return remaining
}

// IsComplete reports whether completed parts cover exactly 1..TotalParts
// with no duplicates or gaps.
func (s *MultipartSession) IsComplete() bool {
	if s.TotalParts <= 0 || len(s.CompletedParts) != s.TotalParts {
		return false
	}
	seen := make(map[int]bool, len(s.CompletedParts))
	for _, p := range s.CompletedParts {
		if p.Number < 1 || p.Number > s.TotalParts || seen[p.Number] {
			return false
		}
		seen[p.Number] = true
	}
	return true
}

// Capabilities are the per-backend feature flags callers consult instead of
// switching on Kind.
type Capabilities struct {
	// Multipart reports native multipart upload support.
	Multipart bool `json:"multipart"`
	// PresignedURLs reports support for URLs carrying their own auth.
	PresignedURLs bool `json:"presigned_urls"`
}

// BulkResult reports the outcome of a non-atomic multi-key operation.
// Completed and Failed count per-key results; Errors keeps the first few
// underlying failures for diagnostics.
type BulkResult struct {
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Errors    []error `json:"-"`
}

// maxBulkErrors bounds how many per-key errors a BulkResult retains.
const maxBulkErrors = 5

func (r *BulkResult) ok() {
	r.Completed++
}

func (r *BulkResult) fail(err error) {
	r.Failed++
	if len(r.Errors) < maxBulkErrors {
		r.Errors = append(r.Errors, err)
	}
}

// ErrorMessages returns up to limit retained error messages.
func (r BulkResult) ErrorMessages(limit int) []string {
	if limit <= 0 || limit > len(r.Errors) {
		limit = len(r.Errors)
	}
	msgs := make([]string, 0, limit)
	for _, err := range r.Errors[:limit] {
		msgs = append(msgs, err.Error())
	}
	return msgs
}
