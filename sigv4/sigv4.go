// Package sigv4 implements AWS Signature Version 4 request signing for
// S3-compatible endpoints. It supports both Authorization-header signing
// and presigned query URLs, with an injectable clock for deterministic
// signatures in tests.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// UnsignedPayload is the content hash sentinel used when the body is
	// streamed and its digest is not known up front.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// EmptyPayloadHash is the SHA-256 of a zero-length body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// MaxPresignExpiry is the longest lifetime S3 accepts for a presigned URL.
	MaxPresignExpiry = 7 * 24 * time.Hour

	algorithm  = "AWS4-HMAC-SHA256"
	timeFormat = "20060102T150405Z"
	dateFormat = "20060102"
)

var (
	// ErrMissingCredentials indicates the signer was built without a key pair.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrExpiryRange indicates a presign lifetime outside the accepted range.
	ErrExpiryRange = errors.New("presign expiry out of range")
)

// Headers the transport may rewrite in flight are excluded from signing.
var ignoredHeaders = map[string]bool{
	"Authorization":   true,
	"User-Agent":      true,
	"Accept-Encoding": true,
}

// Credentials is a static access key pair.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Signer signs HTTP requests for a single region and service.
type Signer struct {
	creds   Credentials
	region  string
	service string
	now     func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// New returns a Signer for the given credentials, region and service.
func New(creds Credentials, region, service string, opts ...Option) *Signer {
	s := &Signer{
		creds:   creds,
		region:  region,
		service: service,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign adds X-Amz-Date and an Authorization header to the request. The
// payloadHash is the lowercase hex SHA-256 of the request body; pass
// UnsignedPayload (or "") for streamed bodies. All headers already present
// on the request are included in the signature, so callers must set them
// before signing.
func (s *Signer) Sign(r *http.Request, payloadHash string) error {
	if s.creds.AccessKeyID == "" || s.creds.SecretAccessKey == "" {
		return ErrMissingCredentials
	}
	if payloadHash == "" {
		payloadHash = UnsignedPayload
	}
	t := s.now().UTC()

	r.Header.Set("X-Amz-Date", t.Format(timeFormat))
	if s.service == "s3" {
		r.Header.Set("X-Amz-Content-Sha256", payloadHash)
	}

	signed := signedHeaderNames(r)
	canonical := canonicalRequest(r, signed, payloadHash)
	signature := s.signature(s.stringToSign(canonical, t), t)

	r.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, s.creds.AccessKeyID, s.scope(t), strings.Join(signed, ";"), signature))
	return nil
}

// Presign returns a self-authenticating URL for the request, valid for the
// given duration. Only the host header is signed; query parameters already
// on the request URL are preserved and covered by the signature. The request
// itself is not modified, and the returned URL matches the canonical form
// byte for byte.
func (s *Signer) Presign(r *http.Request, expires time.Duration) (string, error) {
	if s.creds.AccessKeyID == "" || s.creds.SecretAccessKey == "" {
		return "", ErrMissingCredentials
	}
	if expires < time.Second || expires > MaxPresignExpiry {
		return "", fmt.Errorf("%w: %s", ErrExpiryRange, expires)
	}
	t := s.now().UTC()

	query := r.URL.Query()
	query.Set("X-Amz-Algorithm", algorithm)
	query.Set("X-Amz-Credential", s.creds.AccessKeyID+"/"+s.scope(t))
	query.Set("X-Amz-Date", t.Format(timeFormat))
	query.Set("X-Amz-Expires", strconv.Itoa(int(expires.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")

	canonical := strings.Join([]string{
		r.Method,
		canonicalURI(r.URL),
		canonicalQuery(query),
		"host:" + hostOf(r) + "\n",
		"host",
		UnsignedPayload,
	}, "\n")
	signature := s.signature(s.stringToSign(canonical, t), t)
	query.Set("X-Amz-Signature", signature)

	return r.URL.Scheme + "://" + hostOf(r) + canonicalURI(r.URL) + "?" + canonicalQuery(query), nil
}

// PayloadHash returns the lowercase hex SHA-256 of data.
func PayloadHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Signer) scope(t time.Time) string {
	return strings.Join([]string{t.Format(dateFormat), s.region, s.service, "aws4_request"}, "/")
}

func (s *Signer) stringToSign(canonical string, t time.Time) string {
	sum := sha256.Sum256([]byte(canonical))
	return strings.Join([]string{
		algorithm,
		t.Format(timeFormat),
		s.scope(t),
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// signingKey derives the per-day key through the four-step HMAC chain.
func (s *Signer) signingKey(t time.Time) []byte {
	key := hmacSHA256([]byte("AWS4"+s.creds.SecretAccessKey), []byte(t.Format(dateFormat)))
	key = hmacSHA256(key, []byte(s.region))
	key = hmacSHA256(key, []byte(s.service))
	return hmacSHA256(key, []byte("aws4_request"))
}

func (s *Signer) signature(stringToSign string, t time.Time) string {
	return hex.EncodeToString(hmacSHA256(s.signingKey(t), []byte(stringToSign)))
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func canonicalRequest(r *http.Request, signed []string, payloadHash string) string {
	return strings.Join([]string{
		r.Method,
		canonicalURI(r.URL),
		canonicalQuery(r.URL.Query()),
		canonicalHeaders(r, signed),
		strings.Join(signed, ";"),
		payloadHash,
	}, "\n")
}

// canonicalURI percent-encodes each path segment while preserving the
// slashes between them. S3 expects the decoded path encoded exactly once.
func canonicalURI(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return EncodePath(u.Path)
}

// EncodePath percent-encodes each segment of a decoded path, preserving the
// slashes between segments. This is the encoding S3 expects for canonical
// URIs and for the X-Amz-Copy-Source header.
func EncodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = uriEncode(segment)
	}
	return strings.Join(segments, "/")
}

// canonicalQuery sorts parameters by key, then value, and encodes both with
// the strict unreserved-character set (space becomes %20, never +).
func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var pairs []string
	for _, key := range keys {
		values := append([]string(nil), query[key]...)
		sort.Strings(values)
		for _, value := range values {
			pairs = append(pairs, uriEncode(key)+"="+uriEncode(value))
		}
	}
	return strings.Join(pairs, "&")
}

func canonicalHeaders(r *http.Request, signed []string) string {
	var b strings.Builder
	for _, name := range signed {
		b.WriteString(name)
		b.WriteByte(':')
		if name == "host" {
			b.WriteString(hostOf(r))
		} else {
			values := r.Header.Values(name)
			trimmed := make([]string, len(values))
			for i, value := range values {
				trimmed[i] = strings.Join(strings.Fields(value), " ")
			}
			b.WriteString(strings.Join(trimmed, ","))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func signedHeaderNames(r *http.Request) []string {
	names := []string{"host"}
	for name := range r.Header {
		if ignoredHeaders[http.CanonicalHeaderKey(name)] || strings.EqualFold(name, "host") {
			continue
		}
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}

func hostOf(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return r.URL.Host
}

// uriEncode implements the SigV4 variant of RFC 3986 percent-encoding:
// everything outside [A-Za-z0-9-._~] becomes an uppercase %XX escape.
func uriEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
