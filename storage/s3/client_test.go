package s3_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/storage/s3"
)

func newTestClient(t *testing.T, handler http.Handler, basePath string) *s3.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := s3.New(lighter.StorageConfig{
		Kind:     lighter.KindS3,
		Endpoint: srv.URL,
		Region:   "us-east-1",
		AccessID: "AKIDEXAMPLE",
		Secret:   "secret",
		Bucket:   "vault",
		BasePath: basePath,
	}, s3.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client
}

func TestNew_Validation(t *testing.T) {
	base := lighter.StorageConfig{
		Kind:     lighter.KindS3,
		Endpoint: "https://s3.example.com",
		AccessID: "AKID",
		Secret:   "secret",
		Bucket:   "vault",
	}

	tests := []struct {
		name   string
		mutate func(*lighter.StorageConfig)
	}{
		{name: "missing endpoint", mutate: func(c *lighter.StorageConfig) { c.Endpoint = "" }},
		{name: "bad scheme", mutate: func(c *lighter.StorageConfig) { c.Endpoint = "ftp://s3.example.com" }},
		{name: "missing bucket", mutate: func(c *lighter.StorageConfig) { c.Bucket = "" }},
		{name: "missing access id", mutate: func(c *lighter.StorageConfig) { c.AccessID = "" }},
		{name: "missing secret", mutate: func(c *lighter.StorageConfig) { c.Secret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := s3.New(cfg)
			assert.ErrorIs(t, err, lighter.ErrConfig)
		})
	}

	_, err := s3.New(base)
	assert.NoError(t, err)
}

func TestClient_List(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/vault", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("list-type"))
		assert.Equal(t, "media/docs/", q.Get("prefix"))
		assert.Equal(t, "/", q.Get("delimiter"))
		assert.Equal(t, "1000", q.Get("max-keys"))
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
	<IsTruncated>true</IsTruncated>
	<NextContinuationToken>token-2</NextContinuationToken>
	<Contents>
		<Key>media/docs/</Key>
		<Size>0</Size>
		<LastModified>2024-03-10T12:00:00.000Z</LastModified>
		<ETag>&quot;d41d8cd9&quot;</ETag>
	</Contents>
	<Contents>
		<Key>media/docs/report.pdf</Key>
		<Size>2048</Size>
		<LastModified>2024-03-11T09:30:00.000Z</LastModified>
		<ETag>&quot;abc123&quot;</ETag>
	</Contents>
	<CommonPrefixes>
		<Prefix>media/docs/archive/</Prefix>
	</CommonPrefixes>
</ListBucketResult>`)
	})

	client := newTestClient(t, handler, "media")
	res, err := client.List(t.Context(), lighter.ListQuery{Prefix: "docs/"})
	require.NoError(t, err)

	assert.True(t, res.IsTruncated)
	assert.Equal(t, "token-2", res.ContinuationToken)
	assert.Equal(t, []string{"docs/archive/"}, res.Prefixes)

	require.Len(t, res.Objects, 2, "the folder's own marker is dropped")
	assert.True(t, res.Objects[0].IsDir)
	assert.Equal(t, "docs/archive/", res.Objects[0].Key)
	assert.Equal(t, "archive/", res.Objects[0].Name)

	file := res.Objects[1]
	assert.Equal(t, "docs/report.pdf", file.Key)
	assert.Equal(t, "report.pdf", file.Name)
	assert.Equal(t, int64(2048), file.Size)
	assert.Equal(t, "abc123", file.ETag)
	assert.False(t, file.IsDir)
}

func TestClient_Put(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/vault/media/docs/a.txt", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		assert.Equal(t, "UNSIGNED-PAYLOAD", r.Header.Get("X-Amz-Content-Sha256"))
		assert.Contains(t, r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/")

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "hello", string(body))

		w.Header().Set("ETag", `"etag-a"`)
	})

	client := newTestClient(t, handler, "media")
	etag, err := client.Put(t.Context(), "docs/a.txt", strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "etag-a", etag)
}

func TestClient_Get(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vault/docs/a.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("ETag", `"etag-a"`)
		w.Header().Set("Last-Modified", "Mon, 11 Mar 2024 09:30:00 GMT")
		fmt.Fprint(w, "hello")
	})
	client := newTestClient(t, handler, "")

	info, body, err := client.Get(t.Context(), "docs/a.txt")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, "etag-a", info.ETag)
	assert.Equal(t, time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC), info.LastModified.UTC())

	_, _, err = client.Get(t.Context(), "docs/missing.txt")
	assert.ErrorIs(t, err, lighter.ErrNotFound)
}

func TestClient_Delete_MissingKeySucceeds(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := newTestClient(t, handler, "")

	assert.NoError(t, client.Delete(t.Context(), "gone.txt"))
}

func TestClient_Copy(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/vault/media/dest/my report.pdf", r.URL.Path)
		assert.Equal(t, "/vault/media/src/my%20report.pdf", r.Header.Get("X-Amz-Copy-Source"))
		fmt.Fprint(w, `<CopyObjectResult><ETag>"etag-copy"</ETag><LastModified>2024-03-11T09:30:00.000Z</LastModified></CopyObjectResult>`)
	})
	client := newTestClient(t, handler, "media")

	err := client.Copy(t.Context(), "src/my report.pdf", "dest/my report.pdf")
	assert.NoError(t, err)
}

func TestClient_Copy_MalformedResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<Error><Code>InternalError</Code></Error>`)
	})
	client := newTestClient(t, handler, "")

	err := client.Copy(t.Context(), "a.txt", "b.txt")
	assert.ErrorIs(t, err, lighter.ErrProtocol)
}

func TestClient_Head(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if r.URL.Path != "/vault/docs/a.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "5")
		w.Header().Set("ETag", `"etag-a"`)
	})
	client := newTestClient(t, handler, "")

	info, err := client.Head(t.Context(), "docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(5), info.Size)

	info, err = client.Head(t.Context(), "docs/missing.txt")
	require.NoError(t, err, "a missing key is not an error")
	assert.Nil(t, info)
}

func TestClient_CreateFolder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/vault/docs/new folder/", r.URL.Path)
		assert.Equal(t, lighter.DirectoryContentType, r.Header.Get("Content-Type"))
	})
	client := newTestClient(t, handler, "")

	assert.NoError(t, client.CreateFolder(t.Context(), "docs/new folder"))
}

func TestClient_SignedURL(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler(), "media")

	signed, err := client.SignedURL(t.Context(), "docs/a.txt", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, signed, "/vault/media/docs/a.txt?")
	assert.Contains(t, signed, "X-Amz-Expires=900")
	assert.Regexp(t, `X-Amz-Signature=[0-9a-f]{64}`, signed)

	_, err = client.SignedURL(t.Context(), "docs/a.txt", 8*24*time.Hour)
	assert.ErrorIs(t, err, lighter.ErrInvalidInput)

	_, err = client.SignedURL(t.Context(), "docs/a.txt", 0)
	assert.ErrorIs(t, err, lighter.ErrInvalidInput)
}

func TestClient_MultipartLifecycle(t *testing.T) {
	var completeBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			assert.Equal(t, "/vault/big.bin", r.URL.Path)
			assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
			fmt.Fprint(w, `<InitiateMultipartUploadResult><Bucket>vault</Bucket><Key>big.bin</Key><UploadId>upload-1</UploadId></InitiateMultipartUploadResult>`)

		case r.Method == http.MethodPut && q.Get("uploadId") == "upload-1":
			data, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			w.Header().Set("ETag", fmt.Sprintf(`"etag-%s-%d"`, q.Get("partNumber"), len(data)))

		case r.Method == http.MethodPost && q.Get("uploadId") == "upload-1":
			data, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			completeBody = string(data)
			fmt.Fprint(w, `<CompleteMultipartUploadResult><Key>big.bin</Key><ETag>"etag-final"</ETag></CompleteMultipartUploadResult>`)

		case r.Method == http.MethodDelete && q.Get("uploadId") == "upload-1":
			w.WriteHeader(http.StatusNoContent)

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	client := newTestClient(t, handler, "")
	ctx := t.Context()

	uploadID, err := client.InitiateMultipart(ctx, "big.bin", "")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", uploadID)

	part2, err := client.UploadPart(ctx, "big.bin", uploadID, 2, strings.NewReader("yyyy"), 4)
	require.NoError(t, err)
	assert.Equal(t, lighter.Part{Number: 2, ETag: "etag-2-4"}, part2)

	part1, err := client.UploadPart(ctx, "big.bin", uploadID, 1, strings.NewReader("xxxxx"), 5)
	require.NoError(t, err)

	// Hand the parts over out of order; the completion body must sort them.
	require.NoError(t, client.CompleteMultipart(ctx, "big.bin", uploadID, []lighter.Part{part2, part1}))
	first := strings.Index(completeBody, "<PartNumber>1</PartNumber>")
	second := strings.Index(completeBody, "<PartNumber>2</PartNumber>")
	require.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, second)
	assert.Contains(t, completeBody, "&#34;etag-1-5&#34;", "etags are quoted in the completion body")

	assert.NoError(t, client.AbortMultipart(ctx, "big.bin", uploadID))
}

func TestClient_AbortMultipart_AlreadyGone(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := newTestClient(t, handler, "")

	assert.NoError(t, client.AbortMultipart(t.Context(), "big.bin", "upload-1"))
}

func TestClient_CompleteMultipart_EmbeddedError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<Error><Code>InvalidPart</Code><Message>One or more parts could not be found.</Message></Error>`)
	})
	client := newTestClient(t, handler, "")

	err := client.CompleteMultipart(t.Context(), "big.bin", "upload-1", []lighter.Part{{Number: 1, ETag: "x"}})
	require.ErrorIs(t, err, lighter.ErrProtocol)
	assert.Contains(t, err.Error(), "InvalidPart")
}

func TestClient_PresignPart(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler(), "")

	signed, err := client.PresignPart(t.Context(), "big.bin", "upload-1", 3, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, signed, "partNumber=3")
	assert.Contains(t, signed, "uploadId=upload-1")
	assert.Regexp(t, `X-Amz-Signature=[0-9a-f]{64}`, signed)

	_, err = client.PresignPart(t.Context(), "big.bin", "", 1, time.Hour)
	assert.ErrorIs(t, err, lighter.ErrInvalidInput)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusForbidden, want: lighter.ErrUnauthorized},
		{status: http.StatusNotFound, want: lighter.ErrNotFound},
		{status: http.StatusConflict, want: lighter.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			client := newTestClient(t, handler, "")

			_, _, err := client.Get(t.Context(), "a.txt")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
