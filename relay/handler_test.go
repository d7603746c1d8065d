package relay_test

import (
	"bytes"
	"context"
	"encoding/json"
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
	"github.com/quaydock/lighter/keystore"
	"github.com/quaydock/lighter/metrics"
	"github.com/quaydock/lighter/relay"
	"github.com/quaydock/lighter/storage/fs"
)

func newTestServer(t *testing.T, cfg *relay.HandlerConfig, extra map[string]lighter.StorageClient) *httptest.Server {
	t.Helper()

	client, err := fs.New(lighter.StorageConfig{Kind: lighter.KindFS, Endpoint: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	registry := relay.NewRegistry()
	require.NoError(t, registry.Add("local", client))
	for id, c := range extra {
		require.NoError(t, registry.Add(id, c))
	}

	if cfg == nil {
		cfg = &relay.HandlerConfig{}
	}
	srv := httptest.NewServer(relay.NewHandler(cfg, registry).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestBackendsListing(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	res, err := http.Get(srv.URL + "/api/storages")
	require.NoError(t, err)
	backends := decode[[]relay.Backend](t, res)

	require.Len(t, backends, 1)
	assert.Equal(t, "local", backends[0].ID)
	assert.Equal(t, lighter.KindFS, backends[0].Kind)
	assert.False(t, backends[0].Capabilities.Multipart)
}

func TestObjectRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	base := srv.URL + "/api/storages/local"

	// Upload
	req, err := http.NewRequest(http.MethodPut, base+"/objects/docs/hello.txt", strings.NewReader("hello relay"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	put := decode[map[string]string](t, res)
	assert.Equal(t, "docs/hello.txt", put["key"])
	assert.NotEmpty(t, put["etag"])

	// Head
	res, err = http.DefaultClient.Do(mustRequest(t, http.MethodHead, base+"/objects/docs/hello.txt"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// Download
	res, err = http.Get(base + "/objects/docs/hello.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello relay", string(body))

	// List
	res, err = http.Get(base + "/list?prefix=docs/")
	require.NoError(t, err)
	page := decode[lighter.ListResult](t, res)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "hello.txt", page.Objects[0].Name)

	// Delete
	res, err = http.DefaultClient.Do(mustRequest(t, http.MethodDelete, base+"/objects/docs/hello.txt"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	// Gone
	res, err = http.DefaultClient.Do(mustRequest(t, http.MethodHead, base+"/objects/docs/hello.txt"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestGetMissingObject(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	res, err := http.Get(srv.URL + "/api/storages/local/objects/absent.txt")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestUnknownStorage(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	res, err := http.Get(srv.URL + "/api/storages/nope/list")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestInvalidKeyRejected(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	res, err := http.Get(srv.URL + "/api/storages/local/objects/..%2Fetc%2Fpasswd")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestFolderLifecycle(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	base := srv.URL + "/api/storages/local"

	res := doJSON(t, http.MethodPost, base+"/folders", map[string]string{"path": "docs"})
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	res.Body.Close()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		req := mustRequest(t, http.MethodPut, base+"/objects/docs/"+name)
		req.Body = io.NopCloser(strings.NewReader("x"))
		req.ContentLength = 1
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		r.Body.Close()
		require.Equal(t, http.StatusOK, r.StatusCode)
	}

	// Rename the directory
	res = doJSON(t, http.MethodPost, base+"/rename", map[string]string{"path": "docs/", "new_name": "archive"})
	bulk := decode[struct {
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	}](t, res)
	assert.Equal(t, 3, bulk.Completed)
	assert.Equal(t, 0, bulk.Failed)

	// Old prefix is empty, new one holds the files
	r, err := http.Get(base + "/list?prefix=archive/")
	require.NoError(t, err)
	page := decode[lighter.ListResult](t, r)
	assert.Len(t, page.Objects, 3)

	// Recursive delete
	res, err = http.DefaultClient.Do(mustRequest(t, http.MethodDelete, base+"/objects/archive/?recursive=true"))
	require.NoError(t, err)
	bulk = decode[struct {
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	}](t, res)
	assert.Equal(t, 3, bulk.Completed)
	assert.Equal(t, 0, bulk.Failed)
}

func TestMoveObject(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	base := srv.URL + "/api/storages/local"

	req := mustRequest(t, http.MethodPut, base+"/objects/inbox/report.pdf")
	req.Body = io.NopCloser(strings.NewReader("pdf bytes"))
	req.ContentLength = int64(len("pdf bytes"))
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()

	res := doJSON(t, http.MethodPost, base+"/move", map[string]string{"path": "inbox/report.pdf", "dest_dir": "done"})
	bulk := decode[struct {
		Completed int `json:"completed"`
	}](t, res)
	assert.Equal(t, 1, bulk.Completed)

	r, err = http.Get(base + "/objects/done/report.pdf")
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	keys := keystore.NewMapStore(map[string]string{"secret-key": "ci"})
	srv := newTestServer(t, &relay.HandlerConfig{Keys: keys}, nil)

	// Missing key
	res, err := http.Get(srv.URL + "/api/storages")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// Wrong key
	req := mustRequest(t, http.MethodGet, srv.URL+"/api/storages")
	req.Header.Set(relay.APIKeyHeader, "wrong")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	// Valid key
	req = mustRequest(t, http.MethodGet, srv.URL+"/api/storages")
	req.Header.Set(relay.APIKeyHeader, "secret-key")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// Healthz stays public
	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMultipartRelayLifecycle(t *testing.T) {
	stub := newStubMultipartClient()
	srv := newTestServer(t, &relay.HandlerConfig{ChunkSize: 8 << 20, DirectWorkers: 5},
		map[string]lighter.StorageClient{"stub": stub})
	base := srv.URL + "/api/storages/stub"

	// Initiate
	res := doJSON(t, http.MethodPost, base+"/uploads", map[string]string{"key": "big.bin"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	initiated := decode[struct {
		UploadID  string           `json:"upload_id"`
		Strategy  lighter.Strategy `json:"strategy"`
		ChunkSize int64            `json:"chunk_size"`
		Workers   int              `json:"workers"`
	}](t, res)
	assert.NotEmpty(t, initiated.UploadID)
	assert.Equal(t, lighter.StrategyDirect, initiated.Strategy)
	assert.Equal(t, int64(8<<20), initiated.ChunkSize)
	assert.Equal(t, 5, initiated.Workers)

	// Proxy two parts through the relay, out of order
	for _, n := range []int{2, 1} {
		url := fmt.Sprintf("%s/uploads/%s/parts/%d?key=big.bin", base, initiated.UploadID, n)
		req := mustRequest(t, http.MethodPut, url)
		payload := strings.Repeat("p", 8)
		req.Body = io.NopCloser(strings.NewReader(payload))
		req.ContentLength = int64(len(payload))
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		part := decode[lighter.Part](t, r)
		assert.Equal(t, n, part.Number)
		assert.NotEmpty(t, part.ETag)
	}

	// Presign one part
	r, err := http.Get(fmt.Sprintf("%s/uploads/%s/parts/3/presign?key=big.bin", base, initiated.UploadID))
	require.NoError(t, err)
	presigned := decode[map[string]string](t, r)
	assert.Contains(t, presigned["url"], "partNumber=3")

	// Complete with unsorted parts
	res = doJSON(t, http.MethodPost, base+"/uploads/"+initiated.UploadID+"/complete", map[string]any{
		"key":   "big.bin",
		"parts": []lighter.Part{{Number: 2, ETag: "e2"}, {Number: 1, ETag: "e1"}},
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
	assert.True(t, stub.completed)

	// Abort an unrelated upload id is still routed
	req := mustRequest(t, http.MethodDelete, base+"/uploads/"+initiated.UploadID+"?key=big.bin")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestProxyPartFeedsMetrics(t *testing.T) {
	m := metrics.New()
	tm := metrics.NewTransferMetrics(m.Registry())
	stub := newStubMultipartClient()
	srv := newTestServer(t, &relay.HandlerConfig{Metrics: m, TransferMetrics: tm}, map[string]lighter.StorageClient{"stub": stub})

	url := srv.URL + "/api/storages/stub/uploads/u1/parts/1?key=big.bin"
	req := mustRequest(t, http.MethodPut, url)
	req.Body = io.NopCloser(strings.NewReader("1234567890"))
	req.ContentLength = 10
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	r, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `lighter_transfer_parts_total{strategy="proxy"} 1`)
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}

// stubMultipartClient fakes a multipart-capable backend for routes the fs
// variant cannot serve.
type stubMultipartClient struct {
	uploads   map[string][]lighter.Part
	completed bool
}

func newStubMultipartClient() *stubMultipartClient {
	return &stubMultipartClient{uploads: make(map[string][]lighter.Part)}
}

func (s *stubMultipartClient) Kind() lighter.Kind { return lighter.KindS3 }

func (s *stubMultipartClient) Capabilities() lighter.Capabilities {
	return lighter.Capabilities{Multipart: true, PresignedURLs: true}
}

func (s *stubMultipartClient) List(context.Context, lighter.ListQuery) (lighter.ListResult, error) {
	return lighter.ListResult{}, nil
}

func (s *stubMultipartClient) Get(ctx context.Context, key string) (lighter.ObjectInfo, io.ReadCloser, error) {
	return lighter.ObjectInfo{}, nil, fmt.Errorf("get %q: %w", key, lighter.ErrNotFound)
}

func (s *stubMultipartClient) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	_, _ = io.Copy(io.Discard, body)
	return "stub-etag", nil
}

func (s *stubMultipartClient) Delete(context.Context, string) error       { return nil }
func (s *stubMultipartClient) Copy(context.Context, string, string) error { return nil }
func (s *stubMultipartClient) CreateFolder(context.Context, string) error { return nil }

func (s *stubMultipartClient) Head(context.Context, string) (*lighter.ObjectInfo, error) {
	return nil, nil
}

func (s *stubMultipartClient) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://stub.example/" + key + "?signed=1", nil
}

func (s *stubMultipartClient) InitiateMultipart(context.Context, string, string) (string, error) {
	return "upload-1", nil
}

func (s *stubMultipartClient) PresignPart(_ context.Context, key, uploadID string, partNumber int, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://stub.example/%s?partNumber=%d&uploadId=%s", key, partNumber, uploadID), nil
}

func (s *stubMultipartClient) UploadPart(_ context.Context, _ string, uploadID string, partNumber int, body io.Reader, _ int64) (lighter.Part, error) {
	_, _ = io.Copy(io.Discard, body)
	part := lighter.Part{Number: partNumber, ETag: fmt.Sprintf("etag-%d", partNumber)}
	s.uploads[uploadID] = append(s.uploads[uploadID], part)
	return part, nil
}

func (s *stubMultipartClient) CompleteMultipart(_ context.Context, _, _ string, parts []lighter.Part) error {
	if len(parts) == 0 {
		return lighter.ErrProtocol
	}
	s.completed = true
	return nil
}

func (s *stubMultipartClient) AbortMultipart(context.Context, string, string) error { return nil }
