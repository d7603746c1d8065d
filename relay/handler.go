package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/keystore"
	"github.com/quaydock/lighter/metrics"
)

// DefaultSignExpiry is the presign lifetime used when the caller names none.
const DefaultSignExpiry = 15 * time.Minute

// CORSConfig mirrors the cors.Options the gateway exposes through config.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// HandlerConfig wires the gateway's collaborators. Keys nil means public
// access; Metrics nil disables the /metrics endpoint and instrumentation.
type HandlerConfig struct {
	Keys            keystore.Store
	CORS            CORSConfig
	Metrics         *metrics.Metrics
	TransferMetrics *metrics.TransferMetrics

	// Transfer tuning advertised to clients on initiate so they chunk the
	// way the gateway is configured. Zero values are omitted.
	ChunkSize     int64
	DirectWorkers int
	ProxyWorkers  int
}

// Handler exposes a registry of storage backends over HTTP. Every storage
// operation under /api/storages/{storage} goes through the StorageClient
// interface only; the handler never knows which protocol is underneath.
//
// The part-upload route is the proxy-relay target of the transfer engine: a
// direct-mode client PUTs to presigned URLs, a proxy-mode client PUTs part
// bytes here and the handler calls UploadPart with the gateway's own
// credentials.
type Handler struct {
	config   HandlerConfig
	registry *Registry
}

// NewHandler creates a Handler over registry.
func NewHandler(config *HandlerConfig, registry *Registry) *Handler {
	return &Handler{
		config:   *config,
		registry: registry,
	}
}

// Router returns the configured route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	if h.config.Metrics != nil {
		r.Use(h.config.Metrics.Middleware)
	}
	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.config.Metrics != nil {
		r.Handle("/metrics", h.config.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(h.config.Keys))
		r.Get("/storages", h.handleBackends)

		r.Route("/storages/{storage}", func(r chi.Router) {
			r.Get("/list", h.handleList)
			r.Post("/folders", h.handleCreateFolder)
			r.Post("/rename", h.handleRename)
			r.Post("/move", h.handleMove)
			r.Get("/sign", h.handleSignedURL)

			r.Route("/objects", func(r chi.Router) {
				r.Use(KeyValidationMiddleware)
				r.Head("/*", h.handleHead)
				r.Get("/*", h.handleGet)
				r.Put("/*", h.handlePut)
				r.Delete("/*", h.handleDelete)
			})

			r.Route("/uploads", func(r chi.Router) {
				r.Post("/", h.handleInitiate)
				r.Put("/{uploadID}/parts/{partNumber}", h.handleUploadPart)
				r.Get("/{uploadID}/parts/{partNumber}/presign", h.handlePresignPart)
				r.Post("/{uploadID}/complete", h.handleComplete)
				r.Delete("/{uploadID}", h.handleAbort)
			})
		})
	})

	return r
}

// client resolves the {storage} route parameter against the registry.
func (h *Handler) client(r *http.Request) (lighter.StorageClient, error) {
	return h.registry.Get(chi.URLParam(r, "storage"))
}

// objectKey returns the wildcard tail of an /objects/* route, unescaped.
func objectKey(r *http.Request) string {
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		return ""
	}
	return key
}

func (h *Handler) handleBackends(w http.ResponseWriter, _ *http.Request) {
	_ = WriteJSON(w, http.StatusOK, h.registry.Backends())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	query := lighter.ListQuery{
		Prefix:            r.URL.Query().Get("prefix"),
		Delimiter:         r.URL.Query().Get("delimiter"),
		ContinuationToken: r.URL.Query().Get("token"),
	}
	if raw := r.URL.Query().Get("max_keys"); raw != "" {
		if parsed, perr := strconv.Atoi(raw); perr == nil {
			query.MaxKeys = parsed
		}
	}

	result, err := client.List(r.Context(), query)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	info, err := client.Head(r.Context(), objectKey(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	if info == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	setObjectHeaders(w, *info)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	info, body, err := client.Get(r.Context(), objectKey(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = body.Close() }()

	setObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func setObjectHeaders(w http.ResponseWriter, info lighter.ObjectInfo) {
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	if r.ContentLength < 0 {
		WriteError(w, http.StatusLengthRequired, "length_required", "Content-Length is required")
		return
	}

	key := objectKey(r)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = lighter.DefaultContentType
	}

	etag, err := client.Put(r.Context(), key, r.Body, r.ContentLength, contentType)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"key": key, "etag": etag})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	key := objectKey(r)

	if r.URL.Query().Get("recursive") == "true" {
		res, err := lighter.NewFolder(client).RemoveAll(r.Context(), key)
		if err != nil {
			HandleError(w, err)
			return
		}
		writeBulk(w, res)
		return
	}

	if err := client.Delete(r.Context(), key); err != nil {
		HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type folderRequest struct {
	Path string `json:"path"`
}

func (h *Handler) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	var req folderRequest
	if err := decodeBody(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	if err := client.CreateFolder(r.Context(), req.Path); err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, map[string]string{"path": lighter.EnsureDirKey(req.Path)})
}

type renameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	var req renameRequest
	if err := decodeBody(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	res, err := lighter.NewFolder(client).Rename(r.Context(), req.Path, req.NewName)
	if err != nil {
		HandleError(w, err)
		return
	}
	writeBulk(w, res)
}

type moveRequest struct {
	Path    string `json:"path"`
	DestDir string `json:"dest_dir"`
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	res, err := lighter.NewFolder(client).Move(r.Context(), req.Path, req.DestDir)
	if err != nil {
		HandleError(w, err)
		return
	}
	writeBulk(w, res)
}

func (h *Handler) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	key := r.URL.Query().Get("key")
	if !lighter.IsValidKey(key) {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid object key")
		return
	}

	signed, err := client.SignedURL(r.Context(), key, expiresParam(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"url": signed})
}

type initiateRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

type initiateResponse struct {
	UploadID  string           `json:"upload_id"`
	Strategy  lighter.Strategy `json:"strategy"`
	ChunkSize int64            `json:"chunk_size,omitempty"`
	Workers   int              `json:"workers,omitempty"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	var req initiateRequest
	if err := decodeBody(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if !lighter.IsValidKey(req.Key) || lighter.IsDirKey(req.Key) {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid object key")
		return
	}
	if req.ContentType == "" {
		req.ContentType = lighter.DefaultContentType
	}

	uploadID, err := client.InitiateMultipart(r.Context(), req.Key, req.ContentType)
	if err != nil {
		HandleError(w, err)
		return
	}

	strategy := lighter.StrategyProxy
	workers := h.config.ProxyWorkers
	if client.Capabilities().PresignedURLs {
		strategy = lighter.StrategyDirect
		workers = h.config.DirectWorkers
	}
	_ = WriteJSON(w, http.StatusCreated, initiateResponse{
		UploadID:  uploadID,
		Strategy:  strategy,
		ChunkSize: h.config.ChunkSize,
		Workers:   workers,
	})
}

func (h *Handler) handleUploadPart(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	key := r.URL.Query().Get("key")
	if !lighter.IsValidKey(key) {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid object key")
		return
	}
	partNumber, err := strconv.Atoi(chi.URLParam(r, "partNumber"))
	if err != nil || partNumber < 1 {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid part number")
		return
	}
	if r.ContentLength < 0 {
		WriteError(w, http.StatusLengthRequired, "length_required", "Content-Length is required")
		return
	}

	part, err := client.UploadPart(r.Context(), key, chi.URLParam(r, "uploadID"), partNumber, r.Body, r.ContentLength)
	if err != nil {
		HandleError(w, err)
		return
	}
	if h.config.TransferMetrics != nil {
		h.config.TransferMetrics.RecordProxyPart(r.ContentLength)
	}
	_ = WriteJSON(w, http.StatusOK, part)
}

func (h *Handler) handlePresignPart(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	key := r.URL.Query().Get("key")
	if !lighter.IsValidKey(key) {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid object key")
		return
	}
	partNumber, err := strconv.Atoi(chi.URLParam(r, "partNumber"))
	if err != nil || partNumber < 1 {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid part number")
		return
	}

	signed, err := client.PresignPart(r.Context(), key, chi.URLParam(r, "uploadID"), partNumber, expiresParam(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"url": signed})
}

type completeRequest struct {
	Key   string         `json:"key"`
	Parts []lighter.Part `json:"parts"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if !lighter.IsValidKey(req.Key) {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid object key")
		return
	}
	if len(req.Parts) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_input", "at least one part is required")
		return
	}

	if err := client.CompleteMultipart(r.Context(), req.Key, chi.URLParam(r, "uploadID"), req.Parts); err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"key": req.Key, "parts": len(req.Parts)})
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	client, err := h.client(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	key := r.URL.Query().Get("key")
	if !lighter.IsValidKey(key) {
		WriteError(w, http.StatusBadRequest, "invalid_input", "invalid object key")
		return
	}

	if err := client.AbortMultipart(r.Context(), key, chi.URLParam(r, "uploadID")); err != nil {
		HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bulkResponse flattens BulkResult for the wire, with error messages
// readable instead of the unexported error slice.
type bulkResponse struct {
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Messages  []string `json:"messages,omitempty"`
}

func writeBulk(w http.ResponseWriter, res lighter.BulkResult) {
	code := http.StatusOK
	if res.Failed > 0 {
		code = http.StatusMultiStatus
	}
	_ = WriteJSON(w, code, bulkResponse{
		Completed: res.Completed,
		Failed:    res.Failed,
		Messages:  res.ErrorMessages(0),
	})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(err, lighter.ErrInvalidInput))
	}
	return nil
}

func expiresParam(r *http.Request) time.Duration {
	if raw := r.URL.Query().Get("expires"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return DefaultSignExpiry
}
