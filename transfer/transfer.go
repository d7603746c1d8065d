// Package transfer orchestrates resumable uploads on top of a
// lighter.StorageClient. Large files are split into fixed-size parts drained
// by a bounded worker pool; progress is persisted through a
// lighter.SessionStore after every completed part so an interrupted transfer
// can pick up where it stopped. Uploads start on presigned URLs when the
// backend offers them and permanently downgrade to authenticated part
// uploads on the first direct failure.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/quaydock/lighter"
)

const (
	// DefaultChunkSize splits files into 16 MiB parts.
	DefaultChunkSize int64 = 16 << 20

	// DefaultDirectWorkers bounds concurrent presigned part uploads.
	DefaultDirectWorkers = 5

	// DefaultProxyWorkers bounds concurrent authenticated part uploads.
	DefaultProxyWorkers = 3

	// DefaultPartExpiry is how long presigned part URLs stay valid.
	DefaultPartExpiry = 15 * time.Minute
)

// ConfirmFunc decides whether a previously persisted session should be
// resumed. Returning false aborts the stale backend upload, deletes the
// record, and starts the transfer from scratch.
type ConfirmFunc func(rec lighter.SessionRecord) bool

// Request describes one upload. Content must stay readable for the whole
// transfer; workers read parts concurrently by offset.
type Request struct {
	Key         string
	FileName    string
	ContentType string
	Content     io.ReaderAt
	Size        int64
}

// Result summarizes a finished upload.
type Result struct {
	Key string

	// Multipart is false when the file fit in a single put or the backend
	// has no multipart support.
	Multipart bool

	// Parts is the total part count of the object, 1 for single puts.
	Parts int

	// ETag is set for single puts only.
	ETag string

	// Strategy is the strategy the transfer ended on. Zero for single puts.
	Strategy lighter.Strategy

	Resumed    bool
	Downgraded bool
	BytesSent  int64
	Elapsed    time.Duration
}

// Uploader drives uploads against one storage backend. Distinct files can
// upload concurrently; callers must not run two transfers of the same
// (path, size) pair at once.
type Uploader struct {
	client        lighter.StorageClient
	store         lighter.SessionStore
	storageID     string
	chunkSize     int64
	directWorkers int
	proxyWorkers  int
	partExpiry    time.Duration
	confirm       ConfirmFunc
	observer      Observer
	progressFn    func(Progress)
	http          *http.Client
	now           func() time.Time
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithChunkSize sets the part size for multipart uploads. Files at or below
// this size go up in a single put.
func WithChunkSize(n int64) Option {
	return func(u *Uploader) {
		u.chunkSize = n
	}
}

// WithWorkers sets the pool sizes for the direct and proxy phases.
func WithWorkers(direct, proxy int) Option {
	return func(u *Uploader) {
		u.directWorkers = direct
		u.proxyWorkers = proxy
	}
}

// WithPartExpiry sets the validity window requested for presigned part URLs.
func WithPartExpiry(d time.Duration) Option {
	return func(u *Uploader) {
		u.partExpiry = d
	}
}

// WithConfirm sets the callback consulted before resuming a persisted
// session. Without one, resumable sessions are resumed silently.
func WithConfirm(fn ConfirmFunc) Option {
	return func(u *Uploader) {
		u.confirm = fn
	}
}

// WithObserver subscribes o to transfer lifecycle events.
func WithObserver(o Observer) Option {
	return func(u *Uploader) {
		u.observer = o
	}
}

// WithProgress registers fn to receive a snapshot after every state change
// and as upload bodies stream, so progress moves within a part. Workers run
// concurrently; fn must be safe for concurrent use.
func WithProgress(fn func(Progress)) Option {
	return func(u *Uploader) {
		u.progressFn = fn
	}
}

// WithHTTPClient sets the client used for raw PUTs to presigned URLs.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Uploader) {
		u.http = client
	}
}

// WithClock overrides the time source used for speed calculation.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) {
		u.now = now
	}
}

// New builds an Uploader for one backend. storageID keys persisted sessions
// and must stay stable across runs for resume to find them.
func New(storageID string, client lighter.StorageClient, store lighter.SessionStore, opts ...Option) (*Uploader, error) {
	if storageID == "" {
		return nil, fmt.Errorf("storage id is required: %w", lighter.ErrConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("storage client is required: %w", lighter.ErrConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required: %w", lighter.ErrConfig)
	}

	u := &Uploader{
		client:        client,
		store:         store,
		storageID:     storageID,
		chunkSize:     DefaultChunkSize,
		directWorkers: DefaultDirectWorkers,
		proxyWorkers:  DefaultProxyWorkers,
		partExpiry:    DefaultPartExpiry,
		observer:      noopObserver{},
		http:          &http.Client{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}

	if u.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive: %w", lighter.ErrConfig)
	}
	if u.directWorkers <= 0 || u.proxyWorkers <= 0 {
		return nil, fmt.Errorf("worker counts must be positive: %w", lighter.ErrConfig)
	}
	if u.observer == nil {
		u.observer = noopObserver{}
	}
	return u, nil
}

// Upload moves req.Content to req.Key and blocks until the transfer reaches
// a terminal state. Files larger than the chunk size upload as
// ceil(size/chunk) parts when the backend supports multipart; everything
// else streams as one put. Context cancellation stops the transfer between
// parts and keeps both the backend upload and the session record alive for
// a later resume.
func (u *Uploader) Upload(ctx context.Context, req Request) (*Result, error) {
	if !lighter.IsValidKey(req.Key) || lighter.IsDirKey(req.Key) {
		return nil, fmt.Errorf("invalid upload key %q: %w", req.Key, lighter.ErrInvalidInput)
	}
	if req.Content == nil || req.Size < 0 {
		return nil, fmt.Errorf("upload %q: content and size are required: %w", req.Key, lighter.ErrInvalidInput)
	}
	if req.ContentType == "" {
		req.ContentType = lighter.DefaultContentType
	}
	if req.FileName == "" {
		req.FileName = lighter.BaseName(req.Key)
	}

	tr := newTracker(u.now, req.Size)
	u.observer.TransferStarted(req.Key, req.Size)
	defer func() {
		u.observer.TransferFinished(req.Key, tr.State())
	}()

	caps := u.client.Capabilities()
	if !caps.Multipart || req.Size <= u.chunkSize {
		return u.uploadWhole(ctx, req, tr)
	}
	return u.uploadParts(ctx, req, tr, caps)
}

// Abort discards the persisted session for (path, size) along with its
// backend upload. A missing session is not an error.
func (u *Uploader) Abort(ctx context.Context, path string, size int64) error {
	key := lighter.SessionKey{StorageID: u.storageID, Path: path, Size: size}
	rec, err := u.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load session %q: %w", path, err)
	}
	if rec == nil {
		return nil
	}
	if err := u.client.AbortMultipart(ctx, path, rec.Session.UploadID); err != nil {
		return fmt.Errorf("abort %q: %w", path, err)
	}
	if err := u.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear session %q: %w", path, err)
	}
	return nil
}

// uploadWhole streams the entire content as one put.
func (u *Uploader) uploadWhole(ctx context.Context, req Request, tr *tracker) (*Result, error) {
	tr.setTotalParts(1)
	u.setState(tr, StatePartInFlight)

	body := &meteredReader{
		r:      io.NewSectionReader(req.Content, 0, req.Size),
		tr:     tr,
		notify: func() { u.emit(tr) },
	}
	etag, err := u.client.Put(ctx, req.Key, body, req.Size, req.ContentType)
	if err != nil {
		u.fail(tr, ctx)
		return nil, fmt.Errorf("upload %q: %w", req.Key, err)
	}

	tr.finishPart()
	u.setState(tr, StateDone)
	return &Result{
		Key:       req.Key,
		Parts:     1,
		ETag:      etag,
		BytesSent: tr.sentBytes(),
		Elapsed:   u.now().Sub(tr.started),
	}, nil
}

// uploadParts runs the multipart state machine: open or resume a session,
// drain the remaining parts, then stitch the object together.
func (u *Uploader) uploadParts(ctx context.Context, req Request, tr *tracker, caps lighter.Capabilities) (*Result, error) {
	key := lighter.SessionKey{StorageID: u.storageID, Path: req.Key, Size: req.Size}

	session, resumed, err := u.openSession(ctx, key, req, caps)
	if err != nil {
		u.fail(tr, ctx)
		return nil, err
	}
	tr.initParts(session, req.Size)
	u.setState(tr, StateInitiated)

	res := &Result{
		Key:       req.Key,
		Multipart: true,
		Parts:     session.TotalParts,
		Resumed:   resumed,
	}

	run := &partRun{u: u, req: req, key: key, session: session, tr: tr}
	if !session.IsComplete() {
		u.setState(tr, StatePartInFlight)
	}

	if session.Strategy == lighter.StrategyDirect {
		err = run.drain(ctx, lighter.StrategyDirect, u.directWorkers)
		if err != nil && ctx.Err() == nil {
			// First direct failure: switch the whole transfer to proxy.
			// Unfinished parts, the failed one included, re-queue below.
			session.Strategy = lighter.StrategyProxy
			if perr := u.persist(ctx, key, req, session); perr != nil {
				u.fail(tr, ctx)
				return nil, perr
			}
			tr.setStrategy(lighter.StrategyProxy)
			res.Downgraded = true
			u.observer.StrategyDowngraded(req.Key)
			err = nil
		}
	}
	if err == nil && !session.IsComplete() {
		err = run.drain(ctx, lighter.StrategyProxy, u.proxyWorkers)
	}
	if err != nil {
		u.fail(tr, ctx)
		return nil, fmt.Errorf("upload %q: %w", req.Key, err)
	}

	u.setState(tr, StatePartsComplete)

	parts := slices.Clone(session.CompletedParts)
	lighter.SortParts(parts)
	u.setState(tr, StateCompleting)
	if err := u.client.CompleteMultipart(ctx, req.Key, session.UploadID, parts); err != nil {
		u.fail(tr, ctx)
		return nil, fmt.Errorf("complete %q: %w", req.Key, err)
	}
	if err := u.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		u.fail(tr, ctx)
		return nil, fmt.Errorf("clear session %q: %w", req.Key, err)
	}

	u.setState(tr, StateDone)
	res.Strategy = session.Strategy
	res.BytesSent = tr.sentBytes()
	res.Elapsed = u.now().Sub(tr.started)
	return res, nil
}

// openSession returns the session to drive: a resumed one when a record
// exists and the caller accepts it, otherwise a freshly initiated one.
func (u *Uploader) openSession(ctx context.Context, key lighter.SessionKey, req Request, caps lighter.Capabilities) (*lighter.MultipartSession, bool, error) {
	rec, err := u.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load session %q: %w", req.Key, err)
	}
	if rec != nil {
		if u.confirm == nil || u.confirm(*rec) {
			session := rec.Session
			if session.ChunkSize <= 0 || session.TotalParts <= 0 {
				return nil, false, fmt.Errorf("resume %q: malformed session record: %w", req.Key, lighter.ErrProtocol)
			}
			if session.Strategy == lighter.StrategyDirect && !caps.PresignedURLs {
				session.Strategy = lighter.StrategyProxy
			}
			return &session, true, nil
		}
		if err := u.client.AbortMultipart(ctx, req.Key, rec.Session.UploadID); err != nil {
			return nil, false, fmt.Errorf("abort stale session %q: %w", req.Key, err)
		}
		if err := u.store.Delete(ctx, key); err != nil {
			return nil, false, fmt.Errorf("clear stale session %q: %w", req.Key, err)
		}
	}

	uploadID, err := u.client.InitiateMultipart(ctx, req.Key, req.ContentType)
	if err != nil {
		return nil, false, fmt.Errorf("initiate %q: %w", req.Key, err)
	}
	strategy := lighter.StrategyProxy
	if caps.PresignedURLs {
		strategy = lighter.StrategyDirect
	}
	session := &lighter.MultipartSession{
		UploadID:       uploadID,
		Key:            req.Key,
		ContentType:    req.ContentType,
		ChunkSize:      u.chunkSize,
		TotalParts:     int((req.Size + u.chunkSize - 1) / u.chunkSize),
		CompletedParts: []lighter.Part{},
		Strategy:       strategy,
	}
	if err := u.persist(ctx, key, req, session); err != nil {
		return nil, false, err
	}
	return session, false, nil
}

// persist writes the session record. It survives cancellation on purpose:
// progress made before a cancel must stay resumable.
func (u *Uploader) persist(ctx context.Context, key lighter.SessionKey, req Request, session *lighter.MultipartSession) error {
	rec := lighter.SessionRecord{Key: key, Session: *session, FileName: req.FileName}
	rec.Session.CompletedParts = slices.Clone(session.CompletedParts)
	if err := u.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("persist session %q: %w", req.Key, err)
	}
	return nil
}

func (u *Uploader) setState(tr *tracker, s State) {
	tr.setState(s)
	u.emit(tr)
}

// fail marks the run aborted when the context was cancelled, errored
// otherwise.
func (u *Uploader) fail(tr *tracker, ctx context.Context) {
	if ctx.Err() != nil {
		u.setState(tr, StateAborting)
		u.setState(tr, StateAborted)
		return
	}
	u.setState(tr, StateErrored)
}

func (u *Uploader) emit(tr *tracker) {
	if u.progressFn != nil {
		u.progressFn(tr.snapshot())
	}
}

// partRun is the shared state of one pool drain. The mutex guards the
// session's part list and serializes persistence.
type partRun struct {
	u       *Uploader
	req     Request
	key     lighter.SessionKey
	session *lighter.MultipartSession
	tr      *tracker
	mu      sync.Mutex
}

// drain uploads every remaining part with at most workers in flight and
// stops at the first failure. A nil return means the session is complete.
func (r *partRun) drain(ctx context.Context, strategy lighter.Strategy, workers int) error {
	remaining := r.session.RemainingParts()
	if len(remaining) == 0 {
		return nil
	}
	if workers > len(remaining) {
		workers = len(remaining)
	}

	queue := make(chan int, len(remaining))
	for _, n := range remaining {
		queue <- n
	}
	close(queue)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range queue {
				if runCtx.Err() != nil {
					return
				}
				part, size, err := r.uploadPart(runCtx, strategy, n)
				if err != nil {
					setErr(err)
					return
				}
				if err := r.record(ctx, strategy, part, size); err != nil {
					setErr(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	// No part failed; the queue either drained or the caller cancelled.
	return ctx.Err()
}

// record appends a finished part to the session and persists it before the
// part counts as done.
func (r *partRun) record(ctx context.Context, strategy lighter.Strategy, part lighter.Part, size int64) error {
	r.mu.Lock()
	r.session.CompletedParts = append(r.session.CompletedParts, part)
	err := r.u.persist(ctx, r.key, r.req, r.session)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("part %d: %w", part.Number, err)
	}

	r.tr.finishPart()
	r.u.observer.PartUploaded(r.req.Key, strategy, size)
	r.u.emit(r.tr)
	return nil
}

func (r *partRun) uploadPart(ctx context.Context, strategy lighter.Strategy, n int) (lighter.Part, int64, error) {
	size := partSize(n, r.session.ChunkSize, r.req.Size)
	body := &meteredReader{
		r:      io.NewSectionReader(r.req.Content, int64(n-1)*r.session.ChunkSize, size),
		tr:     r.tr,
		notify: func() { r.u.emit(r.tr) },
	}

	var part lighter.Part
	var err error
	if strategy == lighter.StrategyDirect {
		part, err = r.putPresigned(ctx, n, body, size)
	} else {
		part, err = r.u.client.UploadPart(ctx, r.req.Key, r.session.UploadID, n, body, size)
	}
	if err != nil {
		// A retried part restarts from byte zero.
		r.tr.addBytes(-body.count.Load())
		return lighter.Part{}, 0, fmt.Errorf("part %d: %w", n, err)
	}
	return part, size, nil
}

// putPresigned raw-PUTs one part to a presigned URL and reads the ETag off
// the response.
func (r *partRun) putPresigned(ctx context.Context, n int, body io.Reader, size int64) (lighter.Part, error) {
	rawURL, err := r.u.client.PresignPart(ctx, r.req.Key, r.session.UploadID, n, r.u.partExpiry)
	if err != nil {
		return lighter.Part{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, body)
	if err != nil {
		return lighter.Part{}, err
	}
	req.ContentLength = size

	resp, err := r.u.http.Do(req)
	if err != nil {
		return lighter.Part{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return lighter.Part{}, fmt.Errorf("presigned put: status %d", resp.StatusCode)
	}
	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return lighter.Part{}, fmt.Errorf("presigned put: missing etag: %w", lighter.ErrProtocol)
	}
	return lighter.Part{Number: n, ETag: etag}, nil
}
