package e2e_test

import (
	"crypto/md5" //#nosec G501 -- S3 ETags are MD5 by definition
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 is an in-memory S3-compatible server covering the slice of the
// REST API the storage client speaks: object CRUD, ListObjectsV2 with
// delimiter roll-up, server-side copy and the multipart lifecycle.
// Presigned requests are recognized by their X-Amz-Signature query
// parameter; signatures are not verified.
type fakeS3 struct {
	t      *testing.T
	bucket string

	mu      sync.Mutex
	objects map[string]fakeObject
	uploads map[string]*fakeUpload

	// rejectPresigned makes every presigned request fail with 403, forcing
	// direct-strategy clients onto the proxy path.
	rejectPresigned bool
	presignedPuts   int
	headerAuthPuts  int
}

type fakeObject struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

type fakeUpload struct {
	key         string
	contentType string
	parts       map[int][]byte
	etags       map[int]string
}

func newFakeS3(t *testing.T, bucket string) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{
		t:       t,
		bucket:  bucket,
		objects: make(map[string]fakeObject),
		uploads: make(map[string]*fakeUpload),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	presigned := r.URL.Query().Get("X-Amz-Signature") != ""

	f.mu.Lock()
	reject := f.rejectPresigned
	f.mu.Unlock()
	if presigned && reject {
		http.Error(w, "presigned access disabled", http.StatusForbidden)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key := strings.TrimPrefix(path, "/")
	query := r.URL.Query()

	switch {
	case r.Method == http.MethodGet && query.Get("list-type") == "2":
		f.handleList(w, query)
	case r.Method == http.MethodPost && query.Has("uploads"):
		f.handleInitiate(w, r, key)
	case r.Method == http.MethodPut && query.Get("uploadId") != "":
		f.handleUploadPart(w, r, presigned)
	case r.Method == http.MethodPost && query.Get("uploadId") != "":
		f.handleComplete(w, r, query.Get("uploadId"))
	case r.Method == http.MethodDelete && query.Get("uploadId") != "":
		f.handleAbort(w, query.Get("uploadId"))
	case r.Method == http.MethodPut && r.Header.Get("X-Amz-Copy-Source") != "":
		f.handleCopy(w, r, key)
	case r.Method == http.MethodPut:
		f.handlePut(w, r, key)
	case r.Method == http.MethodGet:
		f.handleGet(w, key, true)
	case r.Method == http.MethodHead:
		f.handleGet(w, key, false)
	case r.Method == http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not implemented", http.StatusNotImplemented)
	}
}

func (f *fakeS3) handleList(w http.ResponseWriter, query map[string][]string) {
	prefix := first(query, "prefix")
	delimiter := first(query, "delimiter")

	f.mu.Lock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	f.mu.Unlock()
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" && rest != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					fmt.Fprintf(&sb, "<CommonPrefixes><Prefix>%s</Prefix></CommonPrefixes>", cp)
				}
				continue
			}
		}
		f.mu.Lock()
		obj := f.objects[k]
		f.mu.Unlock()
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified><ETag>%q</ETag></Contents>",
			k, len(obj.data), obj.modified.UTC().Format(time.RFC3339), obj.etag)
	}
	sb.WriteString("</ListBucketResult>")
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, sb.String())
}

func (f *fakeS3) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	etag := md5hex(data)
	f.mu.Lock()
	f.objects[key] = fakeObject{
		data:        data,
		contentType: r.Header.Get("Content-Type"),
		etag:        etag,
		modified:    time.Now(),
	}
	f.mu.Unlock()
	w.Header().Set("ETag", `"`+etag+`"`)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeS3) handleGet(w http.ResponseWriter, key string, withBody bool) {
	f.mu.Lock()
	obj, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		http.Error(w, "no such key", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.Header().Set("ETag", `"`+obj.etag+`"`)
	w.Header().Set("Last-Modified", obj.modified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if withBody {
		_, _ = w.Write(obj.data)
	}
}

func (f *fakeS3) handleCopy(w http.ResponseWriter, r *http.Request, destKey string) {
	src := strings.TrimPrefix(r.Header.Get("X-Amz-Copy-Source"), "/"+f.bucket+"/")
	f.mu.Lock()
	obj, ok := f.objects[src]
	if ok {
		obj.modified = time.Now()
		f.objects[destKey] = obj
	}
	f.mu.Unlock()
	if !ok {
		http.Error(w, "no such key", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<?xml version="1.0"?><CopyObjectResult><ETag>%q</ETag></CopyObjectResult>`, obj.etag)
}

func (f *fakeS3) handleInitiate(w http.ResponseWriter, r *http.Request, key string) {
	f.mu.Lock()
	id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[id] = &fakeUpload{
		key:         key,
		contentType: r.Header.Get("Content-Type"),
		parts:       make(map[int][]byte),
		etags:       make(map[int]string),
	}
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<?xml version="1.0"?><InitiateMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><UploadId>%s</UploadId></InitiateMultipartUploadResult>`,
		f.bucket, key, id)
}

func (f *fakeS3) handleUploadPart(w http.ResponseWriter, r *http.Request, presigned bool) {
	query := r.URL.Query()
	id := query.Get("uploadId")
	partNumber, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil || partNumber < 1 {
		http.Error(w, "bad part number", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[id]
	if !ok {
		http.Error(w, "no such upload", http.StatusNotFound)
		return
	}
	etag := md5hex(data)
	up.parts[partNumber] = data
	up.etags[partNumber] = etag
	if presigned {
		f.presignedPuts++
	} else {
		f.headerAuthPuts++
	}
	w.Header().Set("ETag", `"`+etag+`"`)
	w.WriteHeader(http.StatusOK)
}

// completeRequest mirrors the CompleteMultipartUpload document.
type completeRequest struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

func (f *fakeS3) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	var req completeRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[id]
	if !ok {
		http.Error(w, "no such upload", http.StatusNotFound)
		return
	}

	var assembled []byte
	for _, p := range req.Parts {
		data, ok := up.parts[p.PartNumber]
		if !ok || strings.Trim(p.ETag, `"`) != up.etags[p.PartNumber] {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, `<?xml version="1.0"?><Error><Code>InvalidPart</Code><Message>part mismatch</Message></Error>`)
			return
		}
		assembled = append(assembled, data...)
	}

	etag := md5hex(assembled)
	f.objects[up.key] = fakeObject{
		data:        assembled,
		contentType: up.contentType,
		etag:        etag,
		modified:    time.Now(),
	}
	delete(f.uploads, id)

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<?xml version="1.0"?><CompleteMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><ETag>%q</ETag></CompleteMultipartUploadResult>`,
		f.bucket, up.key, etag)
}

func (f *fakeS3) handleAbort(w http.ResponseWriter, id string) {
	f.mu.Lock()
	_, ok := f.uploads[id]
	delete(f.uploads, id)
	f.mu.Unlock()
	if !ok {
		http.Error(w, "no such upload", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// object returns the stored bytes for key, or nil when absent.
func (f *fakeS3) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil
	}
	return obj.data
}

func (f *fakeS3) openUploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeS3) counters() (presigned, headerAuth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presignedPuts, f.headerAuthPuts
}

func (f *fakeS3) setRejectPresigned(v bool) {
	f.mu.Lock()
	f.rejectPresigned = v
	f.mu.Unlock()
}

func md5hex(data []byte) string {
	sum := md5.Sum(data) //#nosec G401 -- S3 ETags are MD5 by definition
	return hex.EncodeToString(sum[:])
}

func first(query map[string][]string, name string) string {
	if v := query[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}
