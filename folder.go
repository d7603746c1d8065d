package lighter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Folder composes recursive directory operations from StorageClient
// primitives. It is backend-agnostic, keeps no state, and reports partial
// failures through BulkResult instead of aborting: multi-key operations are
// not transactional.
//
// The returned error is reserved for failures that prevent the operation
// from running at all (enumeration failure, invalid input, cancelled
// context); per-key copy/delete failures only count toward BulkResult.
type Folder struct {
	client StorageClient
}

// NewFolder returns folder operations over client.
func NewFolder(client StorageClient) *Folder {
	return &Folder{client: client}
}

// ListAll walks prefix recursively, following pagination tokens to
// completion, and returns every descendant: all file entries plus one
// directory entry per discovered prefix. Directory entries follow their own
// contents, so markers come innermost-first.
func (f *Folder) ListAll(ctx context.Context, prefix string) ([]ObjectEntry, error) {
	prefix = EnsureDirKey(strings.TrimPrefix(prefix, "/"))

	var entries []ObjectEntry
	if err := f.walk(ctx, prefix, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *Folder) walk(ctx context.Context, prefix string, out *[]ObjectEntry) error {
	var dirs []string
	token := ""
	for {
		page, err := f.client.List(ctx, ListQuery{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			// Backends with real directories report a missing prefix as
			// not found; an empty listing keeps deletes idempotent.
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return fmt.Errorf("list %q: %w", prefix, err)
		}
		for _, obj := range page.Objects {
			if !obj.IsDir {
				*out = append(*out, obj)
			}
		}
		dirs = append(dirs, page.Prefixes...)
		if !page.IsTruncated {
			break
		}
		token = page.ContinuationToken
	}

	for _, dir := range dirs {
		if err := f.walk(ctx, dir, out); err != nil {
			return err
		}
		*out = append(*out, ObjectEntry{
			Key:   dir,
			Name:  BaseName(dir) + "/",
			IsDir: true,
		})
	}
	return nil
}

// Rename gives path a new basename in place. A trailing slash on path marks
// a directory: its whole subtree relocates, copies strictly before deletes.
func (f *Folder) Rename(ctx context.Context, path, newName string) (BulkResult, error) {
	path = strings.TrimPrefix(path, "/")
	if !IsValidKey(path) {
		return BulkResult{}, fmt.Errorf("rename %q: %w", path, ErrInvalidInput)
	}
	if !IsValidName(newName) {
		return BulkResult{}, fmt.Errorf("rename %q to %q: %w", path, newName, ErrInvalidInput)
	}

	dest := ParentPrefix(path) + newName
	if IsDirKey(path) {
		return f.relocateDir(ctx, path, dest+"/")
	}
	return f.relocateFile(ctx, path, dest)
}

// Move relocates path into destDir, keeping its basename. destDir may be ""
// for the root.
func (f *Folder) Move(ctx context.Context, path, destDir string) (BulkResult, error) {
	path = strings.TrimPrefix(path, "/")
	if !IsValidKey(path) {
		return BulkResult{}, fmt.Errorf("move %q: %w", path, ErrInvalidInput)
	}
	destDir = EnsureDirKey(strings.TrimPrefix(destDir, "/"))
	if destDir != "" && !IsValidKey(destDir) {
		return BulkResult{}, fmt.Errorf("move %q to %q: %w", path, destDir, ErrInvalidInput)
	}

	dest := destDir + BaseName(path)
	if IsDirKey(path) {
		return f.relocateDir(ctx, path, dest+"/")
	}
	return f.relocateFile(ctx, path, dest)
}

// RemoveAll deletes every descendant of path: files first, then directory
// markers innermost-first, then path's own marker (absence ignored).
// Completed counts deleted files; marker failures count toward Failed.
func (f *Folder) RemoveAll(ctx context.Context, path string) (BulkResult, error) {
	path = strings.TrimPrefix(path, "/")
	if !IsValidKey(path) {
		return BulkResult{}, fmt.Errorf("remove all %q: %w", path, ErrInvalidInput)
	}
	path = EnsureDirKey(path)

	var res BulkResult
	entries, err := f.ListAll(ctx, path)
	if err != nil {
		return res, fmt.Errorf("remove all %q: %w", path, err)
	}

	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := f.client.Delete(ctx, entry.Key); err != nil {
			res.fail(fmt.Errorf("delete %q: %w", entry.Key, err))
			continue
		}
		res.ok()
	}

	// ListAll emits markers innermost-first already.
	for _, entry := range entries {
		if !entry.IsDir {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := f.client.Delete(ctx, entry.Key); err != nil {
			res.fail(fmt.Errorf("delete %q: %w", entry.Key, err))
		}
	}

	if err := f.client.Delete(ctx, path); err != nil {
		slog.Warn("delete folder marker", "path", path, "err", err)
	}

	return res, nil
}

func (f *Folder) relocateFile(ctx context.Context, src, dest string) (BulkResult, error) {
	var res BulkResult

	if err := f.client.Copy(ctx, src, dest); err != nil {
		res.fail(fmt.Errorf("copy %q to %q: %w", src, dest, err))
		return res, nil
	}
	if err := f.client.Delete(ctx, src); err != nil {
		res.fail(fmt.Errorf("delete %q: %w", src, err))
		return res, nil
	}

	res.ok()
	return res, nil
}

func (f *Folder) relocateDir(ctx context.Context, src, dest string) (BulkResult, error) {
	var res BulkResult

	if src == dest || strings.HasPrefix(dest, src) {
		return res, fmt.Errorf("move %q into %q: %w", src, dest, ErrInvalidInput)
	}

	entries, err := f.ListAll(ctx, src)
	if err != nil {
		return res, fmt.Errorf("relocate %q: %w", src, err)
	}

	// Destination directories first, outermost-first, so backends with real
	// collections can receive the copies. Marker creation is housekeeping
	// and does not count.
	f.createFolderQuiet(ctx, dest)
	dirKeys := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir {
			dirKeys = append(dirKeys, entry.Key)
		}
	}
	sort.Strings(dirKeys)
	for _, key := range dirKeys {
		f.createFolderQuiet(ctx, dest+strings.TrimPrefix(key, src))
	}

	// Copy all, then delete all, never interleaved: a mid-operation failure
	// leaves both copies present rather than losing data.
	copied := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		destKey := dest + strings.TrimPrefix(entry.Key, src)
		if err := f.client.Copy(ctx, entry.Key, destKey); err != nil {
			res.fail(fmt.Errorf("copy %q to %q: %w", entry.Key, destKey, err))
			continue
		}
		copied = append(copied, entry.Key)
	}

	for _, key := range copied {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := f.client.Delete(ctx, key); err != nil {
			res.fail(fmt.Errorf("delete %q: %w", key, err))
			continue
		}
		res.ok()
	}

	// Old markers innermost-first, then the directory's own marker. A
	// missing marker is not an error.
	for i := len(dirKeys) - 1; i >= 0; i-- {
		if err := f.client.Delete(ctx, dirKeys[i]); err != nil {
			slog.Warn("delete folder marker", "path", dirKeys[i], "err", err)
		}
	}
	if err := f.client.Delete(ctx, src); err != nil {
		slog.Warn("delete folder marker", "path", src, "err", err)
	}

	return res, nil
}

func (f *Folder) createFolderQuiet(ctx context.Context, path string) {
	if err := f.client.CreateFolder(ctx, path); err != nil && !errors.Is(err, ErrConflict) {
		slog.Warn("create folder", "path", path, "err", err)
	}
}
