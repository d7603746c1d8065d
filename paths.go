package lighter

import (
	"strings"
	"unicode/utf8"
)

// PathResolver maps basePath-relative keys to full backend keys and back.
// It owns the "directory = key ending in /" convention so the protocol
// clients never re-derive it.
type PathResolver struct {
	base string
}

// NewPathResolver returns a resolver for basePath. Leading and trailing
// slashes on basePath are ignored; an empty basePath resolves keys
// unchanged.
func NewPathResolver(basePath string) PathResolver {
	return PathResolver{base: strings.Trim(basePath, "/")}
}

// Base returns the cleaned base path without surrounding slashes.
func (r PathResolver) Base() string {
	return r.base
}

// Abs maps a basePath-relative key to the backend's full key, preserving a
// trailing slash. Abs("") returns the base prefix itself ("" or "base/"),
// which is what listing the root needs.
func (r PathResolver) Abs(key string) string {
	key = strings.TrimPrefix(key, "/")
	if r.base == "" {
		return key
	}
	if key == "" {
		return r.base + "/"
	}
	return r.base + "/" + key
}

// Rel maps a full backend key back to a basePath-relative key.
func (r PathResolver) Rel(full string) string {
	full = strings.TrimPrefix(full, "/")
	if r.base == "" {
		return full
	}
	return strings.TrimPrefix(full, r.base+"/")
}

// IsDirKey reports whether key uses the trailing-slash directory convention.
func IsDirKey(key string) bool {
	return strings.HasSuffix(key, "/")
}

// EnsureDirKey appends the directory slash when missing. Empty stays empty.
func EnsureDirKey(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// BaseName returns the last path segment of key, ignoring a trailing slash.
func BaseName(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// ParentPrefix returns the directory prefix containing key, ending in "/",
// or "" for top-level keys.
func ParentPrefix(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i+1]
	}
	return ""
}

/// IsValidKey validates a basePath-relative object key. It checks that the key:
//   - is not empty, ".", or "/"
//   - is relative (does not start with "/")
//   - does not contain ".." (path traversal)
//   - does not contain "//" (empty segments)
//   - does not contain backslashes
//   - is valid UTF-8
//   - does not contain "." segments
//   - does not contain null bytes, control characters (< 0x20), or DEL (0x7f)
//
// A single trailing slash is allowed: that is the directory form.
func IsValidKey(key string) bool {
	if key == "" || key == "/" || key == "." {
		return false
	}

	if key[0] == '/' {
		return false
	}

	if strings.Contains(key, "..") {
		return false
	}

	if strings.Contains(key, "//") {
		return false
	}

	if strings.Contains(key, `\`) {
		return false
	}

	if !utf8.ValidString(key) {
		return false
	}

	trimmed := strings.TrimSuffix(key, "/")
	if trimmed == "" || strings.HasPrefix(key, "./") || strings.Contains(key, "/./") || strings.HasSuffix(trimmed, "/.") {
		return false
	}

	for _, r := range key {
		if r == 0 || r < 0x20 || r == 0x7f {
			return false
		}
	}

	return true
}

// IsValidName validates one path segment, as used by rename. Same rules as
// IsValidKey plus no slashes at all.
func IsValidName(name string) bool {
	return name != "" && !strings.Contains(name, "/") && IsValidKey(name)
}
