package cli

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/quaydock/lighter"
)

// DetectContentType determines the content type of a local file.
// Content sniffing wins over the extension table; unknown files fall back
// to application/octet-stream.
func DetectContentType(path string) string {
	if mt, err := mimetype.DetectFile(path); err == nil {
		// mimetype reports text/plain with a charset suffix for anything
		// it cannot classify further; prefer the extension table there.
		if !strings.HasPrefix(mt.String(), "text/plain") || filepath.Ext(path) == ".txt" {
			return mt.String()
		}
	}
	return contentTypeFromExtension(path)
}

func contentTypeFromExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return lighter.DefaultContentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return lighter.DefaultContentType
}
