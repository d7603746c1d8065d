// Package storage opens protocol clients for the backends lighter can talk
// to. The concrete clients live in the s3, dav and fs subpackages; Open
// dispatches on the configured kind so callers depend only on the
// StorageClient interface.
package storage

import (
	"fmt"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/storage/dav"
	"github.com/quaydock/lighter/storage/fs"
	"github.com/quaydock/lighter/storage/s3"
)

// Open builds the client for cfg.Kind.
func Open(cfg lighter.StorageConfig) (lighter.StorageClient, error) {
	switch cfg.Kind {
	case lighter.KindS3:
		return s3.New(cfg)
	case lighter.KindWebDAV:
		return dav.New(cfg)
	case lighter.KindFS:
		return fs.New(cfg)
	default:
		return nil, fmt.Errorf("open storage: unsupported kind %q: %w", cfg.Kind, lighter.ErrConfig)
	}
}
