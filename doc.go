// Package lighter aggregates S3-compatible and WebDAV object storage behind
// one browsing and upload surface.
//
// The package defines the capability interface every backend variant
// implements, the plain data types that cross it, and the composition layers
// built on top of it. Protocol details live in the storage subpackages; this
// package never touches the wire.
//
// # Key Components
//
//   - StorageClient: the uniform capability set (list, get, put, delete,
//     copy, head, folder creation, signed URLs, multipart lifecycle)
//   - PathResolver: basePath mapping and the trailing-slash directory
//     convention
//   - Folder: recursive listing, rename, move, and recursive delete composed
//     from StorageClient primitives with partial-failure bookkeeping
//   - Capabilities: per-backend feature flags (multipart, presigned URLs) so
//     callers stay protocol-blind
//
// # Backend Variants
//
// Three variants are selected by StorageConfig.Kind at construction:
//
//   - KindS3: AWS Signature V4 over REST XML (storage/s3)
//   - KindWebDAV: PROPFIND/MKCOL/COPY with Basic auth (storage/dav)
//   - KindFS: a sandboxed local directory (storage/fs)
//
// # Example Usage
//
//	client, err := storage.Open(lighter.StorageConfig{
//	    Kind:     lighter.KindS3,
//	    Endpoint: "https://s3.example.com",
//	    Region:   "us-east-1",
//	    AccessID: accessID,
//	    Secret:   secret,
//	    Bucket:   "media",
//	    BasePath: "team-a",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// One page of a directory listing
//	page, err := client.List(ctx, lighter.ListQuery{Prefix: "docs/"})
//
//	// Rename a directory, reporting partial failures
//	res, err := lighter.NewFolder(client).Rename(ctx, "docs/", "archive")
//
// See the transfer package for resumable multipart uploads and the relay
// package for the gateway HTTP API.
package lighter
