// Package relay exposes a registry of storage backends over a JSON HTTP
// API. It is the gateway surface of lighter: browsing, object transfer,
// folder operations, and the multipart lifecycle, all routed through the
// StorageClient interface so handlers stay protocol-blind.
//
// # Routes
//
// Everything lives under /api, guarded by the optional API-key middleware:
//
//	GET    /api/storages                                       configured backends (ids, kinds, capabilities)
//	GET    /api/storages/{storage}/list?prefix=&token=          one listing page
//	HEAD   /api/storages/{storage}/objects/{key...}             existence + metadata
//	GET    /api/storages/{storage}/objects/{key...}             download (streamed)
//	PUT    /api/storages/{storage}/objects/{key...}             upload (single object)
//	DELETE /api/storages/{storage}/objects/{key...}             delete; ?recursive=true for subtrees
//	POST   /api/storages/{storage}/folders                      create folder
//	POST   /api/storages/{storage}/rename                       rename file or directory
//	POST   /api/storages/{storage}/move                         move file or directory
//	GET    /api/storages/{storage}/sign?key=&expires=           presigned download URL
//	POST   /api/storages/{storage}/uploads                      initiate multipart
//	PUT    /api/storages/{storage}/uploads/{id}/parts/{n}?key=  relay one part (proxy mode)
//	GET    /api/storages/{storage}/uploads/{id}/parts/{n}/presign?key=  presigned part URL (direct mode)
//	POST   /api/storages/{storage}/uploads/{id}/complete        stitch parts
//	DELETE /api/storages/{storage}/uploads/{id}?key=            abort
//
// /healthz answers liveness probes and /metrics serves the Prometheus
// registry when one is wired.
//
// # Proxy relay
//
// The part-upload route is the fallback target of the transfer engine's
// direct-to-storage strategy: when a presigned PUT fails, remaining parts
// arrive here as plain authenticated requests and the handler forwards them
// with the gateway's own storage credentials.
//
// # Errors
//
// Responses use a JSON envelope {"error": code, "message": text}. Sentinel
// errors from the root package map onto HTTP statuses in HandleError;
// partial failures of bulk operations come back as 207 with per-key
// messages.
package relay
