// Package storage defines the tile storage contract shared by every blob store
// backend and by the composite router. A BlobStore persists encoded tiles
// addressed by layer/gridset/format/parameters/zoom/x/y, keeps per-layer
// metadata, and notifies registered listeners about tile and layer changes.
// Backends live under internal/blobstore; the router that multiplexes them
// lives in internal/composite.
package storage
