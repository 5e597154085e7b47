// Package composite implements the blob store router: a storage.BlobStore
// that owns a registry of configured backends and dispatches every call to
// the backend chosen for the layer involved.
//
// The registry is built once by New and is read without locking afterwards.
// Layers without a declared blob store id route to the "default" alias, which
// is either the config marked default or a file store synthesized at the
// path supplied by the DefaultPathResolver. Destroy tears every backend down
// exactly once and leaves the registry empty.
package composite
