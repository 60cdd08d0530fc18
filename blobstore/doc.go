// Package blobstore provides the storage abstraction backup archives
// are kept on.
//
// A Store holds named immutable blobs. An archive is streamed into a
// WritableBlob and becomes visible atomically when the handle is closed,
// so readers never observe a partial archive. Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for testing
//   - LocalStore: a local directory, publishing via temp file and rename
//   - minio.Store: MinIO and S3-compatible object storage
//
// # Custom Implementations
//
// Implement the Store interface to support other backends:
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)           // sequential reads
//	    Create(ctx, name) (WritableBlob, error) // atomic on Close
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
