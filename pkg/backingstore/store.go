// Package backingstore defines the object-store interface the dispatcher
// issues READ, WRITE, and COPY operations against, plus the in-memory
// and S3-backed implementations of it.
package backingstore

import "context"

// Store is the backing object store the dispatcher's copy-up and
// translation layers depend on. Every method is safe for concurrent
// use: the dispatcher issues operations asynchronously and resumes on
// whatever goroutine the reply arrives on.
type Store interface {
	// Read returns size bytes starting at offset from the named object.
	// Reading past the end of a short object is not an error: the
	// missing tail is returned zero-filled, matching sparse-object
	// semantics.
	Read(ctx context.Context, target string, offset, size uint64) ([]byte, error)

	// Write stores data at offset in the named object, creating it if
	// absent.
	Write(ctx context.Context, target string, offset uint64, data []byte) error

	// Copy materializes newTarget as an independent copy of parent's
	// current contents. After Copy returns, writes to newTarget must
	// not be visible through parent and vice versa.
	Copy(ctx context.Context, newTarget, parent string) error

	// Healthcheck reports whether the store is reachable.
	Healthcheck(ctx context.Context) error
}
