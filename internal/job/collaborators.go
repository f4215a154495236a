// Package job implements batch submission and result collection on top of a
// sandbox runner and an object store.
package job

import "context"

// SandboxRunner creates, inspects and deletes the sandbox that processes one job.
//
// # State Management
//
// The runner and the object store are the only state a job has. Nothing about a
// job is kept in this process; its lifecycle is inferred on every poll from what
// the runner reports and which artifacts remain in the store. This enables:
//
//   - Crash recovery: running sandboxes continue if the service restarts
//   - Horizontal scaling: any instance can answer any poll
type SandboxRunner interface {
	// CreateOrUpdate creates and starts a sandbox named name.
	// An existing sandbox with the same name is replaced.
	CreateOrUpdate(ctx context.Context, name string, spec *SandboxSpec) error

	// Get returns the current status of a sandbox.
	// Returns an apperrors.NotFound error if the sandbox does not exist.
	Get(ctx context.Context, name string) (*SandboxStatus, error)

	// Delete starts deleting a sandbox and returns without waiting for it to finish.
	Delete(ctx context.Context, name string) error
}

// ObjectStore is a flat key-value store partitioned into namespaces.
type ObjectStore interface {
	// Put writes data under key, replacing any existing content.
	Put(ctx context.Context, namespace, key string, data []byte) error

	// Get returns the content of key.
	// Returns an apperrors.NotFound error if the key does not exist.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Delete removes key.
	// Returns an apperrors.NotFound error if the key does not exist.
	Delete(ctx context.Context, namespace, key string) error

	// List returns the keys in a namespace. A missing namespace is empty.
	List(ctx context.Context, namespace string) ([]string, error)
}

// Locker grants exclusive, non-blocking ownership of a key.
type Locker interface {
	// TryLock takes the lock on key if it is free. ok is false when another
	// holder owns it. release must be called once by the holder.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}
