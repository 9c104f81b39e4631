package rowfiles

import (
	"context"
	"io"
	"time"
)

// Repository persists file metadata per scope.
type Repository interface {
	ListByScope(ctx context.Context, scope RowScope) ([]FileEntry, error)
	// FindByPath returns nil, nil when no file is stored at path.
	FindByPath(ctx context.Context, scope RowScope, path string) (*FileEntry, error)
	// UpsertBatch stores all entries in a single transaction.
	UpsertBatch(ctx context.Context, scope RowScope, entries []FileEntry) error
}

// Storage holds file bytes under opaque keys.
type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Lease is implemented by Unlockers whose lock can expire while held. Done
// closes once the lock is no longer guaranteed.
type Lease interface {
	Done() <-chan struct{}
}

// Locker grants exclusive named locks.
type Locker interface {
	// Acquire blocks until the lock is held, timeout elapses (ErrLockTimeout)
	// or ctx is done.
	Acquire(ctx context.Context, name string, timeout time.Duration) (Unlocker, error)
}

// PermissionEvaluator decides whether a caller may touch a scope.
type PermissionEvaluator interface {
	CheckReadAccess(ctx context.Context, scope RowScope, caller Caller) error
	CheckWriteAccess(ctx context.Context, scope RowScope, caller Caller) error
}

// Recorder receives operational measurements.
type Recorder interface {
	RecordLockWait(outcome string, wait time.Duration)
	RecordLockState(state LockState)
	RecordTransfer(direction, outcome string, files int, bytes int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordLockWait(string, time.Duration) {}
func (nopRecorder) RecordLockState(LockState) {}
func (nopRecorder) RecordTransfer(string, string, int, int64) {}

// AllowAll grants every caller read and write access.
type AllowAll struct{}

func (AllowAll) CheckReadAccess(context.Context, RowScope, Caller) error { return nil }
func (AllowAll) CheckWriteAccess(context.Context, RowScope, Caller) error { return nil }
