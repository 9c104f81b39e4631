package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// LocalLocker grants in-process locks. Only valid for a single replica.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, name string, timeout time.Duration) (rowfiles.Unlocker, error) {
	entry := l.ref(name)

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := entry.sem.Acquire(acquireCtx, 1); err != nil {
		l.unref(name)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", rowfiles.ErrLockTimeout, name)
		}
		return nil, err
	}
	return &localUnlocker{locker: l, name: name, sem: entry.sem}, nil
}

// Held reports how many names currently have holders or waiters.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *LocalLocker) HealthCheck(context.Context) error {
	return nil
}

func (l *LocalLocker) ref(name string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[name]
	if !ok {
		entry = &localLock{sem: semaphore.NewWeighted(1)}
		l.locks[name] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) unref(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[name]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, name)
	}
}

type localUnlocker struct {
	locker *LocalLocker
	name   string
	sem    *semaphore.Weighted
	once   sync.Once
}

func (u *localUnlocker) Unlock(context.Context) error {
	u.once.Do(func() {
		u.sem.Release(1)
		u.locker.unref(u.name)
	})
	return nil
}
