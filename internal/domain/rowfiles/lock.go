package rowfiles

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// LockState traces a write operation through the row lock.
type LockState string

const (
	LockIdle     LockState = "idle"
	LockPending  LockState = "lock_pending"
	LockHeld     LockState = "lock_held"
	LockOperate  LockState = "operating"
	LockCommit   LockState = "committed"
	LockFailed   LockState = "failed"
	LockReleased LockState = "lock_released"
)

// LockCoordinator serializes mutations of a scope. Reads never take the lock.
type LockCoordinator struct {
	locker      Locker
	granularity LockGranularity
	timeout     time.Duration
	recorder    Recorder
	log         zerolog.Logger
}

func NewLockCoordinator(locker Locker, granularity LockGranularity, timeout time.Duration, recorder Recorder, log zerolog.Logger) *LockCoordinator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if granularity == "" {
		granularity = LockPerRow
	}
	return &LockCoordinator{
		locker:      locker,
		granularity: granularity,
		timeout:     timeout,
		recorder:    recorder,
		log:         log.With().Str("component", "rowfiles-lock").Logger(),
	}
}

// WithLock runs op while holding the scope's lock. The lock is released on
// every exit path, including panics and cancellation of ctx. Failure to obtain
// the lock within the timeout yields a retryable LockUnavailable error and op
// is not run.
func (c *LockCoordinator) WithLock(ctx context.Context, scope RowScope, op func(ctx context.Context) error) (err error) {
	name := scope.LockName(c.granularity)
	c.transition(name, LockPending)

	start := time.Now()
	unlocker, err := c.locker.Acquire(ctx, name, c.timeout)
	wait := time.Since(start)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrLockTimeout) {
			outcome = "timeout"
		} else if ctx.Err() != nil {
			outcome = "cancelled"
		}
		c.recorder.RecordLockWait(outcome, wait)
		c.transition(name, LockFailed)
		c.log.Warn().Err(err).Str("lock", name).Dur("wait", wait).Msg("row lock unavailable")
		return LockUnavailableError(ctx, name, err)
	}
	c.recorder.RecordLockWait("acquired", wait)
	c.transition(name, LockHeld)

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if uerr := unlocker.Unlock(releaseCtx); uerr != nil {
			c.log.Error().Err(uerr).Str("lock", name).Msg("failed to release row lock")
		}
		c.transition(name, LockReleased)
	}()

	opCtx := ctx
	if lease, ok := unlocker.(Lease); ok {
		var cancel context.CancelCauseFunc
		opCtx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		go func() {
			select {
			case <-lease.Done():
				cancel(ErrLockLost)
			case <-opCtx.Done():
			}
		}()
	}

	c.transition(name, LockOperate)
	if err = op(opCtx); err != nil {
		c.transition(name, LockFailed)
		if errors.Is(context.Cause(opCtx), ErrLockLost) {
			c.log.Error().Err(err).Str("lock", name).Msg("row lock lost during operation")
			return LockUnavailableError(ctx, name, ErrLockLost)
		}
		return err
	}
	c.transition(name, LockCommit)
	return nil
}

func (c *LockCoordinator) transition(name string, state LockState) {
	c.recorder.RecordLockState(state)
	c.log.Debug().Str("lock", name).Str("state", string(state)).Msg("row lock transition")
}
