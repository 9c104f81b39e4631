package lock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// extender is the part of a redsync mutex a lease drives.
type extender interface {
	ExtendContext(ctx context.Context) (bool, error)
	Name() string
}

// lease extends a held mutex every interval until stopped. Done closes when an
// extension fails; the lock may then be taken by another writer.
type lease struct {
	done chan struct{}
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func startLease(m extender, interval time.Duration, log zerolog.Logger) *lease {
	l := &lease{done: make(chan struct{}), stop: make(chan struct{})}
	l.wg.Add(1)
	go l.run(m, interval, log)
	return l
}

func (l *lease) run(m extender, interval time.Duration, log zerolog.Logger) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := m.ExtendContext(ctx)
			cancel()
			if ok && err == nil {
				continue
			}
			log.Error().Err(err).Str("lock", m.Name()).Msg("row lock lease could not be extended")
			close(l.done)
			return
		}
	}
}

func (l *lease) Done() <-chan struct{} {
	return l.done
}

// Stop ends the extensions and waits for the extender goroutine.
func (l *lease) Stop() {
	l.once.Do(func() { close(l.stop) })
	l.wg.Wait()
}
