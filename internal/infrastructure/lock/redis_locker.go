package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// RedisLocker hands out redsync mutexes so row locks hold across replicas.
type RedisLocker struct {
	client     redis.UniversalClient
	rs         *redsync.Redsync
	expiry     time.Duration
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewRedisLocker(redisURL string, expiry, retryDelay time.Duration, log zerolog.Logger) (*RedisLocker, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}

	opts, err := buildUniversalOptions(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if len(opts.Addrs) > 1 && opts.DB != 0 {
		log.Warn().Msg("ignoring non-zero DB when using Redis Cluster configuration")
		opts.DB = 0
	}

	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	log.Info().Msg("row lock backend connected to redis")
	return &RedisLocker{
		client:     client,
		rs:         redsync.New(goredis.NewPool(client)),
		expiry:     expiry,
		retryDelay: retryDelay,
		log:        log,
	}, nil
}

func buildUniversalOptions(raw string) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "://") {
			opts.Addrs = append(opts.Addrs, part)
			continue
		}

		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, err
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.DB == 0 {
			opts.DB = parsed.DB
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
	}
	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("no Redis addresses provided")
	}
	return opts, nil
}

// Acquire retries the redsync mutex every retry delay until timeout elapses.
func (l *RedisLocker) Acquire(ctx context.Context, name string, timeout time.Duration) (rowfiles.Unlocker, error) {
	tries := 1
	if timeout > 0 {
		tries = int(timeout/l.retryDelay) + 1
	}
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(l.retryDelay),
	)

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := mutex.LockContext(acquireCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if lockContended(err) || acquireCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", rowfiles.ErrLockTimeout, name)
		}
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	return &redisUnlocker{
		mutex: mutex,
		lease: startLease(mutex, leaseInterval(l.expiry), l.log),
		log:   l.log,
	}, nil
}

// leaseInterval leaves two extension attempts before the mutex expires.
func leaseInterval(expiry time.Duration) time.Duration {
	if expiry <= 0 {
		expiry = 8 * time.Second
	}
	return expiry / 3
}

func lockContended(err error) bool {
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &nodeTaken)
}

func (l *RedisLocker) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

var _ rowfiles.Lease = (*redisUnlocker)(nil)

type redisUnlocker struct {
	mutex *redsync.Mutex
	lease *lease
	log   zerolog.Logger
}

// Done closes when the mutex could not be extended and may have expired.
func (u *redisUnlocker) Done() <-chan struct{} {
	return u.lease.Done()
}

func (u *redisUnlocker) Unlock(ctx context.Context) error {
	u.lease.Stop()
	ok, err := u.mutex.UnlockContext(ctx)
	if ok {
		return nil
	}
	if err == nil || errors.Is(err, redsync.ErrLockAlreadyExpired) {
		u.log.Warn().Str("lock", u.mutex.Name()).Msg("row lock expired before release")
		return nil
	}
	return fmt.Errorf("unlock %s: %w", u.mutex.Name(), err)
}
