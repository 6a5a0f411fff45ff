// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lock provides a Redis-backed distributed mutex with owner tokens
// and fencing tokens.
//
// A lock is held by whoever set its key with a unique token. Release only
// deletes the key if the token still matches, so a holder whose TTL lapsed
// cannot release someone else's lock. Every successful acquisition also
// draws a fence from a per-key counter that never falls behind the Redis
// server clock in microseconds, so fences keep increasing even if the
// counter is lost. Storage that records the fence of the last write can
// reject writes from a holder that was superseded.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArcadeAI/arcade-mcp-sub004/pkg/toolerr"
)

const (
	// DefaultTTL is how long a lock lives if its holder never releases it.
	DefaultTTL = 900 * time.Second
	// DefaultWait is how long Acquire polls before giving up.
	DefaultWait = 900 * time.Second

	pollInterval   = 100 * time.Millisecond
	releaseTimeout = 5 * time.Second
	fenceSuffix    = ":fence"

	// fenceTTL bounds how long an idle fence counter is kept.
	fenceTTL = 7 * 24 * time.Hour
)

// acquireScript sets the lock key if absent and returns the next fence
// value, or 0 when the key is held. The fence is the larger of the server
// time in microseconds and the previous fence plus one. It stays below
// 2^53, so Lua compares it exactly; it is stored and returned as a string.
var acquireScript = redis.NewScript(`
if not redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return 0
end
local now = redis.call("TIME")
local floor = now[1] .. string.sub("000000" .. now[2], -6)
local last = redis.call("GET", KEYS[2])
if last and tonumber(last) >= tonumber(floor) then
	redis.call("INCR", KEYS[2])
else
	redis.call("SET", KEYS[2], floor)
end
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return redis.call("GET", KEYS[2])
`)

// releaseScript deletes the lock key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var errHeld = errors.New("lock held")

// Locker acquires distributed locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lock, error)
}

// Lock is a held lock. Release it exactly once; extra calls are no-ops.
type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
	// Fence increases with every acquisition of Key, including across a
	// loss of the fence counter.
	Fence int64

	release  func(ctx context.Context) (bool, error)
	released atomic.Bool
	logger   *zap.Logger
}

// Release deletes the lock if this holder still owns it. It never fails:
// backend errors are logged. The call runs on a context detached from ctx's
// cancellation so a cancelled request still releases. It reports whether the
// key was deleted.
func (l *Lock) Release(ctx context.Context) bool {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return false
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	deleted, err := l.release(rctx)
	if err != nil {
		l.logger.Warn("lock release failed",
			zap.String("key", l.Key),
			zap.Error(err))
		return false
	}
	if !deleted {
		l.logger.Debug("lock no longer owned at release", zap.String("key", l.Key))
	}
	return deleted
}

// RedisLocker implements Locker on any go-redis client.
type RedisLocker struct {
	client redis.UniversalClient
	logger *zap.Logger
	pid    int
}

// Option configures a RedisLocker.
type Option func(*RedisLocker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *RedisLocker) {
		r.logger = logger
	}
}

// NewRedisLockerWithClient wraps an existing client. The caller owns the
// client's lifetime unless it later calls Close.
func NewRedisLockerWithClient(client redis.UniversalClient, opts ...Option) *RedisLocker {
	r := &RedisLocker{
		client: client,
		logger: zap.NewNop(),
		pid:    os.Getpid(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRedisLockerFromURL connects to a redis:// or rediss:// URL and verifies
// the connection.
func NewRedisLockerFromURL(ctx context.Context, url string, opts ...Option) (*RedisLocker, error) {
	if url == "" {
		return nil, toolerr.NewLockBackendUnavailable("no redis url configured", nil)
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, toolerr.NewLockBackendUnavailable("invalid redis url", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, toolerr.NewLockBackendUnavailable("failed to connect to redis", err)
	}
	return NewRedisLockerWithClient(client, opts...), nil
}

// Close closes the underlying client.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

// Acquire takes key, polling every 100ms until wait elapses. A wait of zero
// tries once. Timing out yields a retryable toolerr LockTimeout; a Redis
// failure yields LockBackendUnavailable.
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := fmt.Sprintf("%d:%s", r.pid, uuid.NewString())
	keys := []string{key, key + fenceSuffix}

	attempt := func() (int64, error) {
		fence, err := acquireScript.Run(ctx, r.client, keys, token, ttl.Milliseconds(), fenceTTL.Milliseconds()).Int64()
		if err != nil {
			// The script may have run before the error surfaced.
			r.abandon(ctx, key, token)
			if ctx.Err() != nil {
				return 0, backoff.Permanent(ctx.Err())
			}
			return 0, backoff.Permanent(toolerr.NewLockBackendUnavailable("lock acquire failed", err))
		}
		if fence == 0 {
			return 0, errHeld
		}
		return fence, nil
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(pollInterval)),
	}
	if wait > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(wait))
	} else {
		retryOpts = append(retryOpts, backoff.WithMaxTries(1))
	}

	start := time.Now()
	fence, err := backoff.Retry(ctx, attempt, retryOpts...)
	switch {
	case err == nil:
	case errors.Is(err, errHeld):
		r.logger.Debug("lock wait timed out",
			zap.String("key", key),
			zap.Duration("waited", time.Since(start)))
		return nil, toolerr.NewLockTimeout(key, wait)
	case toolerr.IsLockBackendUnavailable(err):
		return nil, err
	default:
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	r.logger.Debug("lock acquired",
		zap.String("key", key),
		zap.Int64("fence", fence),
		zap.Duration("waited", time.Since(start)))

	return &Lock{
		Key:   key,
		Token: token,
		TTL:   ttl,
		Fence: fence,
		release: func(ctx context.Context) (bool, error) {
			n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
			return n == 1, err
		},
		logger: r.logger,
	}, nil
}

// abandon deletes key if a failed acquire attempt set it with token.
func (r *RedisLocker) abandon(ctx context.Context, key, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	n, err := releaseScript.Run(rctx, r.client, []string{key}, token).Int64()
	switch {
	case err != nil:
		r.logger.Warn("failed to clean up interrupted lock acquire",
			zap.String("key", key),
			zap.Error(err))
	case n == 1:
		r.logger.Debug("released lock set by an interrupted acquire", zap.String("key", key))
	}
}

// unavailable is the Locker used when no backend is configured.
type unavailable struct{}

func (unavailable) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lock, error) {
	return nil, toolerr.NewLockBackendUnavailable("no lock backend configured", nil)
}

// Unavailable fails every acquisition with LockBackendUnavailable.
var Unavailable Locker = unavailable{}

// WithLock runs fn while holding key. The lock is released on every exit
// path, including a panic in fn or cancellation of ctx.
func WithLock(ctx context.Context, locker Locker, key string, ttl, wait time.Duration, fn func(ctx context.Context, l *Lock) error) error {
	if locker == nil {
		locker = Unavailable
	}
	l, err := locker.Acquire(ctx, key, ttl, wait)
	if err != nil {
		return err
	}
	defer l.Release(ctx)
	return fn(ctx, l)
}
