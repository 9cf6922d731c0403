// Package lock guarantees a single delivery process per browser profile.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/flock"
)

// ErrLocked means another process holds the lock
var ErrLocked = errors.New("lock is held by another process")

// Locker is acquire-or-fail: Acquire never waits for the holder
type Locker interface {
	Acquire(ctx context.Context) error
	Release() error
}

// FileLock is an advisory lock on a local file
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock creates a FileLock at path
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// Acquire takes the lock or returns ErrLocked
func (l *FileLock) Acquire(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, l.fl.Path())
	}
	return nil
}

// Release drops the lock
func (l *FileLock) Release() error {
	return l.fl.Unlock()
}

// releaseScript deletes the key only if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the lease only if we still own it
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLock is a lease in Redis, for deployments where the browser host is shared.
// While held, the lease is renewed every ttl/3 so it outlives long runs.
type RedisLock struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	renewEvery time.Duration
	token      string

	stopRenew context.CancelFunc
	renewDone chan struct{}
}

// NewRedisLock creates a RedisLock on key with a lease of ttl
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl, renewEvery: ttl / 3}
}

// Acquire sets the key if absent or returns ErrLocked
func (l *RedisLock) Acquire(ctx context.Context) error {
	token, err := newToken()
	if err != nil {
		return err
	}
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis lock %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, l.key)
	}
	l.token = token
	if l.ttl > 0 && l.renewEvery > 0 {
		l.startRenewal(token)
	}
	return nil
}

func (l *RedisLock) startRenewal(token string) {
	ctx, cancel := context.WithCancel(context.Background())
	l.stopRenew = cancel
	l.renewDone = make(chan struct{})
	go func() {
		defer close(l.renewDone)
		ticker := time.NewTicker(l.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				owned, err := l.extend(ctx, token)
				if err != nil {
					// retried on the next tick while the lease lasts
					continue
				}
				if !owned {
					return
				}
			}
		}
	}()
}

// extend pushes the lease back to a full ttl; false means the key is no longer ours
func (l *RedisLock) extend(ctx context.Context, token string) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis renew %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release stops renewal and deletes the key if this lock still owns it
func (l *RedisLock) Release() error {
	if l.token == "" {
		return nil
	}
	if l.stopRenew != nil {
		l.stopRenew()
		<-l.renewDone
		l.stopRenew = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
