package redislock

import (
	"context"
	"errors"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLock = errors.New("redis lock error")

// KEYS[1] = lock key, ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// KEYS[1] = lock key, ARGV[1] = owner token, ARGV[2] = ttl in milliseconds
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a per-key mutex shared by every instance connected to the same redis.
// The holder extends the lease every ttl/3 until it unlocks, so a lock only
// expires after ttl if its holder disappears
type Locker struct {
	// config
	prefix string
	ttl    time.Duration
	retry  time.Duration

	// deps
	client *redis.Client
	log    interfaces.ILogger
}

func NewLocker(client *redis.Client, prefix string, ttl, retry time.Duration, log interfaces.ILogger) *Locker {
	return &Locker{
		prefix: prefix,
		ttl:    ttl,
		retry:  retry,
		client: client,
		log:    log,
	}
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (l *Locker) LockCtx(ctx context.Context, key string) (unlock func(), err error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, lib.WrapError(ErrLock, err)
		}
		if ok {
			keepCtx, stop := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				l.keepAlive(keepCtx, redisKey, token)
			}()
			return func() {
				stop()
				<-done
				l.release(redisKey, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *Locker) keepAlive(ctx context.Context, redisKey, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warnf("failed to extend lock %s: %s", redisKey, err)
			continue
		}
		if n == 0 {
			l.log.Warnf("lock %s was lost before it could be extended", redisKey)
			return
		}
	}
}

func (l *Locker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		l.log.Warnf("failed to release lock %s: %s", redisKey, err)
		return
	}
	if n == 0 {
		l.log.Warnf("lock %s expired before release", redisKey)
	}
}

func (l *Locker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return lib.WrapError(ErrLock, err)
	}
	return nil
}
