/*
Package redislock provides a Redis-backed offer.Locker.

PURPOSE:
  The in-process KeyedMutex only serializes recomputation inside one server.
  When several replicas share a database, per-offer work must be serialized
  across processes: this locker takes the key with SET NX PX and releases it
  with a compare-and-delete script so a lock that expired and was taken by
  someone else is never released by the previous holder.

USAGE:
  client, err := redislock.Connect(redislock.Config{Addr: "localhost:6379"})
  locker := redislock.New(client, "offers:", 30*time.Second)
  svc := offer.NewService(store, offer.Deps{Locker: locker, ...})
*/
package redislock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

// Connect opens a client and pings it.
func Connect(cfg Config) (*goredis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker implements offer.Locker on Redis.
type Locker struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// New returns a Locker. ttl bounds how long a crashed holder can block others.
func New(client *goredis.Client, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, retry: 25 * time.Millisecond}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			return l.releaser(k, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even if the caller's context is already done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				log.Printf("[Lock] release %s failed: %v", key, err)
			}
		})
	}
}
