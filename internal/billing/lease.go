package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease guards "at most one billing timer per session". Owners are opaque
// tokens; only the owner may refresh or release.
type Lease interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

type localHold struct {
	owner   string
	expires time.Time
}

// LocalLease is the in-process lease used when no Redis is configured.
type LocalLease struct {
	mu    sync.Mutex
	holds map[string]localHold
	now   func() time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{holds: make(map[string]localHold), now: time.Now}
}

func (l *LocalLease) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.holds[key]; ok && now.Before(h.expires) && h.owner != owner {
		return false, nil
	}
	l.holds[key] = localHold{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *LocalLease) Refresh(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holds[key]
	if !ok || h.owner != owner {
		return false, nil
	}
	h.expires = l.now().Add(ttl)
	l.holds[key] = h
	return true, nil
}

func (l *LocalLease) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holds[key]; ok && h.owner == owner {
		delete(l.holds, key)
	}
	return nil
}

// Held reports whether key currently has a live owner.
func (l *LocalLease) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holds[key]
	return ok && l.now().Before(h.expires)
}

// Compare-and-set scripts: the owner check and the write must be one step.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// RedisLease shares the lease across processes.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLease(client redis.UniversalClient, prefix string) *RedisLease {
	if prefix == "" {
		prefix = "tutorlink:billing:"
	}
	return &RedisLease{client: client, prefix: prefix}
}

// NewRedisClient builds the client the lease runs on.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (l *RedisLease) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, owner, ttl).Result()
}

func (l *RedisLease) Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{l.prefix + key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, l.client, []string{l.prefix + key}, owner).Err()
}
