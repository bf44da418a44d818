// Package distlock provides a best-effort distributed lock for work that
// should run on one instance at a time, like the email retry sweep. Redis
// backs the lock when available; otherwise a Postgres advisory lock covers
// deployments running without Redis.
package distlock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking distributed lock. A Lock instance is not safe for
// concurrent use; give each goroutine its own.
type Lock interface {
	// TryAcquire reports whether the lock was obtained. It never blocks.
	TryAcquire(ctx context.Context) (bool, error)
	// Release releases the lock if this instance still holds it.
	Release(ctx context.Context) error
}

// New picks the strongest available backend: Redis when the client is
// non-nil, Postgres advisory locks otherwise.
func New(client *redis.Client, db *sql.DB, name string, ttl time.Duration) Lock {
	if client != nil {
		return NewRedisLock(client, name, ttl)
	}
	return NewAdvisoryLock(db, name)
}

// RedisLock holds a key with SET NX and a TTL. The value is a random owner
// token so Release cannot drop a lock that expired and was re-acquired by
// someone else.
type RedisLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLock(client *redis.Client, name string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    "lock:" + name,
		owner:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

func (l *RedisLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
}

func (l *RedisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err()
}

// AdvisoryLock uses pg_try_advisory_lock, which is session-scoped: the lock
// drops automatically if the holding connection dies, much like a Redis TTL.
type AdvisoryLock struct {
	db *sql.DB
	id int64
}

func NewAdvisoryLock(db *sql.DB, name string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(name))
	return &AdvisoryLock{db: db, id: int64(h.Sum64())}
}

func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok)
	return ok, err
}

func (l *AdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
	return err
}
