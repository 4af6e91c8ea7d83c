package inflight

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the marker only if this tracker still owns it, so
// an expired-and-reacquired marker is left to its new holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTracker shares markers between the API process and the background
// worker.
type RedisTracker struct {
	client *redis.Client
	owner  string
}

func NewRedisTracker(addr string, password string, db int) *RedisTracker {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisTracker{client: client, owner: uuid.NewString()}
}

func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func (t *RedisTracker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	err := t.client.SetArgs(ctx, key, t.owner, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *RedisTracker) Release(ctx context.Context, key string) error {
	err := releaseScript.Run(ctx, t.client, []string{key}, t.owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
