package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard shares counters across API instances.
//
// Keys:
//   guard:fails:{key} -> attempt counter, expires with the window (extended while locked)
//   guard:lock:{key}  -> present while locked, TTL is the remaining lockout
type RedisGuard struct {
	client *redis.Client
	policy Policy
}

func NewRedisGuard(client *redis.Client, p Policy) *RedisGuard {
	return &RedisGuard{client: client, policy: p.withDefaults()}
}

func failsKey(key string) string { return "guard:fails:" + key }
func lockKey(key string) string  { return "guard:lock:" + key }

// attemptScript charges one guess atomically. A live lock refuses the guess with its
// remaining TTL; otherwise the counter is bumped and, once it reaches the limit, the lock
// is (re)armed with a duration that doubles per extra guess up to the cap.
//
// KEYS: fails, lock. ARGV: window ms, max attempts, base lockout ms, max lockout ms.
// Returns {attempts, retryAfterMs}; attempts is 0 when refused.
var attemptScript = redis.NewScript(`
local ttl = redis.call("PTTL", KEYS[2])
if ttl > 0 then
  return {0, ttl}
end
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], window)
end
if n >= max then
  local d = tonumber(ARGV[3])
  local cap = tonumber(ARGV[4])
  for i = max + 1, n do
    d = d * 2
    if d >= cap then
      d = cap
      break
    end
  end
  redis.call("SET", KEYS[2], n, "PX", d)
  redis.call("PEXPIRE", KEYS[1], d + window)
end
return {n, 0}
`)

// releaseScript refunds one guess and lifts the lock once the count is under the limit.
//
// KEYS: fails, lock. ARGV: max attempts.
var releaseScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if n <= 0 then
  return 0
end
n = redis.call("DECR", KEYS[1])
if n < tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[2])
end
if n <= 0 then
  redis.call("DEL", KEYS[1])
end
return n
`)

func (g *RedisGuard) Attempt(ctx context.Context, key string) error {
	res, err := attemptScript.Run(ctx, g.client, []string{failsKey(key), lockKey(key)},
		g.policy.Window.Milliseconds(),
		g.policy.MaxAttempts,
		g.policy.BaseLockout.Milliseconds(),
		g.policy.MaxLockout.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("guard attempt: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("guard attempt: unexpected reply %v", res)
	}
	if res[0] == 0 {
		return &LockedError{RetryAfter: time.Duration(res[1]) * time.Millisecond}
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, g.client, []string{failsKey(key), lockKey(key)}, g.policy.MaxAttempts).Err(); err != nil {
		return fmt.Errorf("guard release: %w", err)
	}
	return nil
}

func (g *RedisGuard) Reset(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, failsKey(key), lockKey(key)).Err(); err != nil {
		return fmt.Errorf("guard reset: %w", err)
	}
	return nil
}

// NewRedisClient connects and pings, failing fast on a bad address.
func NewRedisClient(addr, username, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
