package ratelimit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("redis unavailable")

type Decision struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Allowed    bool
}

type LimitConfig struct {
	Rate   int
	Window time.Duration
}

// Limiter counts requests per key in fixed windows that start at the first hit.
type Limiter struct {
	client redis.UniversalClient
	prefix string
	key    []byte
}

// INCR, start the window on the first hit, return count and remaining ms.
var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if tonumber(current) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// NewLimiter keys IP hashing with hashKey; pass a dedicated secret, never a credential
// that is also checked elsewhere.
func NewLimiter(client redis.UniversalClient, prefix, hashKey string) *Limiter {
	if prefix == "" {
		prefix = "curbside:rl"
	}
	return &Limiter{client: client, prefix: prefix, key: []byte(hashKey)}
}

// HashIP keeps raw client addresses out of Redis.
func (l *Limiter) HashIP(ip string) string {
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Limiter) Allow(ctx context.Context, key string, cfg LimitConfig) (*Decision, error) {
	res, err := windowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = cfg.Window
	}

	remaining := cfg.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Limit:      cfg.Rate,
		Remaining:  remaining,
		RetryAfter: ttl,
		Allowed:    count <= cfg.Rate,
	}, nil
}
