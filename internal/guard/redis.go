package guard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultKey = "curbside:pipeline:lease"

// Compare-and-delete so an expired holder cannot free a newer lease.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Compare-and-extend; 0 means the lease is no longer ours.
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`)

// Redis extends the single slot across replicas sharing one webhook URL.
// A held lease is renewed every ttl/3 until released, so the TTL only bounds how
// long a crashed holder blocks other replicas.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    func() time.Duration
	// renewEvery overrides ttl/3.
	renewEvery time.Duration
}

func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return NewRedisFunc(client, key, func() time.Duration { return ttl })
}

// NewRedisFunc reads the lease TTL at every acquire, so config reloads apply to the next run.
func NewRedisFunc(client redis.UniversalClient, key string, ttl func() time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) TryAcquire(ctx context.Context) (func(), bool, error) {
	ttl := r.ttl()
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(token, ttl, stop, done)

	release := onceFunc(func() {
		close(stop)
		<-done

		// The request context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Str("key", r.key).Msg("guard release failed, lease will expire")
			return
		}
		if n == 0 {
			log.Warn().Str("key", r.key).Msg("guard lease expired before release")
		}
	})
	return release, true, nil
}

func (r *Redis) keepAlive(token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := r.renewEvery
	if every <= 0 {
		every = ttl / 3
	}
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := extendScript.Run(ctx, r.client, []string{r.key}, token, ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				// Retried on the next tick while the lease still has time left.
				log.Warn().Err(err).Str("key", r.key).Msg("guard lease renewal failed")
			case n == 0:
				log.Error().Str("key", r.key).Msg("guard lease lost while run in progress")
				return
			}
		}
	}
}
