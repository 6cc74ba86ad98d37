package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrTimeout = errors.New("timed out waiting for run lock")

// Locker serializes scheduling runs. The returned func releases the lock and
// is safe to call once.
type Locker interface {
	Lock(ctx context.Context) (func(), error)
}

// Mutex is an in-process Locker. It honours ctx while waiting.
type Mutex struct{ ch chan struct{} }

func NewMutex() *Mutex { return &Mutex{ch: make(chan struct{}, 1)} }

func (m *Mutex) Lock(ctx context.Context) (func(), error) {
	select {
	case m.ch <- struct{}{}:
		return func() { <-m.ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type RedisConfig struct {
	Key  string
	TTL  time.Duration
	Wait time.Duration // total time to keep retrying
	Poll time.Duration
}

// Redis is a Locker shared by every process pointed at the same Redis. The
// lock is a SET NX PX key holding a random token; release deletes the key
// only while it still holds our token.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.Key == "" {
		cfg.Key = "weekplan:schedule-run"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 10 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	return &Redis{client: client, cfg: cfg}
}

func (r *Redis) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.Wait)
	for {
		ok, err := r.client.SetNX(ctx, r.cfg.Key, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", r.cfg.Key, err)
		}
		if ok {
			return func() { r.release(token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, r.cfg.Key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.Poll):
		}
	}
}

func (r *Redis) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{r.cfg.Key}, token).Err(); err != nil {
		log.Error().Err(err).Str("key", r.cfg.Key).Msg("release run lock")
	}
}
