package lock

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexSerializes(t *testing.T) {
	m := NewMutex()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
}

func TestMutexHonoursContext(t *testing.T) {
	m := NewMutex()
	unlock, err := m.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLockIntegration(t *testing.T) {
	addr := os.Getenv("WEEKPLAN_REDIS_ADDR_INTEGRATION")
	if addr == "" {
		t.Skip("set WEEKPLAN_REDIS_ADDR_INTEGRATION to run Redis integration tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := "weekplan:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	a := NewRedis(client, RedisConfig{Key: key, TTL: 5 * time.Second, Wait: 50 * time.Millisecond, Poll: 10 * time.Millisecond})
	b := NewRedis(client, RedisConfig{Key: key, TTL: 5 * time.Second, Wait: 50 * time.Millisecond, Poll: 10 * time.Millisecond})

	unlock, err := a.Lock(context.Background())
	require.NoError(t, err)

	_, err = b.Lock(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)

	unlock()
	unlockB, err := b.Lock(context.Background())
	require.NoError(t, err)
	unlockB()
}
