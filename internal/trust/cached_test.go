package trust

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"anchorage/internal/anchoring/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOracle struct {
	calls atomic.Int32
	level int
	err   error
	delay time.Duration
}

func (c *countingOracle) TrustLevel(context.Context, string, models.EntityType) (int, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.level, c.err
}

// unreachableRedis returns a client whose every command fails fast.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCachedOracle_DegradesWhenRedisIsDown(t *testing.T) {
	upstream := &countingOracle{level: 2}
	oracle := NewCachedOracle(upstream, unreachableRedis(t), time.Minute)

	level, err := oracle.TrustLevel(context.Background(), "E1", models.EntityTypeIdentity)
	require.NoError(t, err)
	assert.Equal(t, 2, level)
	assert.Equal(t, int32(1), upstream.calls.Load())
}

func TestCachedOracle_UpstreamErrorPropagates(t *testing.T) {
	down := errors.New("trust service unavailable")
	oracle := NewCachedOracle(&countingOracle{err: down}, unreachableRedis(t), time.Minute)

	_, err := oracle.TrustLevel(context.Background(), "E1", models.EntityTypeIdentity)
	assert.ErrorIs(t, err, down)
}

func TestCachedOracle_SingleflightCollapsesMisses(t *testing.T) {
	upstream := &countingOracle{level: 3, delay: 100 * time.Millisecond}
	oracle := NewCachedOracle(upstream, unreachableRedis(t), time.Minute)

	const callers = 10
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			level, err := oracle.TrustLevel(context.Background(), "E1", models.EntityTypeIdentity)
			assert.NoError(t, err)
			assert.Equal(t, 3, level)
		}()
	}
	wg.Wait()
	assert.Less(t, upstream.calls.Load(), int32(callers))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "anchorage:trust:identity:E1", cacheKey(models.EntityTypeIdentity, "E1"))
}
