package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy, "empty registry should be healthy")
	assert.Empty(t, statuses)
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "cache", statuses[1].Name, "registered name fills a blank status name")
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestPingChecker(t *testing.T) {
	ok := PingChecker("svc", time.Second, func(context.Context) error { return nil })
	assert.Equal(t, Status{Name: "svc", Healthy: true}, ok(context.Background()))

	failing := PingChecker("svc", time.Second, func(context.Context) error { return errors.New("boom") })
	st := failing(context.Background())
	assert.False(t, st.Healthy)
	assert.Equal(t, "boom", st.Detail)

	slow := PingChecker("svc", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.False(t, slow(context.Background()).Healthy)
}

func TestRedisCheckerUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()

	st := Redis(client)(context.Background())
	assert.Equal(t, "redis", st.Name)
	assert.False(t, st.Healthy)
	assert.NotEmpty(t, st.Detail)
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
