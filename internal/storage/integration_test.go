//go:build integration

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("skip: cannot start redis: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("recall"),
		tcpostgres.WithUsername("recall"),
		tcpostgres.WithPassword("recall"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestRedisStore(t *testing.T) {
	url := startRedis(t)
	testStoreContract(t, func(t *testing.T) Store {
		s, err := OpenRedis(context.Background(), url)
		require.NoError(t, err)
		// Each subtest gets a clean keyspace.
		require.NoError(t, s.Client().FlushDB(context.Background()).Err())
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRedisLocker(t *testing.T) {
	url := startRedis(t)
	s, err := OpenRedis(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()

	testLockerExcludes(t, NewRedisLocker(s.Client(), time.Second))
}

func TestPostgresStore(t *testing.T) {
	dsn := startPostgres(t)
	testStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		_, err = s.db.Exec(ctx, `TRUNCATE memory_states`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgresLocker(t *testing.T) {
	dsn := startPostgres(t)
	s, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()

	testLockerExcludes(t, s)
}

func testLockerExcludes(t *testing.T, l Locker) {
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, unlock, err := l.Lock(ctx, "session")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
