package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	iredis "github.com/aelexs/musicroom/internal/redis"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := iredis.Config{
		Addr:         mr.Addr(),
		Password:     "",
		DB:           0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	client := iredis.NewClient(cfg)
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	require.NotNil(t, client, "NewClient must return a non-nil client")
	require.NotNil(t, client.RDB, "client.RDB must be non-nil")

	// Verify that RDB satisfies the Cmdable interface.
	var _ iredis.Cmdable = client.RDB
}

func TestPingAndIsNil(t *testing.T) {
	mr := miniredis.RunT(t)
	client := iredis.NewClient(iredis.Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	_, err := client.RDB.Get(ctx, "missing").Result()
	require.True(t, iredis.IsNil(err))
	require.False(t, iredis.IsNil(errors.New("boom")))
	require.False(t, iredis.IsNil(nil))

	var _ iredis.Subscriber = client.RDB
}

func TestScript(t *testing.T) {
	mr := miniredis.RunT(t)
	client := iredis.NewClient(iredis.Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	script := iredis.NewScript(`return redis.call("INCRBY", KEYS[1], ARGV[1])`)
	n, err := script.Run(context.Background(), client.RDB, []string{"counter"}, 3).Int64()

	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}
