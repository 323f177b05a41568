package orders

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "orders:approve:1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "orders:approve:1", time.Minute)
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, release(ctx))
	release, err = locker.Obtain(ctx, "orders:approve:1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}
