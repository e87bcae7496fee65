package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skyquery/lib/testutil"
)

func TestCache(t *testing.T) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "querycache",
		DbSchema: Schema,
	})
	defer cleanup()

	cache := New(res.DB)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	key := Key("alma", "SELECT * FROM ivoa.obscore")

	{
		_, err := cache.Get(ctx, key)
		require.ErrorIs(t, err, ErrMiss)
	}
	{
		err := cache.Set(ctx, key, []byte("payload-1"), time.Hour)
		require.NoError(t, err)

		got, err := cache.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, []byte("payload-1"), got)
	}
	{
		// overwrite
		err := cache.Set(ctx, key, []byte("payload-2"), time.Hour)
		require.NoError(t, err)

		got, err := cache.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, []byte("payload-2"), got)
	}
	{
		// an already-expired entry reads as a miss
		err := cache.Set(ctx, key, []byte("stale"), -time.Minute)
		require.NoError(t, err)

		_, err = cache.Get(ctx, key)
		require.ErrorIs(t, err, ErrMiss)
	}
}

func TestKeyIsScopedByService(t *testing.T) {
	require.NotEqual(
		t,
		Key("alma", "SELECT 1"),
		Key("cadc", "SELECT 1"),
	)
}

func TestPurge(t *testing.T) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "querycache-purge",
		DbSchema: Schema,
	})
	defer cleanup()

	cache := New(res.DB)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	require.NoError(t, cache.Set(ctx, "live", []byte("a"), time.Hour))
	require.NoError(t, cache.Set(ctx, "dead", []byte("b"), -time.Hour))

	require.NoError(t, cache.Purge(ctx))

	_, err := cache.Get(ctx, "live")
	require.NoError(t, err)
	_, err = cache.Get(ctx, "dead")
	require.ErrorIs(t, err, ErrMiss)
}
