package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sessiond/pkg/adapters/redis"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts ...redis.Option) (*miniredis.Miniredis, *backend.Client, *redis.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	return mr, client, redis.NewFromClient(client, opts...)
}

func TestRedisStore_Contract(t *testing.T) {
	_, _, store := setup(t)
	ports.RunSessionMapContract(t, store)
}

func TestRedisStore_IdleExpiry(t *testing.T) {
	mr, _, store := setup(t)
	ctx := context.Background()

	err := store.Set(ctx, &domain.Session{ID: "idle"}, 0, time.Second)
	require.NoError(t, err)

	// Touch re-arms the expiry to the full idle window.
	mr.FastForward(700 * time.Millisecond)
	ok, err := store.ContainsKey(ctx, "idle")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(700 * time.Millisecond)
	s, err := store.Get(ctx, "idle")
	require.NoError(t, err)
	assert.NotNil(t, s, "session should survive thanks to the touch")

	mr.FastForward(2 * time.Second)
	s, err = store.Get(ctx, "idle")
	require.NoError(t, err)
	assert.Nil(t, s)

	ok, err = store.ContainsKey(ctx, "idle")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_PersistentWithoutIdle(t *testing.T) {
	mr, _, store := setup(t, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &domain.Session{ID: "forever"}, 0, 0))
	assert.True(t, mr.Exists("custom:app:forever"), "Expected key with custom prefix to exist")
	assert.Zero(t, mr.TTL("custom:app:forever"))

	mr.FastForward(24 * time.Hour)
	s, err := store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestRedisStore_LocalKeySetByNode(t *testing.T) {
	mr := miniredis.RunT(t)
	node1 := redis.NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), redis.WithNode("node-1"))
	node2 := redis.NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), redis.WithNode("node-2"))
	ctx := context.Background()

	require.NoError(t, node1.Set(ctx, &domain.Session{ID: "a", UserID: 1, ContextID: 1}, 0, 0))
	require.NoError(t, node2.Set(ctx, &domain.Session{ID: "b", UserID: 1, ContextID: 1}, 0, 0))

	all, err := node1.KeySet(ctx, domain.ByUser(1, 1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, all)

	local, err := node1.LocalKeySet(ctx, domain.ByUser(1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, local)

	st, err := node2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.OwnedEntryCount)
	assert.Zero(t, st.BackupEntryCount)
}

func TestRedisStore_ClosedClientIsInactive(t *testing.T) {
	_, client, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, client.Close())

	_, err := store.Get(ctx, "any")
	assert.ErrorIs(t, err, ports.ErrInstanceNotActive)

	err = store.Set(ctx, &domain.Session{ID: "any"}, 0, 0)
	assert.ErrorIs(t, err, ports.ErrInstanceNotActive)

	_, err = store.KeySet(ctx, nil)
	assert.ErrorIs(t, err, ports.ErrInstanceNotActive)
}
