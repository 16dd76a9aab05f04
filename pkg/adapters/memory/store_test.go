package memory_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/sessiond/pkg/adapters/memory"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSessionMapContract(t, store)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_IdleExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := memory.NewStore(memory.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &domain.Session{ID: "idle"}, 0, time.Minute))

	// Touching within the window keeps the entry alive.
	clock.Advance(50 * time.Second)
	ok, err := store.ContainsKey(ctx, "idle")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(50 * time.Second)
	s, err := store.Get(ctx, "idle")
	require.NoError(t, err)
	assert.NotNil(t, s, "idle clock was reset by ContainsKey")

	clock.Advance(2 * time.Minute)
	s, err = store.Get(ctx, "idle")
	require.NoError(t, err)
	assert.Nil(t, s, "entry should be evicted after max idle")
}

func TestMemoryStore_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := memory.NewStore(memory.WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, &domain.Session{ID: "ttl"}, time.Minute, 0))
	clock.Advance(30 * time.Second)
	ok, _ := store.ContainsKey(ctx, "ttl")
	assert.True(t, ok)

	// Access does not extend the absolute ttl.
	clock.Advance(31 * time.Second)
	ok, _ = store.ContainsKey(ctx, "ttl")
	assert.False(t, ok)
}

func TestMemoryStore_Shutdown(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, &domain.Session{ID: "a"}, 0, 0))

	store.Shutdown()
	store.Shutdown()

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ports.ErrInstanceNotActive)
	err = store.Set(ctx, &domain.Session{ID: "b"}, 0, 0)
	assert.ErrorIs(t, err, ports.ErrInstanceNotActive)
	_, err = store.RemoveAsync(ctx, "a").Wait(ctx)
	assert.ErrorIs(t, err, ports.ErrInstanceNotActive)
}

func TestMemoryCluster_LocalKeySetAndBackups(t *testing.T) {
	cluster := memory.NewCluster()
	node1 := cluster.Join("node-1")
	node2 := cluster.Join("node-2")
	assert.Same(t, node1, cluster.Join("node-1"))
	ctx := context.Background()

	require.NoError(t, node1.Set(ctx, &domain.Session{ID: "s1", UserID: 1, ContextID: 1}, 0, 0))
	require.NoError(t, node1.Set(ctx, &domain.Session{ID: "s2", UserID: 1, ContextID: 1}, 0, 0))
	require.NoError(t, node2.Set(ctx, &domain.Session{ID: "s3", UserID: 1, ContextID: 1}, 0, 0))

	all, err := node2.KeySet(ctx, domain.ByUser(1, 1))
	require.NoError(t, err)
	sort.Strings(all)
	assert.Equal(t, []string{"s1", "s2", "s3"}, all)

	local, err := node2.LocalKeySet(ctx, domain.ByUser(1, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, local)

	st, err := node1.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.OwnedEntryCount)
	assert.Equal(t, int64(1), st.BackupEntryCount)
	assert.Greater(t, st.BackupEntryMemoryCost, int64(0))

	// Once node-2 leaves, node-1 holds no backups anymore.
	node2.Shutdown()
	st, err = node1.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.BackupEntryCount)
}
