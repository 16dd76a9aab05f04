package ports

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionMapContract runs a suite of tests to verify that a SessionMap implementation
// adheres to the defined interface contract. The map is cleared first.
func RunSessionMapContract(t *testing.T, m SessionMap) {
	ctx := context.Background()
	require.NoError(t, m.Clear(ctx), "Clear should not return error")

	newSession := func(id string, user, contextID int) *domain.Session {
		return &domain.Session{
			ID:          id,
			UserID:      user,
			ContextID:   contextID,
			AuthID:      "auth-" + id,
			RandomToken: "rt-" + id,
			LocalIP:     "127.0.0.1",
			CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
			Parameters:  map[string]string{"k": "v"},
		}
	}

	t.Run("Get Non-Existent", func(t *testing.T) {
		s, err := m.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, s)

		s, err = m.GetAsync(ctx, "missing").Wait(ctx)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("Set and Get", func(t *testing.T) {
		s := newSession("c-set", 1, 1)
		require.NoError(t, m.Set(ctx, s, 0, time.Hour), "Set should not return error")

		loaded, err := m.Get(ctx, "c-set")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, s.UserID, loaded.UserID)
		assert.Equal(t, s.AuthID, loaded.AuthID)
		assert.Equal(t, "v", loaded.Parameters["k"])
		assert.True(t, s.CreatedAt.Equal(loaded.CreatedAt))

		// Returned values are copies.
		loaded.Parameters["k"] = "mutated"
		again, err := m.GetAsync(ctx, "c-set").Wait(ctx)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, "v", again.Parameters["k"])
	})

	t.Run("PutIfAbsent", func(t *testing.T) {
		first := newSession("c-pia", 1, 1)
		existing, err := m.PutIfAbsent(ctx, first, 0, time.Hour)
		require.NoError(t, err)
		assert.Nil(t, existing, "first insert should report no previous value")

		second := newSession("c-pia", 2, 2)
		existing, err = m.PutIfAbsent(ctx, second, 0, time.Hour)
		require.NoError(t, err)
		require.NotNil(t, existing)
		assert.Equal(t, 1, existing.UserID)

		loaded, err := m.Get(ctx, "c-pia")
		require.NoError(t, err)
		assert.Equal(t, 1, loaded.UserID, "second insert must not overwrite")
	})

	t.Run("ContainsKey", func(t *testing.T) {
		ok, err := m.ContainsKey(ctx, "c-set")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = m.ContainsKey(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Scans", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, newSession("c-u1", 7, 3), 0, time.Hour))
		require.NoError(t, m.Set(ctx, newSession("c-u2", 7, 3), 0, time.Hour))
		require.NoError(t, m.Set(ctx, newSession("c-u3", 8, 3), 0, time.Hour))

		keys, err := m.KeySet(ctx, domain.ByUser(7, 3))
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"c-u1", "c-u2"}, keys)

		local, err := m.LocalKeySet(ctx, domain.ByUser(7, 3))
		require.NoError(t, err)
		sort.Strings(local)
		assert.Equal(t, []string{"c-u1", "c-u2"}, local, "entries written by this member are local")

		values, err := m.Values(ctx, domain.ByContext(3))
		require.NoError(t, err)
		assert.Len(t, values, 3)

		values, err = m.Values(ctx, domain.ByRandomToken("rt-c-u3"))
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, "c-u3", values[0].ID)

		n, err := m.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("Stats", func(t *testing.T) {
		st, err := m.Stats(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.OwnedEntryCount, int64(1))
		assert.Greater(t, st.OwnedEntryMemoryCost, int64(0))
	})

	t.Run("Remove", func(t *testing.T) {
		removed, err := m.Remove(ctx, "c-u1")
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, "c-u1", removed.ID)

		removed, err = m.Remove(ctx, "c-u1")
		require.NoError(t, err)
		assert.Nil(t, removed, "second removal reports nothing")

		removed, err = m.RemoveAsync(ctx, "c-u2").Wait(ctx)
		require.NoError(t, err)
		require.NotNil(t, removed)

		s, err := m.Get(ctx, "c-u2")
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, m.Clear(ctx))
		n, err := m.Size(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
