package cache

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pysugar/m365-mail-nexus/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCacheDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CacheEntry{}))
	return db
}

// storeFactories build each clock-controllable Store implementation.
func storeFactories(t *testing.T) map[string]func(*fakeClock) Store {
	return map[string]func(*fakeClock) Store{
		"memory": func(c *fakeClock) Store {
			m := NewMemory()
			m.now = c.now
			return m
		},
		"database": func(c *fakeClock) Store {
			d := NewDatabase(newTestCacheDB(t))
			d.now = c.now
			return d
		},
	}
}

func TestStoreSetGetWithTTL(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
			s := newStore(clock)

			require.NoError(t, s.Set(ctx, "auth_state:abc", "acc-1", 600*time.Second))

			v, ok, err := s.Get(ctx, "auth_state:abc")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "acc-1", v)

			ttl, ok, err := s.TTL(ctx, "auth_state:abc")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 600*time.Second, ttl)

			clock.advance(600 * time.Second)

			_, ok, err = s.Get(ctx, "auth_state:abc")
			require.NoError(t, err)
			assert.False(t, ok, "expired entry must not be returned")

			exists, err := s.Exists(ctx, "auth_state:abc")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestStoreDeleteExistsAndTTL(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(&fakeClock{t: time.Now()})

			_, ok, err := s.TTL(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v", 0))
			ttl, ok, err := s.TTL(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, NoExpiry, ttl)

			deleted, err := s.Delete(ctx, "k")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = s.Delete(ctx, "k")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestStoreIncrementAndExpire(t *testing.T) {
	ctx := context.Background()
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{t: time.Now()}
			s := newStore(clock)

			n, err := s.Increment(ctx, "counter", 1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = s.Increment(ctx, "counter", 4)
			require.NoError(t, err)
			assert.Equal(t, int64(5), n)

			ok, err := s.Expire(ctx, "counter", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Expire(ctx, "nope", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			clock.advance(time.Minute)
			exists, err := s.Exists(ctx, "counter")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, s.Set(ctx, "text", "abc", 0))
			_, err = s.Increment(ctx, "text", 1)
			assert.Error(t, err)
		})
	}
}

func TestMemorySweep(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := NewMemory()
	m.now = clock.now
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", time.Second))
	require.NoError(t, m.Set(ctx, "b", "2", 0))
	clock.advance(2 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	ok, _ := m.Exists(ctx, "b")
	assert.True(t, ok)
}

func TestDatabaseCleanup(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDatabase(newTestCacheDB(t))
	d.now = clock.now
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "a", "1", time.Second))
	require.NoError(t, d.Set(ctx, "b", "2", time.Hour))
	clock.advance(time.Minute)

	n, err := d.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
