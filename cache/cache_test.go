package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("enrich:1", []byte("1"), time.Hour))
	v, err := c.Get("enrich:1")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	now = now.Add(time.Hour)
	_, err = c.Get("enrich:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set("k", []byte("v"), 0))
	require.NoError(t, c.Delete("k"))
	require.NoError(t, c.Delete("k"))
	_, err := c.Get("k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211")
	if err := mc.Ping(); err != nil {
		t.Skip("Memcached is not available, skipping test")
	}

	key := fmt.Sprintf("car_scraper_test_%d", time.Now().UnixNano())
	err := mc.Set(key, []byte("test_value"), 5*time.Second)
	assert.NoError(t, err)

	value, err := mc.Get(key)
	assert.NoError(t, err)
	assert.Equal(t, "test_value", string(value))

	assert.NoError(t, mc.Delete(key))

	_, err = mc.Get(key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
