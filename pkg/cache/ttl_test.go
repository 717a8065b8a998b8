package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int](func() time.Time { return now })

	c.Put("a", 1, time.Minute)
	entry, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, entry.Value)
	assert.Equal(t, now.Add(time.Minute), entry.ExpiresAt)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCacheInvalidateAndClear(t *testing.T) {
	c := NewTTLCache[string, string](nil)
	c.Put("a", "x", time.Hour)
	c.Put("b", "y", time.Hour)
	c.Put("c", "z", 0)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
}
