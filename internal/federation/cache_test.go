package federation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrustCache(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	root := "https://gis.city.gov/server"

	t.Run("returns live entry", func(t *testing.T) {
		c := NewTrustCache(0, WithClock(clock))
		c.Put(root, Entry{Token: "fed", Expires: now.Add(time.Hour)})

		entry, ok := c.Get(root)
		assert.True(t, ok)
		assert.Equal(t, "fed", entry.Token)
	})

	t.Run("expired entry is indistinguishable from absent", func(t *testing.T) {
		c := NewTrustCache(0, WithClock(clock))
		c.Put(root, Entry{Token: "old", Expires: now.Add(-time.Second)})

		_, ok := c.Get(root)
		assert.False(t, ok)
		assert.False(t, c.Has(root), "expired entry must be evicted on lookup")
	})

	t.Run("entry expiring exactly now is not served", func(t *testing.T) {
		c := NewTrustCache(0, WithClock(clock))
		c.Put(root, Entry{Token: "edge", Expires: now})

		_, ok := c.Get(root)
		assert.False(t, ok)
	})

	t.Run("evicts least recently used roots", func(t *testing.T) {
		c := NewTrustCache(2, WithClock(clock))
		for i := 0; i < 3; i++ {
			c.Put(fmt.Sprintf("https://s%d.example/arcgis", i), Entry{Token: "t", Expires: now.Add(time.Hour)})
		}
		assert.Equal(t, 2, c.Len())
		_, ok := c.Get("https://s0.example/arcgis")
		assert.False(t, ok)
	})

	t.Run("purge empties", func(t *testing.T) {
		c := NewTrustCache(0, WithClock(clock))
		c.Put(root, Entry{Token: "fed", Expires: now.Add(time.Hour)})
		c.Purge()
		assert.Equal(t, 0, c.Len())
	})
}
