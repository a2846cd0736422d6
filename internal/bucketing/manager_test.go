package bucketing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_Bucket(t *testing.T) {
	bm := NewManager(16)

	t.Run("should be stable for the same key", func(t *testing.T) {
		assert.Equal(t, bm.Bucket("login:admin@example.com"), bm.Bucket("login:admin@example.com"))
	})

	t.Run("should stay in range and spread keys", func(t *testing.T) {
		seen := map[int]bool{}
		for i := 0; i < 1000; i++ {
			b := bm.Bucket(fmt.Sprintf("session:%d", i))
			assert.GreaterOrEqual(t, b, 0)
			assert.Less(t, b, 16)
			seen[b] = true
		}
		assert.Greater(t, len(seen), 8)
	})

	t.Run("should default non-positive bucket counts", func(t *testing.T) {
		assert.Equal(t, DefaultBuckets, NewManager(0).Buckets())
	})
}
