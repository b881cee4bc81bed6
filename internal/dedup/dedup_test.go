package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenIdempotence(t *testing.T) {
	d := New(100)

	assert.False(t, d.Seen("wamid.abc"))
	assert.True(t, d.Seen("wamid.abc"))
	assert.True(t, d.Seen("wamid.abc"))
}

func TestEmptyIDNeverDuplicate(t *testing.T) {
	d := New(100)

	assert.False(t, d.Seen(""))
	assert.False(t, d.Seen(""))
	assert.Equal(t, 0, d.Len())
}

func TestOldestHalfEviction(t *testing.T) {
	const capacity = 10000
	d := New(capacity)

	ids := make([]string, capacity+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("msg-%05d", i)
	}

	for _, id := range ids {
		require.False(t, d.Seen(id))
	}

	// Inserting one past capacity evicted the oldest half in a single pass.
	require.Equal(t, capacity/2+1, d.Len())

	for _, id := range ids[:capacity/2] {
		assert.False(t, d.Seen(id), "evicted id %s should read as unseen", id)
	}
	for _, id := range ids[capacity : capacity+1] {
		assert.True(t, d.Seen(id))
	}
}

func TestRecentIDsSurviveEviction(t *testing.T) {
	d := New(4)

	for i := 0; i < 5; i++ {
		d.Seen(fmt.Sprintf("m%d", i))
	}

	// m0 and m1 were evicted, m2..m4 remain.
	assert.False(t, d.Seen("m0"))
	assert.True(t, d.Seen("m2"))
	assert.True(t, d.Seen("m3"))
	assert.True(t, d.Seen("m4"))
}

func TestConcurrentSeen(t *testing.T) {
	d := New(1000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.Seen(fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 800, d.Len())
}
