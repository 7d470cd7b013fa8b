package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(1000)
	assert.Equal(t, int64(1000), clock.NowMs())

	assert.Equal(t, int64(2500), clock.Advance(1500*time.Millisecond))
	assert.Equal(t, int64(2500), clock.NowMs())

	clock.Set(10)
	assert.Equal(t, int64(10), clock.NowMs())
}

func TestManualClock_ConcurrentAdvance(t *testing.T) {
	clock := NewManualClock(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), clock.NowMs())
}

func TestCountingNonces(t *testing.T) {
	var n CountingNonces
	assert.Equal(t, "nonce-1", n.Nonce())
	assert.Equal(t, "nonce-2", n.Nonce())
}
