package testutil

import (
	"fmt"
	"sync"
)

// CountingNonces yields "nonce-1", "nonce-2", ... so record IDs are stable
// across test runs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type CountingNonces struct {
	mu sync.Mutex
	n  int
}

// Nonce implements confirm.NonceSource.
func (c *CountingNonces) Nonce() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("nonce-%d", c.n)
}
