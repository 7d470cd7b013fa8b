package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/testutil"
)

const testStartMs = int64(1_700_000_000_000)

// createTestStore opens a fresh store in a temp dir driven by a manual clock.
func createTestStore(t *testing.T) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(testStartMs)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestRecord builds a pending record created at nowMs with a ttl.
func createTestRecord(id string, nowMs, ttlMs int64) *confirm.Record {
	return &confirm.Record{
		ID:          id,
		ChainKey:    "evm:1",
		Payload:     []byte(`{"to":"0xabc"}`),
		SummaryHash: "0x" + id,
		Status:      confirm.StatusPending,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
		ExpiresAtMs: nowMs + ttlMs,
	}
}
