package confirm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/txgate/internal/canonical"
)

// NonceSource supplies the random component mixed into record IDs.
type NonceSource interface {
	Nonce() string
}

// UUIDv7Source produces time-ordered random UUIDv7 nonces.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Source struct{}

// Nonce returns a new hyphenated UUIDv7. Panics if the system RNG fails.
func (UUIDv7Source) Nonce() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedSource returns predetermined nonces for deterministic tests.
// Thread-safe via an internal mutex.
type FixedSource struct {
	mu     sync.Mutex
	nonces []string
	idx    int
}

// NewFixedSource creates a source that returns nonces in order.
func NewFixedSource(nonces ...string) *FixedSource {
	return &FixedSource{nonces: nonces}
}

// Nonce returns the next predetermined nonce and panics once exhausted,
// which surfaces a test creating more records than it declared.
func (s *FixedSource) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.nonces) {
		panic("FixedSource: all nonces exhausted")
	}
	n := s.nonces[s.idx]
	s.idx++
	return n
}

// NewID derives a record ID of the form <family>_confirm_<createdMs>_<16 hex>.
// The suffix is a domain-separated SHA-256 over creation time, summary hash and
// nonce, so IDs are unguessable without the nonce.
func NewID(family string, createdAtMs int64, summaryHash, nonce string) string {
	h := canonical.MustHashObject(canonical.DomainRecordID, canonical.Object{
		"created_at_ms": createdAtMs,
		"nonce":         nonce,
		"summary_hash":  summaryHash,
	})
	return fmt.Sprintf("%s_confirm_%d_%s", family, createdAtMs, h[:16])
}

// Family returns the chain family of a chain key ("evm:1" -> "evm").
func Family(chainKey string) string {
	family, _, _ := strings.Cut(chainKey, ":")
	return family
}

// IDCreatedAtMs extracts the creation time embedded in an ID.
func IDCreatedAtMs(id string) (int64, bool) {
	_, rest, ok := strings.Cut(id, "_confirm_")
	if !ok {
		return 0, false
	}
	msPart, _, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, false
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
