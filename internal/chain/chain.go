// Package chain defines the capability set the engine needs from a chain
// family and a registry that resolves adapters by chain key.
//
// An adapter bundles three concerns: hashing a payload into its canonical
// summary, inspecting it for policy facts, and signing plus broadcasting it.
// Adapters must treat the payload as immutable input; the engine has already
// committed to its summary hash by the time SignAndBroadcast runs.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// ErrInvalidPayload marks payloads an adapter cannot decode.
var ErrInvalidPayload = errors.New("invalid payload")

// Hasher computes the canonical summary hash of a payload. It must be
// deterministic across calls and processes.
type Hasher interface {
	SummaryHash(payload []byte) (string, error)
}

// Inspector derives policy facts from a payload and its metadata.
type Inspector interface {
	Inspect(chainKey string, payload []byte, md confirm.Metadata) (policy.Facts, error)
}

// Broadcast is what SignAndBroadcast reports. On error the fields that
// were reached before the failure are still set.
type Broadcast struct {
	ID          string // transaction hash or signature
	SignedAtMs  int64
	RawTxPrefix string

	// Pre-execution simulation, for adapters that run one.
	DryRun      []byte // JSON document as returned by the node
	DryRunError string
}

// Broadcaster signs and submits a confirmed record.
type Broadcaster interface {
	SignAndBroadcast(ctx context.Context, rec *confirm.Record) (Broadcast, error)
}

// Adapter is the full capability set for one chain family.
type Adapter interface {
	Family() string
	Hasher
	Inspector
	Broadcaster
}

// Describer is optionally implemented by adapters that can render a
// display summary for create responses.
type Describer interface {
	Describe(payload []byte) (map[string]any, error)
}

// DependencyAdvisor is optionally implemented by adapters that understand
// why a dependent record waits on its primary. An empty result means the
// dependency no longer matters (for example the allowance is already
// sufficient).
type DependencyAdvisor interface {
	AdviseDependency(ctx context.Context, rec *confirm.Record, dep confirm.Dependency) string
}

// Refresher is optionally implemented by adapters whose payloads go stale
// between creation and a retry (nonce already used, fees below the current
// market). Refresh returns the payload to sign now; returning rec.Payload
// unchanged means nothing needs rebuilding.
type Refresher interface {
	Refresh(ctx context.Context, rec *confirm.Record) ([]byte, error)
}

// Registry maps chain families to adapters.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its family.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Family()] = a
}

// Resolve returns the adapter for chainKey ("evm:1" resolves "evm").
func (r *Registry) Resolve(chainKey string) (Adapter, error) {
	family, _, _ := strings.Cut(chainKey, ":")
	r.mu.RLock()
	a, ok := r.adapters[family]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter for chain %q", chainKey)
	}
	return a, nil
}

// Families lists registered families in sorted order.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for f := range r.adapters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Invalid wraps err as an ErrInvalidPayload.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
