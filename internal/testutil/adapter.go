package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/roach88/txgate/internal/canonical"
	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// FakePayload is the JSON payload understood by FakeAdapter.
type FakePayload struct {
	To    string        `json:"to"`
	Value string        `json:"value,omitempty"`
	Asset string        `json:"asset,omitempty"`
	Flags []policy.Flag `json:"flags,omitempty"`
	Nonce int           `json:"nonce,omitempty"`
}

// Payload encodes a FakePayload.
func Payload(to, value string, flags ...policy.Flag) []byte {
	b, err := json.Marshal(FakePayload{To: to, Value: value, Flags: flags})
	if err != nil {
		panic(err)
	}
	return b
}

// FakeAdapter is an in-memory chain.Adapter for engine tests. Chain keys
// "<family>:mainnet" are treated as mainnet.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeAdapter struct {
	family string

	mu      sync.Mutex
	calls   []string
	failing []error

	// Gate, when non-nil, blocks SignAndBroadcast until it is closed or
	// receives a value.
	Gate chan struct{}

	// Advice, when non-nil, makes the adapter a chain.DependencyAdvisor.
	Advice func(rec *confirm.Record, dep confirm.Dependency) string

	// RefreshPayload backs RefreshingAdapter.
	RefreshPayload func(rec *confirm.Record) ([]byte, error)

	// DryRun and DryRunError are reported with every broadcast, successful
	// or not.
	DryRun      []byte
	DryRunError string
}

// NewFakeAdapter creates a FakeAdapter for family.
func NewFakeAdapter(family string) *FakeAdapter {
	return &FakeAdapter{family: family}
}

// Family implements chain.Adapter.
func (f *FakeAdapter) Family() string { return f.family }

func decodeFake(payload []byte) (FakePayload, error) {
	var p FakePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, chain.Invalid("fake payload: %v", err)
	}
	if p.To == "" {
		return p, chain.Invalid("fake payload: missing to")
	}
	return p, nil
}

// SummaryHash implements chain.Hasher.
func (f *FakeAdapter) SummaryHash(payload []byte) (string, error) {
	p, err := decodeFake(payload)
	if err != nil {
		return "", err
	}
	obj := canonical.Object{"to": strings.ToLower(p.To), "nonce": p.Nonce}
	if p.Value != "" {
		obj["value"] = p.Value
	}
	if p.Asset != "" {
		obj["asset"] = p.Asset
	}
	h, err := canonical.HashObject("txgate/test-summary/v1", obj)
	if err != nil {
		return "", err
	}
	return "0x" + h, nil
}

// Inspect implements chain.Inspector.
func (f *FakeAdapter) Inspect(chainKey string, payload []byte, _ confirm.Metadata) (policy.Facts, error) {
	p, err := decodeFake(payload)
	if err != nil {
		return policy.Facts{}, err
	}
	facts := policy.Facts{
		Mainnet:      strings.HasSuffix(chainKey, ":mainnet"),
		Asset:        p.Asset,
		Destinations: []string{p.To},
		Flags:        p.Flags,
	}
	if p.Value != "" {
		v, ok := new(big.Int).SetString(p.Value, 10)
		if !ok {
			return policy.Facts{}, chain.Invalid("fake payload: bad value %q", p.Value)
		}
		facts.Value = v
	}
	return facts, nil
}

// FailNext queues errors returned by the next SignAndBroadcast calls.
func (f *FakeAdapter) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = append(f.failing, errs...)
}

// SignAndBroadcast implements chain.Broadcaster. Successful broadcasts
// return "0xbeef<n>" where n counts every call.
func (f *FakeAdapter) SignAndBroadcast(ctx context.Context, rec *confirm.Record) (chain.Broadcast, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return chain.Broadcast{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rec.ID)
	out := chain.Broadcast{DryRun: f.DryRun, DryRunError: f.DryRunError}
	if len(f.failing) > 0 {
		err := f.failing[0]
		f.failing = f.failing[1:]
		return out, err
	}
	out.ID = fmt.Sprintf("0xbeef%d", len(f.calls))
	out.RawTxPrefix = "0x02f8"
	return out, nil
}

// Calls returns the record ids passed to SignAndBroadcast, in order.
func (f *FakeAdapter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how many times SignAndBroadcast ran.
func (f *FakeAdapter) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// AdvisingAdapter wraps a FakeAdapter whose Advice is set so it satisfies
// chain.DependencyAdvisor.
type AdvisingAdapter struct {
	*FakeAdapter
}

// AdviseDependency implements chain.DependencyAdvisor.
func (a AdvisingAdapter) AdviseDependency(_ context.Context, rec *confirm.Record, dep confirm.Dependency) string {
	return a.Advice(rec, dep)
}

// RefreshingAdapter wraps a FakeAdapter whose RefreshPayload is set so it
// satisfies chain.Refresher.
type RefreshingAdapter struct {
	*FakeAdapter
}

// Refresh implements chain.Refresher.
func (a RefreshingAdapter) Refresh(_ context.Context, rec *confirm.Record) ([]byte, error) {
	return a.RefreshPayload(rec)
}

// BumpNonce is a RefreshPayload that raises the nonce of a FakePayload to
// at least minNonce, as a chain would after the original nonce was used.
func BumpNonce(minNonce int) func(rec *confirm.Record) ([]byte, error) {
	return func(rec *confirm.Record) ([]byte, error) {
		p, err := decodeFake(rec.Payload)
		if err != nil {
			return nil, err
		}
		if p.Nonce >= minNonce {
			return rec.Payload, nil
		}
		p.Nonce = minNonce
		return json.Marshal(p)
	}
}
