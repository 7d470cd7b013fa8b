// Package sui adapts Sui networks. Payloads are BCS TransactionData bytes,
// hashed with Keccak-256 and signed with Ed25519 over the intent digest.
package sui

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/roach88/txgate/internal/canonical"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// Family is the chain key prefix handled by this adapter.
const Family = "sui"

// RPC is a JSON-RPC 2.0 caller. *rpc.Client satisfies it.
type RPC interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

var _ RPC = (*rpc.Client)(nil)

// Adapter implements chain.Adapter for Sui networks.
type Adapter struct {
	clients   map[string]RPC
	key       ed25519.PrivateKey
	clock     confirm.Clock
	preflight bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRPC sets the full node client for network ("mainnet", "testnet", ...).
func WithRPC(network string, c RPC) Option {
	return func(a *Adapter) { a.clients[network] = c }
}

// WithSigner sets the Ed25519 signing key.
func WithSigner(key ed25519.PrivateKey) Option {
	return func(a *Adapter) { a.key = key }
}

// WithClock sets the clock used for SignedAtMs.
func WithClock(c confirm.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithPreflight turns the dry run before each submit on or off. Default: on.
func WithPreflight(on bool) Option {
	return func(a *Adapter) { a.preflight = on }
}

// New creates a Sui adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{clients: make(map[string]RPC), clock: confirm.SystemClock{}, preflight: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Family implements chain.Adapter.
func (a *Adapter) Family() string { return Family }

// Dial connects a JSON-RPC client per network.
func Dial(ctx context.Context, endpoints map[string]string) (map[string]RPC, error) {
	out := make(map[string]RPC, len(endpoints))
	for network, url := range endpoints {
		c, err := rpc.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial sui:%s: %w", network, err)
		}
		out[network] = c
	}
	return out, nil
}

// ParsePrivateKey decodes a hex Ed25519 seed (32 bytes) or full key
// (64 bytes), with or without 0x.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("sui key: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	}
	return nil, fmt.Errorf("sui key: want %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
}

// AddressOf derives the Sui address of an Ed25519 public key:
// blake2b-256(0x00 || pubkey).
func AddressOf(pub ed25519.PublicKey) Address {
	return Address(blake2b.Sum256(append([]byte{0x00}, pub...)))
}

// SummaryHash returns 0x-prefixed Keccak-256(domain || 0x00 || tx bytes).
func (a *Adapter) SummaryHash(payload []byte) (string, error) {
	if _, err := DecodeTransaction(payload); err != nil {
		return "", err
	}
	sum := canonical.Digest(sha3.NewLegacyKeccak256(), canonical.DomainSuiSummary, payload)
	return "0x" + hex.EncodeToString(sum), nil
}

// Inspect derives policy facts. Destinations are the Move packages called
// followed by transfer recipients; Value is the SUI split from the gas coin.
func (a *Adapter) Inspect(chainKey string, payload []byte, md confirm.Metadata) (policy.Facts, error) {
	tx, err := DecodeTransaction(payload)
	if err != nil {
		return policy.Facts{}, err
	}
	facts := policy.Facts{Mainnet: network(chainKey) == "mainnet"}
	for _, p := range tx.Packages() {
		facts.Destinations = append(facts.Destinations, p.String())
	}
	for _, r := range tx.Recipients() {
		facts.Destinations = append(facts.Destinations, r.String())
		if r != tx.Sender && !facts.HasFlag(policy.FlagNonOwnedDestination) {
			facts.Flags = append(facts.Flags, policy.FlagNonOwnedDestination)
		}
	}
	if v, ok := tx.GasCoinSplit(); ok {
		facts.Value = v
	}
	return facts, nil
}

// Describe renders a display summary of the transaction.
func (a *Adapter) Describe(payload []byte) (map[string]any, error) {
	tx, err := DecodeTransaction(payload)
	if err != nil {
		return nil, err
	}
	commands := make([]string, 0, len(tx.Commands))
	for _, c := range tx.Commands {
		if c.MoveCall != nil {
			commands = append(commands, fmt.Sprintf("%s::%s::%s", c.MoveCall.Package, c.MoveCall.Module, c.MoveCall.Function))
			continue
		}
		commands = append(commands, c.Kind)
	}
	recipients := make([]string, 0)
	for _, r := range tx.Recipients() {
		recipients = append(recipients, r.String())
	}
	out := map[string]any{
		"sender":     tx.Sender.String(),
		"gas_budget": tx.GasBudget,
		"gas_price":  tx.GasPrice,
		"commands":   commands,
		"recipients": recipients,
	}
	if v, ok := tx.GasCoinSplit(); ok {
		out["amount_mist"] = v.String()
	}
	return out, nil
}

func network(chainKey string) string {
	_, n, _ := strings.Cut(chainKey, ":")
	return n
}

func (a *Adapter) client(network string) (RPC, error) {
	c, ok := a.clients[network]
	if !ok {
		return nil, fmt.Errorf("no rpc endpoint configured for sui:%s", network)
	}
	return c, nil
}
