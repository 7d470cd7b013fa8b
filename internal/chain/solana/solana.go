// Package solana adapts Solana clusters. Payloads are wire-format
// transactions; the summary hash covers only the message, so signature slots
// may be filled without changing it.
package solana

import (
	"context"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
)

// Family is the chain key prefix handled by this adapter.
const Family = "solana"

// RPC is the subset of *rpc.Client the adapter needs.
type RPC interface {
	SendTransactionWithOpts(ctx context.Context, tx *sol.Transaction, opts rpc.TransactionOpts) (sol.Signature, error)
}

var _ RPC = (*rpc.Client)(nil)

// Adapter implements chain.Adapter for Solana clusters.
type Adapter struct {
	clients  map[string]RPC
	key      *sol.PrivateKey
	clock    confirm.Clock
	mainnets map[string]bool
	opts     rpc.TransactionOpts
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRPC sets the RPC client for cluster ("mainnet-beta", "devnet", ...).
func WithRPC(cluster string, c RPC) Option {
	return func(a *Adapter) { a.clients[cluster] = c }
}

// WithSigner sets the fee payer key.
func WithSigner(key sol.PrivateKey) Option {
	return func(a *Adapter) { a.key = &key }
}

// WithClock sets the clock used for SignedAtMs.
func WithClock(c confirm.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithSkipPreflight disables simulation before submission.
func WithSkipPreflight() Option {
	return func(a *Adapter) { a.opts.SkipPreflight = true }
}

// New creates a Solana adapter. mainnet-beta is the only mainnet cluster.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		clients:  make(map[string]RPC),
		clock:    confirm.SystemClock{},
		mainnets: map[string]bool{"mainnet-beta": true, "mainnet": true},
		opts:     rpc.TransactionOpts{PreflightCommitment: rpc.CommitmentConfirmed},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Family implements chain.Adapter.
func (a *Adapter) Family() string { return Family }

// Dial creates an RPC client per cluster.
func Dial(endpoints map[string]string) map[string]RPC {
	out := make(map[string]RPC, len(endpoints))
	for cluster, url := range endpoints {
		out[cluster] = rpc.New(url)
	}
	return out
}

// DecodeTransaction parses wire-format transaction bytes.
func DecodeTransaction(payload []byte) (*sol.Transaction, error) {
	if len(payload) == 0 {
		return nil, chain.Invalid("solana payload is empty")
	}
	tx, err := sol.TransactionFromDecoder(bin.NewBinDecoder(payload))
	if err != nil {
		return nil, chain.Invalid("solana transaction: %v", err)
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil, chain.Invalid("solana transaction has no accounts")
	}
	return tx, nil
}

func cluster(chainKey string) string {
	_, c, _ := strings.Cut(chainKey, ":")
	return c
}

func (a *Adapter) client(cluster string) (RPC, error) {
	c, ok := a.clients[cluster]
	if !ok {
		return nil, fmt.Errorf("no rpc endpoint configured for solana:%s", cluster)
	}
	return c, nil
}
