// Package evm adapts EVM chains: JSON transaction requests are hashed with
// Keccak-256 over a canonical summary, inspected for ERC-20 approvals and
// transfers, and signed as EIP-1559 transactions.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/roach88/txgate/internal/confirm"
)

// Family is the chain key prefix handled by this adapter.
const Family = "evm"

// Backend is the RPC surface the adapter needs. *ethclient.Client
// satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ Backend = (*ethclient.Client)(nil)

// Adapter implements chain.Adapter for EVM chains.
type Adapter struct {
	backends map[uint64]Backend
	key      *ecdsa.PrivateKey
	clock    confirm.Clock
	mainnets map[uint64]bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBackend sets the RPC backend for chainID.
func WithBackend(chainID uint64, b Backend) Option {
	return func(a *Adapter) { a.backends[chainID] = b }
}

// WithSigner sets the signing key.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(a *Adapter) { a.key = key }
}

// WithClock sets the clock used for SignedAtMs.
func WithClock(c confirm.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithMainnets replaces the set of chain ids treated as mainnet.
func WithMainnets(ids ...uint64) Option {
	return func(a *Adapter) {
		a.mainnets = make(map[uint64]bool, len(ids))
		for _, id := range ids {
			a.mainnets[id] = true
		}
	}
}

// DefaultMainnets are value-bearing production networks.
var DefaultMainnets = []uint64{1, 10, 56, 137, 324, 8453, 42161, 43114, 59144}

// New creates an EVM adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		backends: make(map[uint64]Backend),
		clock:    confirm.SystemClock{},
	}
	WithMainnets(DefaultMainnets...)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Family implements chain.Adapter.
func (a *Adapter) Family() string { return Family }

// Dial connects an ethclient per chain id.
func Dial(ctx context.Context, rpcURLs map[uint64]string) (map[uint64]Backend, error) {
	out := make(map[uint64]Backend, len(rpcURLs))
	for id, url := range rpcURLs {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial evm:%d: %w", id, err)
		}
		out[id] = c
	}
	return out, nil
}

func (a *Adapter) backend(chainID uint64) (Backend, error) {
	b, ok := a.backends[chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc backend configured for evm:%d", chainID)
	}
	return b, nil
}
