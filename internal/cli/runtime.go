package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	sol "github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/roach88/txgate/internal/audit"
	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/chain/evm"
	"github.com/roach88/txgate/internal/chain/solana"
	"github.com/roach88/txgate/internal/chain/sui"
	"github.com/roach88/txgate/internal/config"
	"github.com/roach88/txgate/internal/engine"
	"github.com/roach88/txgate/internal/pgstore"
	"github.com/roach88/txgate/internal/policy"
	"github.com/roach88/txgate/internal/store"
)

// Environment variables holding signing keys. They are read only here,
// never from the config file.
const (
	EnvEVMKey    = "TXGATE_EVM_PRIVATE_KEY"    // hex secp256k1
	EnvSolanaKey = "TXGATE_SOLANA_PRIVATE_KEY" // base58
	EnvSuiKey    = "TXGATE_SUI_PRIVATE_KEY"    // hex ed25519 seed or key
)

type storeCloser interface {
	engine.Store
	io.Closer
}

// runtime is everything a command needs to drive the engine.
type runtime struct {
	cfg     *config.Config
	store   storeCloser
	eval    *policy.Evaluator
	audit   *audit.Log
	engine  *engine.Engine
	closers []io.Closer
}

func openRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt := &runtime{cfg: cfg}

	polCfg := cfg.Policy
	if cfg.PolicyFile != "" {
		if polCfg, err = policy.LoadFile(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
	}
	if rt.eval, err = policy.NewEvaluator(polCfg); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	adapters := opts.Adapters
	if adapters == nil {
		if adapters, err = buildAdapters(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if rt.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.store)

	engineOpts := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithDefaultTTL(cfg.DefaultTTL.Std()),
		engine.WithConsumedStaleAfter(cfg.ConsumedStaleAfter.Std()),
		engine.WithSecondFactorMode(engine.SecondFactorMode(cfg.SecondFactorMode)),
	}
	if cfg.AuditLog != "" {
		if rt.audit, err = audit.Open(cfg.AuditLog); err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, rt.audit)
		engineOpts = append(engineOpts, engine.WithAudit(rt.audit))
	}

	rt.engine = engine.New(rt.store, chain.NewRegistry(adapters...), rt.eval, engineOpts...)
	return rt, nil
}

// Close releases the store and audit log.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			slog.Error("close failed", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storeCloser, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		slog.Debug("connecting to postgres")
		s, err := pgstore.Connect(ctx, cfg.Store.DSN, pgstore.WithInFlightWindow(cfg.Store.InFlightWindow.Std()))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		slog.Debug("opening database", "path", cfg.Store.Path)
		s, err := store.Open(cfg.Store.Path, store.WithInFlightWindow(cfg.Store.InFlightWindow.Std()))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}

// buildAdapters creates the EVM, Solana and Sui adapters with the
// configured endpoints and whichever signing keys are present in the
// environment. An adapter without a key can still stage and inspect
// transactions; only broadcasting fails.
func buildAdapters(ctx context.Context, cfg *config.Config) ([]chain.Adapter, error) {
	evmOpts := []evm.Option{evm.WithMainnets(cfg.EVM.Mainnets...)}
	backends, err := evm.Dial(ctx, cfg.EVMRPC())
	if err != nil {
		return nil, err
	}
	for id, b := range backends {
		evmOpts = append(evmOpts, evm.WithBackend(id, b))
	}
	if v := strings.TrimSpace(os.Getenv(EnvEVMKey)); v != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(v, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvEVMKey, err)
		}
		evmOpts = append(evmOpts, evm.WithSigner(key))
	}

	var solOpts []solana.Option
	for cluster, c := range solana.Dial(cfg.Solana.RPC) {
		solOpts = append(solOpts, solana.WithRPC(cluster, c))
	}
	if cfg.Solana.SkipPreflight {
		solOpts = append(solOpts, solana.WithSkipPreflight())
	}
	if v := strings.TrimSpace(os.Getenv(EnvSolanaKey)); v != "" {
		key, err := sol.PrivateKeyFromBase58(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvSolanaKey, err)
		}
		solOpts = append(solOpts, solana.WithSigner(key))
	}

	var suiOpts []sui.Option
	suiClients, err := sui.Dial(ctx, cfg.Sui.RPC)
	if err != nil {
		return nil, err
	}
	for network, c := range suiClients {
		suiOpts = append(suiOpts, sui.WithRPC(network, c))
	}
	if cfg.Sui.SkipDryRun {
		suiOpts = append(suiOpts, sui.WithPreflight(false))
	}
	if v := strings.TrimSpace(os.Getenv(EnvSuiKey)); v != "" {
		key, err := sui.ParsePrivateKey(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvSuiKey, err)
		}
		suiOpts = append(suiOpts, sui.WithSigner(key))
	}

	return []chain.Adapter{evm.New(evmOpts...), solana.New(solOpts...), sui.New(suiOpts...)}, nil
}

// withRuntime opens a runtime for the duration of fn. Failures to open are
// command errors.
func withRuntime(cmd *cobra.Command, opts *RootOptions, f *OutputFormatter, fn func(*runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, opts)
	if err != nil {
		return f.Fail("failed to start", err)
	}
	defer rt.Close()
	return fn(rt)
}
